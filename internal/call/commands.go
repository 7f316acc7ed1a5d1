package call

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// StartCall begins an outgoing call. It validates the single-active-call
// invariant before any side effect: while another session is
// non-terminal the command is rejected, no call id is generated and the
// existing session is untouched.
func (s *Service) StartCall(peer domain.UserID, kind domain.CallKind) (domain.CallID, error) {
	var id domain.CallID
	err := s.command(func() error {
		if s.sess != nil && !s.sess.state.Terminal() {
			log.Warn().Str("module", "call").
				Str("state", s.sess.state.String()).
				Msg("startCall rejected, call already in progress")
			return core.ErrCallInProgress
		}

		id = domain.NewCallID()
		sess := newSession(id, domain.DirectionOutgoing, kind, domain.ParticipantInfo{
			UserID: peer,
			Kind:   kind,
		}, s.now())
		sess.state = domain.StateOutgoingRinging
		s.sess = sess
		s.attachCallSubscriptions()

		log.Info().Str("module", "call").Str("call_id", string(id)).
			Str("kind", string(kind)).Msg("starting outgoing call")

		s.device.Start(kind)
		s.acquireMediaAsync(id, kind)
		s.emit()
		return nil
	})
	return id, err
}

// AnswerCall accepts the ringing incoming call. The transition to
// Connecting is synchronous and optimistic; media acquisition continues
// asynchronously and a failure there terminates the session.
func (s *Service) AnswerCall() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state != domain.StateIncomingRinging {
			return core.ErrNoActiveCall
		}
		s.sess.state = domain.StateConnecting
		log.Info().Str("module", "call").Str("call_id", string(s.sess.id)).Msg("answering call")
		s.acquireMediaAsync(s.sess.id, s.sess.kind)
		s.emit()
		return nil
	})
}

// RejectCall declines the ringing incoming call. The reject message is
// fire-and-forget; the local transition to Ended never waits on it.
func (s *Service) RejectCall() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state != domain.StateIncomingRinging {
			return core.ErrNoActiveCall
		}
		if err := s.bridge.Send(core.EventRejectCall, core.RejectCallPayload{CallID: s.sess.id}); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("reject-call send failed")
		}
		s.terminate(domain.EndReasonRejected, nil, false)
		return nil
	})
}

// EndCall hangs up. Calling it with no active call (including right
// after the session already ended) is a no-op: no signaling is sent and
// no error is returned.
func (s *Service) EndCall() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state.Terminal() {
			return nil
		}
		s.terminate(domain.EndReasonLocalHangup, nil, true)
		return nil
	})
}

// ToggleMute flips the local audio track without renegotiating and
// emits the updated snapshot. Lifecycle state is untouched.
func (s *Service) ToggleMute() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state.Terminal() || s.sess.media == nil {
			return core.ErrNoActiveCall
		}
		s.sess.muted = !s.sess.media.ToggleAudio()
		s.emit()
		return nil
	})
}

// ToggleVideo flips the local video track without renegotiating.
func (s *Service) ToggleVideo() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state.Terminal() || s.sess.media == nil {
			return core.ErrNoActiveCall
		}
		s.sess.videoOn = s.sess.media.ToggleVideo()
		s.emit()
		return nil
	})
}

// SwitchCamera is best-effort: without the platform capability the
// underlying controller no-ops silently.
func (s *Service) SwitchCamera() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state.Terminal() || s.sess.media == nil {
			return core.ErrNoActiveCall
		}
		s.sess.media.SwitchCamera()
		return nil
	})
}

// ToggleSpeaker routes audio between speakerphone and earpiece via the
// platform device controller.
func (s *Service) ToggleSpeaker() error {
	return s.command(func() error {
		if s.sess == nil || s.sess.state.Terminal() {
			return core.ErrNoActiveCall
		}
		s.sess.speakerOn = !s.sess.speakerOn
		s.device.SetSpeakerphone(s.sess.speakerOn)
		s.emit()
		return nil
	})
}

// acquireMediaAsync requests local capture off the loop and posts the
// result back tagged with the call id, so a session that ended (or a
// different call) in the meantime discards it.
func (s *Service) acquireMediaAsync(id domain.CallID, kind domain.CallKind) {
	ctx := s.sess.ctx
	go func() {
		media, err := s.media.Acquire(ctx, kind)
		if !s.post(func() { s.onMediaAcquired(id, media, err) }) && media != nil {
			media.Stop()
		}
	}()
}

// onMediaAcquired runs on the loop once local capture resolved.
func (s *Service) onMediaAcquired(id domain.CallID, media core.LocalMedia, err error) {
	if !s.sess.matches(id) {
		// The session moved on while we were acquiring; the tracks
		// must not outlive it.
		if media != nil {
			media.Stop()
		}
		log.Info().Err(core.ErrStaleCall).Str("module", "call").Str("call_id", string(id)).Msg("discarding media acquisition")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("media acquisition failed")
		s.terminate(domain.EndReasonMediaFailure, err, true)
		return
	}

	sess := s.sess
	sess.media = media

	engine, err := s.engines(media, s.engineCallbacks(id))
	if err != nil {
		media.Stop()
		log.Error().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("peer connection setup failed")
		s.terminate(domain.EndReasonNegotiation, &core.NegotiationError{Op: "create", Err: err}, true)
		return
	}
	sess.engine = engine

	switch sess.direction {
	case domain.DirectionOutgoing:
		payload := core.InitiateCallPayload{
			CallID:     id,
			CalleeID:   sess.peer.UserID,
			Kind:       sess.kind,
			CallerName: s.self.DisplayName,
			Timestamp:  s.now().UnixMilli(),
		}
		if err := s.bridge.Send(core.EventInitiateCall, payload); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("initiate-call send failed")
		}
	case domain.DirectionIncoming:
		if err := s.bridge.Send(core.EventAnswerCall, core.AnswerCallPayload{CallID: id}); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("answer-call send failed")
		}
	}
	s.emit()
}

// terminate is the single path into the terminal state. It is safe to
// reach from any non-terminal state and from more than one failure
// path: every teardown step below is idempotent.
func (s *Service) terminate(reason domain.EndReason, cause error, notifyPeer bool) {
	sess := s.sess
	if sess == nil || sess.state.Terminal() {
		return
	}

	s.stopTicker()
	sess.cancel()

	if notifyPeer {
		if err := s.bridge.Send(core.EventEndCall, core.EndCallPayload{CallID: sess.id}); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("end-call send failed")
		}
	}

	if sess.engine != nil {
		sess.engine.Close()
	}
	if sess.media != nil {
		sess.media.Stop()
		sess.media = nil
	}
	sess.remote = nil

	for _, sub := range sess.subs {
		sub.Cancel()
	}
	sess.subs = nil

	s.device.Stop()

	endedAt := s.now()
	sess.state = domain.StateEnded
	sess.endReason = reason

	log.Info().Str("module", "call").Str("call_id", string(sess.id)).
		Str("reason", string(reason)).Msg("call ended")

	s.emit()
	if cause != nil {
		s.emitError(sess.id, cause)
	}

	if s.history != nil {
		rec := domain.HistoryRecord{
			CallID:      sess.id,
			Direction:   sess.direction,
			Kind:        sess.kind,
			PeerID:      sess.peer.UserID,
			StartedAt:   sess.startedAt,
			ConnectedAt: sess.connectedAt,
			EndedAt:     endedAt,
			EndReason:   reason,
		}
		if !sess.connectedAt.IsZero() {
			rec.DurationSeconds = int(endedAt.Sub(sess.connectedAt) / time.Second)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.history.Record(ctx, rec); err != nil {
				log.Warn().Err(err).Str("module", "call").Str("call_id", string(rec.CallID)).Msg("history record failed")
			}
		}()
	}

	s.sess = nil
}
