package call

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// attachCallSubscriptions registers every per-call bridge listener for
// the session just created. They are all canceled on the terminal
// transition so no handler survives into the next call.
func (s *Service) attachCallSubscriptions() {
	sub := func(ev core.EventType, h core.EventHandler) {
		s.sess.subs = append(s.sess.subs, s.bridge.On(ev, h))
	}
	sub(core.EventCallAnswered, s.onRawCallAnswered)
	sub(core.EventRejectCall, s.onRawRejectCall)
	sub(core.EventEndCall, s.onRawEndCall)
	sub(core.EventOffer, s.onRawOffer)
	sub(core.EventAnswer, s.onRawAnswer)
	sub(core.EventICECandidate, s.onRawCandidate)
}

func decode[T any](raw json.RawMessage, event string) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Error().Err(err).Str("module", "call").Str("event", event).Msg("bad signaling payload")
		return v, false
	}
	return v, true
}

// onRawIncomingCall is the one persistent bridge subscription. A second
// incoming call while a session is live violates the single-active-call
// invariant: the existing session is untouched and the caller gets a
// reject so it is not left ringing.
func (s *Service) onRawIncomingCall(raw json.RawMessage) {
	p, ok := decode[core.IncomingCallPayload](raw, "incoming-call")
	if !ok {
		return
	}
	s.post(func() {
		if s.sess != nil && !s.sess.state.Terminal() {
			log.Warn().Str("module", "call").Str("call_id", string(p.CallID)).
				Msg("incoming call while busy, rejecting")
			if err := s.bridge.Send(core.EventRejectCall, core.RejectCallPayload{CallID: p.CallID}); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("busy reject send failed")
			}
			return
		}

		sess := newSession(p.CallID, domain.DirectionIncoming, p.Kind, domain.ParticipantInfo{
			UserID: p.CallerID,
			Name:   p.CallerName,
			Avatar: p.CallerAvatar,
			Kind:   p.Kind,
		}, s.now())
		sess.state = domain.StateIncomingRinging
		s.sess = sess
		s.attachCallSubscriptions()

		log.Info().Str("module", "call").Str("call_id", string(p.CallID)).
			Str("caller", string(p.CallerID)).Msg("incoming call")

		s.device.Start(p.Kind)
		s.emit()
	})
}

func (s *Service) onRawCallAnswered(raw json.RawMessage) {
	p, ok := decode[core.CallAnsweredPayload](raw, "call-answered")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) {
			log.Info().Err(core.ErrStaleCall).Str("module", "call").Str("call_id", string(p.CallID)).Msg("ignoring call-answered")
			return
		}
		if !p.Accepted {
			s.terminate(domain.EndReasonDeclined, nil, false)
			return
		}
		sess := s.sess
		if sess.direction != domain.DirectionOutgoing || sess.state != domain.StateOutgoingRinging || sess.engine == nil {
			log.Warn().Str("module", "call").Str("state", sess.state.String()).Msg("unexpected call-answered, ignoring")
			return
		}
		sess.state = domain.StateConnecting
		s.createOfferAsync(sess.id)
		s.emit()
	})
}

func (s *Service) onRawRejectCall(raw json.RawMessage) {
	p, ok := decode[core.RejectCallPayload](raw, "reject-call")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) {
			return
		}
		s.terminate(domain.EndReasonDeclined, nil, false)
	})
}

// onRawEndCall handles the inbound terminal event. It always wins a
// race against local work still in flight: the transition happens here
// and any later async result for this call id is discarded.
func (s *Service) onRawEndCall(raw json.RawMessage) {
	p, ok := decode[core.EndCallPayload](raw, "end-call")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) {
			log.Info().Err(core.ErrStaleCall).Str("module", "call").Str("call_id", string(p.CallID)).Msg("ignoring end-call")
			return
		}
		s.terminate(domain.EndReasonRemoteHangup, nil, false)
	})
}

func (s *Service) onRawOffer(raw json.RawMessage) {
	p, ok := decode[core.OfferPayload](raw, "webrtc-offer")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) || s.sess.engine == nil {
			return
		}
		sess := s.sess
		engine, ctx := sess.engine, sess.ctx
		go func() {
			answer, err := engine.ApplyRemoteOffer(ctx, p.Offer)
			s.post(func() { s.onLocalAnswerReady(p.CallID, answer, err) })
		}()
	})
}

func (s *Service) onRawAnswer(raw json.RawMessage) {
	p, ok := decode[core.AnswerPayload](raw, "webrtc-answer")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) || s.sess.engine == nil {
			return
		}
		sess := s.sess
		engine, ctx := sess.engine, sess.ctx
		go func() {
			if err := engine.ApplyRemoteAnswer(ctx, p.Answer); err != nil {
				s.post(func() { s.onNegotiationFailed(p.CallID, &core.NegotiationError{Op: "apply answer", Err: err}) })
			}
		}()
	})
}

// onRawCandidate applies one trickled candidate. A single candidate
// failing to apply is absorbed and logged; it does not terminate the
// call unless the connection itself later reports failure.
func (s *Service) onRawCandidate(raw json.RawMessage) {
	p, ok := decode[core.ICECandidatePayload](raw, "webrtc-ice-candidate")
	if !ok {
		return
	}
	s.post(func() {
		if !s.sess.matches(p.CallID) || s.sess.engine == nil {
			return
		}
		if err := s.sess.engine.AddRemoteCandidate(p.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("call_id", string(p.CallID)).Msg("ice candidate apply failed")
		}
	})
}

func (s *Service) createOfferAsync(id domain.CallID) {
	engine, ctx := s.sess.engine, s.sess.ctx
	go func() {
		offer, err := engine.CreateOffer(ctx)
		s.post(func() { s.onLocalOfferReady(id, offer, err) })
	}()
}

func (s *Service) onLocalOfferReady(id domain.CallID, offer domain.SessionDescription, err error) {
	if !s.sess.matches(id) {
		log.Info().Err(core.ErrStaleCall).Str("module", "call").Str("call_id", string(id)).Msg("discarding offer")
		return
	}
	if err != nil {
		s.onNegotiationFailed(id, &core.NegotiationError{Op: "create offer", Err: err})
		return
	}
	if sendErr := s.bridge.Send(core.EventOffer, core.OfferPayload{CallID: id, Offer: offer}); sendErr != nil {
		log.Warn().Err(sendErr).Str("module", "call").Msg("webrtc-offer send failed")
	}
}

func (s *Service) onLocalAnswerReady(id domain.CallID, answer domain.SessionDescription, err error) {
	if !s.sess.matches(id) {
		log.Info().Err(core.ErrStaleCall).Str("module", "call").Str("call_id", string(id)).Msg("discarding answer")
		return
	}
	if err != nil {
		s.onNegotiationFailed(id, &core.NegotiationError{Op: "apply offer", Err: err})
		return
	}
	if sendErr := s.bridge.Send(core.EventAnswer, core.AnswerPayload{CallID: id, Answer: answer}); sendErr != nil {
		log.Warn().Err(sendErr).Str("module", "call").Msg("webrtc-answer send failed")
	}
}

func (s *Service) onNegotiationFailed(id domain.CallID, err error) {
	if !s.sess.matches(id) {
		return
	}
	log.Error().Err(err).Str("module", "call").Str("call_id", string(id)).Msg("negotiation failed")
	s.terminate(domain.EndReasonNegotiation, err, true)
}

// engineCallbacks bridges pion worker-goroutine callbacks back onto the
// run loop, tagged with the call id so stale engines are ignored.
func (s *Service) engineCallbacks(id domain.CallID) core.EngineCallbacks {
	return core.EngineCallbacks{
		OnLocalCandidate: func(cand domain.ICECandidate) {
			s.post(func() {
				if !s.sess.matches(id) {
					return
				}
				if err := s.bridge.Send(core.EventICECandidate, core.ICECandidatePayload{CallID: id, Candidate: cand}); err != nil {
					log.Warn().Err(err).Str("module", "call").Msg("ice candidate send failed")
				}
			})
		},
		OnRemoteTrackAttached: func(track *webrtc.TrackRemote) {
			s.post(func() {
				if !s.sess.matches(id) {
					return
				}
				s.sess.remote = append(s.sess.remote, track)
				s.emit()
			})
		},
		OnConnectivityChanged: func(state core.ConnectivityState) {
			s.post(func() { s.onConnectivity(id, state) })
		},
	}
}

// onConnectivity applies transport-state policy: the engine reports raw
// states, the machine decides what is terminal.
func (s *Service) onConnectivity(id domain.CallID, state core.ConnectivityState) {
	if !s.sess.matches(id) {
		return
	}
	sess := s.sess
	log.Info().Str("module", "call").Str("call_id", string(id)).
		Str("connectivity", state.String()).Msg("connectivity changed")

	switch state {
	case core.ConnectivityConnected:
		if sess.state != domain.StateConnecting {
			return
		}
		sess.state = domain.StateConnected
		if sess.connectedAt.IsZero() {
			sess.connectedAt = s.now()
		}
		s.startTicker()
		s.emit()

	case core.ConnectivityDisconnected, core.ConnectivityFailed, core.ConnectivityClosed:
		if sess.state == domain.StateConnected {
			s.terminate(domain.EndReasonConnectivity, core.ErrConnectivityLost, true)
			return
		}
		if sess.state == domain.StateConnecting {
			s.terminate(domain.EndReasonNegotiation, core.ErrConnectFailed, true)
		}
	}
}
