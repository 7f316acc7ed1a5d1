// Package rtc adapts a pion PeerConnection to the core negotiation
// engine contract.
package rtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// Engine owns one peer connection for one negotiation attempt. It
// translates state machine requests into session-description/ICE
// operations and surfaces raw connectivity changes upward without
// interpreting them.
type Engine struct {
	pc *webrtc.PeerConnection
	cb core.EngineCallbacks

	mu        sync.Mutex
	pending   []domain.ICECandidate
	remoteSet bool
	offered   bool
	closed    bool
}

var _ core.NegotiationEngine = (*Engine)(nil)

func WebRTCConfig(servers []config.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, ice)
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return cfg
}

// NewEngine builds a peer connection with the local tracks attached and
// the outward callbacks wired.
func NewEngine(cfg webrtc.Configuration, media core.LocalMedia, cb core.EngineCallbacks) (*Engine, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	e := &Engine{pc: pc, cb: cb}

	if media != nil {
		for _, track := range media.TrackLocals() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || e.cb.OnLocalCandidate == nil {
			return
		}
		ci := cand.ToJSON()
		e.cb.OnLocalCandidate(domain.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track attached")
		if e.cb.OnRemoteTrackAttached != nil {
			e.cb.OnRemoteTrackAttached(track)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		if e.cb.OnConnectivityChanged != nil {
			e.cb.OnConnectivityChanged(mapConnectivity(s))
		}
	})

	return e, nil
}

// NewEngineFactory returns the per-call engine constructor used by the
// session service.
func NewEngineFactory(servers []config.ICEServer) core.EngineFactory {
	cfg := WebRTCConfig(servers)
	return func(media core.LocalMedia, cb core.EngineCallbacks) (core.NegotiationEngine, error) {
		return NewEngine(cfg, media, cb)
	}
}

func mapConnectivity(s webrtc.PeerConnectionState) core.ConnectivityState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.ConnectivityNew
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnectivityFailed
	default:
		return core.ConnectivityClosed
	}
}

// CreateOffer produces the local offer for this negotiation attempt.
// One offer per engine: a second call fails loudly instead of silently
// restarting negotiation.
func (e *Engine) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.SessionDescription{}, core.ErrEngineClosed
	}
	if e.offered {
		e.mu.Unlock()
		return domain.SessionDescription{}, core.ErrOfferOutstanding
	}
	e.offered = true
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return fromSDP(offer), nil
}

// ApplyRemoteOffer sets the remote offer, flushes any candidates that
// arrived early, and produces the local answer.
func (e *Engine) ApplyRemoteOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	sd, err := toSDP(offer)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	e.flushPending()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return fromSDP(answer), nil
}

func (e *Engine) ApplyRemoteAnswer(ctx context.Context, answer domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sd, err := toSDP(answer)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	e.flushPending()
	return nil
}

// AddRemoteCandidate applies a trickled candidate. Candidates arriving
// before the remote description exists are buffered, never dropped.
func (e *Engine) AddRemoteCandidate(cand domain.ICECandidate) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrEngineClosed
	}
	if !e.remoteSet {
		e.pending = append(e.pending, cand)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.pc.AddICECandidate(toCandidateInit(cand))
}

// flushPending applies candidates buffered before the remote
// description was available.
func (e *Engine) flushPending() {
	e.mu.Lock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, cand := range pending {
		if err := e.pc.AddICECandidate(toCandidateInit(cand)); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("buffered candidate apply failed")
		}
	}
}

// Close is idempotent: the state machine may reach it from more than
// one terminal-transition path.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
	}
}

func fromSDP(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toSDP(sd domain.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(strings.ToLower(sd.Type))
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: sd.SDP}, nil
}

func toCandidateInit(cand domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
}
