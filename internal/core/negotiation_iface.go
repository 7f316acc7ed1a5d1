package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/petmatch/pawcall/internal/domain"
)

// ConnectivityState is the raw transport connectivity surfaced by the
// negotiation engine. The engine reports, it never interprets: terminal
// policy lives in the state machine.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EngineCallbacks are the only outward signals of a negotiation engine.
// They may fire from pion worker goroutines; receivers must hand off to
// their own scheduling.
type EngineCallbacks struct {
	OnLocalCandidate      func(domain.ICECandidate)
	OnRemoteTrackAttached func(track *webrtc.TrackRemote)
	OnConnectivityChanged func(ConnectivityState)
}

// NegotiationEngine owns the peer connection for one negotiation attempt.
type NegotiationEngine interface {
	// CreateOffer must be called at most once per negotiation attempt; a
	// second call before the first completes fails with ErrOfferOutstanding.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)

	// ApplyRemoteOffer sets the remote offer and produces the local answer.
	ApplyRemoteOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)

	ApplyRemoteAnswer(ctx context.Context, answer domain.SessionDescription) error

	// AddRemoteCandidate applies a trickled candidate. Candidates arriving
	// before the remote description exists are buffered and applied once
	// the description is set, never dropped.
	AddRemoteCandidate(cand domain.ICECandidate) error

	// Close is idempotent: closing an already-closed engine is a no-op.
	Close()
}

// EngineFactory builds a negotiation engine with the local tracks
// attached and callbacks wired. One engine per negotiation attempt.
type EngineFactory func(media LocalMedia, cb EngineCallbacks) (NegotiationEngine, error)
