package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCallInProgress rejects a start/answer command while another
	// session is still non-terminal.
	ErrCallInProgress = errors.New("another call is already in progress")

	// ErrNoActiveCall rejects a command that needs a live session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrStaleCall marks a signaling message or async result that
	// targets a call other than the currently active one. It represents
	// a race, not a failure: logged, never surfaced to the user.
	ErrStaleCall = errors.New("stale call id")

	// ErrOfferOutstanding is returned when CreateOffer is called while a
	// previous offer for the same negotiation attempt has not completed.
	// This is a programming error and is fatal to the call.
	ErrOfferOutstanding = errors.New("offer already outstanding")

	// ErrEngineClosed marks operations against a closed negotiation engine.
	ErrEngineClosed = errors.New("negotiation engine closed")

	// ErrDisposed marks commands issued after the session owner was torn down.
	ErrDisposed = errors.New("call service disposed")

	// ErrConnectivityLost reports a peer connection that dropped after
	// having been connected. Not retried: a new call must be started.
	ErrConnectivityLost = errors.New("peer connection lost")

	// ErrConnectFailed reports a transport that never reached the
	// connected state.
	ErrConnectFailed = errors.New("peer connection failed to connect")
)

// MediaError classifies a local capture failure (permission denied,
// device unavailable) so the UI can direct the user to settings instead
// of showing a generic call failure.
type MediaError struct {
	Reason string
	Err    error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("media acquisition failed: %s", e.Reason)
}

func (e *MediaError) Unwrap() error { return e.Err }

// NegotiationError classifies a session-description or ICE failure that
// left the peer connection unusable.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s failed: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
