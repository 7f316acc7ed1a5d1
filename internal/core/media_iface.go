package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/petmatch/pawcall/internal/domain"
)

// MediaCapabilities is probed once at controller construction, not
// per-call. A missing capability downgrades the matching toggle to a
// silent no-op.
type MediaCapabilities struct {
	CanSwitchCamera bool
}

// MediaController acquires and releases local capture resources.
type MediaController interface {
	// Acquire requests microphone (and camera for video calls) under
	// kind-specific constraints. Failure is classified as *MediaError.
	Acquire(ctx context.Context, kind domain.CallKind) (LocalMedia, error)
	Capabilities() MediaCapabilities
}

// LocalMedia is the handle over acquired local tracks. It is exclusively
// owned by the active call session and must be stopped on any terminal
// transition.
type LocalMedia interface {
	// TrackLocals exposes the tracks for attachment to a peer connection.
	TrackLocals() []webrtc.TrackLocal

	// ToggleAudio flips the audio enabled flag without renegotiation and
	// returns the new enabled state.
	ToggleAudio() bool

	// ToggleVideo flips the video enabled flag without renegotiation and
	// returns the new enabled state.
	ToggleVideo() bool

	// SwitchCamera is best-effort: a no-op when the platform lacks the
	// capability.
	SwitchCamera()

	// Stop stops every track. Safe to call more than once.
	Stop()
}
