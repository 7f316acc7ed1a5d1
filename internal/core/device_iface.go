package core

import "github.com/petmatch/pawcall/internal/domain"

// DeviceController is the platform audio-routing collaborator
// (speaker/earpiece, keep-screen-on). All calls are fire-and-forget:
// failures are logged by the implementation, never fatal to the call.
type DeviceController interface {
	Start(kind domain.CallKind)
	Stop()
	SetSpeakerphone(on bool)
}
