// Package device is the platform audio-routing adapter. On platforms
// without an in-call manager it degrades to logging: routing failures
// are never fatal to a call.
package device

import (
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

type Controller struct{}

var _ core.DeviceController = (*Controller)(nil)

func NewController() *Controller {
	return &Controller{}
}

func (c *Controller) Start(kind domain.CallKind) {
	log.Info().Str("module", "device").Str("kind", string(kind)).Msg("in-call audio session started")
}

func (c *Controller) Stop() {
	log.Info().Str("module", "device").Msg("in-call audio session stopped")
}

func (c *Controller) SetSpeakerphone(on bool) {
	log.Info().Str("module", "device").Bool("speaker", on).Msg("speakerphone routing changed")
}
