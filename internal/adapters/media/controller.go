// Package media implements local capture resource management over pion
// local tracks. The capture pipeline (platform microphone/camera) feeds
// RTP into the acquired tracks; mute/video toggles gate the writes
// without renegotiating the peer connection.
package media

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

const trackStreamID = "pawcall"

// Controller builds local media handles under kind-specific
// constraints. Camera-switch capability is probed once at construction,
// not per call.
type Controller struct {
	constraints config.MediaConstraints
	cameraCount int
}

var _ core.MediaController = (*Controller)(nil)

func NewController(constraints config.MediaConstraints, cameraCount int) *Controller {
	return &Controller{constraints: constraints, cameraCount: cameraCount}
}

func (c *Controller) Capabilities() core.MediaCapabilities {
	return core.MediaCapabilities{CanSwitchCamera: c.cameraCount > 1}
}

// Acquire requests microphone (and camera for video calls). Failures
// are classified as *core.MediaError so the UI can distinguish "go fix
// permissions" from a generic call failure.
func (c *Controller) Acquire(ctx context.Context, kind domain.CallKind) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.MediaError{Reason: "acquisition canceled", Err: err}
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", trackStreamID)
	if err != nil {
		return nil, &core.MediaError{Reason: "microphone unavailable", Err: err}
	}

	m := &Media{
		audio:       audio,
		canSwitch:   c.cameraCount > 1,
		cameraCount: c.cameraCount,
	}
	m.audioOn.Store(true)

	if kind == domain.KindVideo {
		video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", trackStreamID)
		if err != nil {
			return nil, &core.MediaError{Reason: "camera unavailable", Err: err}
		}
		m.video = video
		m.videoOn.Store(true)
		log.Info().Str("module", "media").
			Int("width", c.constraints.VideoWidth).
			Int("height", c.constraints.VideoHeight).
			Int("frame_rate", c.constraints.VideoFrameRate).
			Msg("video capture acquired")
	}

	return m, nil
}

// Media is the handle over one call's local tracks. Enabled flags are
// atomic so the capture pipeline can check them on the RTP write path
// without a lock.
type Media struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	audioOn atomic.Bool
	videoOn atomic.Bool
	stopped atomic.Bool

	canSwitch   bool
	cameraCount int
	activeCam   atomic.Int32
}

var _ core.LocalMedia = (*Media)(nil)

func (m *Media) TrackLocals() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{m.audio}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

func (m *Media) ToggleAudio() bool {
	on := !m.audioOn.Load()
	m.audioOn.Store(on)
	return on
}

func (m *Media) ToggleVideo() bool {
	if m.video == nil {
		return false
	}
	on := !m.videoOn.Load()
	m.videoOn.Store(on)
	return on
}

// SwitchCamera rotates to the next capture device. Without the
// capability it is a silent no-op: the platform calling contract does
// not guarantee camera switching universally.
func (m *Media) SwitchCamera() {
	if !m.canSwitch || m.video == nil {
		return
	}
	next := (m.activeCam.Load() + 1) % int32(m.cameraCount)
	m.activeCam.Store(next)
	log.Info().Str("module", "media").Int32("camera", next).Msg("switched camera")
}

// ActiveCamera reports the index of the capture device in use.
func (m *Media) ActiveCamera() int {
	return int(m.activeCam.Load())
}

// Stop stops every track. Safe to call with already-stopped tracks.
func (m *Media) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	log.Info().Str("module", "media").Msg("local media stopped")
}

// Stopped reports whether the handle has been released.
func (m *Media) Stopped() bool {
	return m.stopped.Load()
}

// WriteAudioRTP is the capture pipeline entry point for audio frames.
// Writes are dropped while muted or after Stop.
func (m *Media) WriteAudioRTP(pkt *rtp.Packet) error {
	if m.stopped.Load() {
		return fmt.Errorf("write to stopped media")
	}
	if !m.audioOn.Load() {
		return nil
	}
	return m.audio.WriteRTP(pkt)
}

// WriteVideoRTP is the capture pipeline entry point for video frames.
func (m *Media) WriteVideoRTP(pkt *rtp.Packet) error {
	if m.stopped.Load() {
		return fmt.Errorf("write to stopped media")
	}
	if m.video == nil || !m.videoOn.Load() {
		return nil
	}
	return m.video.WriteRTP(pkt)
}
