package rtc

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/petmatch/pawcall/internal/config"
	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// testMedia satisfies the local media contract with one real audio
// track so offers carry a media section.
type testMedia struct {
	tracks []webrtc.TrackLocal
}

func newTestMedia(t *testing.T) *testMedia {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "rtc-test")
	require.NoError(t, err)
	return &testMedia{tracks: []webrtc.TrackLocal{audio}}
}

func (m *testMedia) TrackLocals() []webrtc.TrackLocal { return m.tracks }
func (m *testMedia) ToggleAudio() bool                { return true }
func (m *testMedia) ToggleVideo() bool                { return false }
func (m *testMedia) SwitchCamera()                    {}
func (m *testMedia) Stop()                            {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(WebRTCConfig(nil), newTestMedia(t), core.EngineCallbacks{})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func hostCandidate(port int) domain.ICECandidate {
	mid := "0"
	var line uint16
	return domain.ICECandidate{
		Candidate:     fmt.Sprintf("candidate:1 1 udp 2130706431 127.0.0.1 %d typ host", port),
		SDPMid:        &mid,
		SDPMLineIndex: &line,
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	caller := newTestEngine(t)
	callee := newTestEngine(t)

	ctx := context.Background()
	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	require.Equal(t, "offer", offer.Type)
	require.Contains(t, offer.SDP, "m=audio")

	answer, err := callee.ApplyRemoteOffer(ctx, offer)
	require.NoError(t, err)
	require.Equal(t, "answer", answer.Type)
	require.NotEmpty(t, answer.SDP)

	require.NoError(t, caller.ApplyRemoteAnswer(ctx, answer))
}

func TestSecondOfferFails(t *testing.T) {
	caller := newTestEngine(t)

	_, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)

	_, err = caller.CreateOffer(context.Background())
	require.ErrorIs(t, err, core.ErrOfferOutstanding)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	caller := newTestEngine(t)

	ctx := context.Background()
	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)

	// Shuffle the arrival order of the remote description and 0..3
	// trickled candidates. Whatever the interleaving, candidates that
	// beat the description must be accepted and held, and the handshake
	// must come out clean.
	rng := rand.New(rand.NewSource(0x5eed))
	for round := 0; round < 16; round++ {
		n := rng.Intn(4)
		order := rng.Perm(n + 1) // index n is the description, the rest are candidates
		t.Run(fmt.Sprintf("round_%d_candidates_%d", round, n), func(t *testing.T) {
			callee := newTestEngine(t)
			var answer domain.SessionDescription
			for _, ev := range order {
				if ev == n {
					var err error
					answer, err = callee.ApplyRemoteOffer(ctx, offer)
					require.NoError(t, err)
					continue
				}
				require.NoError(t, callee.AddRemoteCandidate(hostCandidate(50000+ev)))
			}
			require.Equal(t, "answer", answer.Type)

			// One more after the handshake applies directly, no buffering.
			require.NoError(t, callee.AddRemoteCandidate(hostCandidate(50100)))
		})
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	e := newTestEngine(t)
	e.Close()
	e.Close()

	_, err := e.CreateOffer(context.Background())
	require.ErrorIs(t, err, core.ErrEngineClosed)
	require.ErrorIs(t, e.AddRemoteCandidate(hostCandidate(50000)), core.ErrEngineClosed)
}

func TestApplyRemoteOfferRejectsBadType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ApplyRemoteOffer(context.Background(), domain.SessionDescription{Type: "bogus", SDP: "v=0"})
	require.Error(t, err)
}

func TestCreateOfferHonorsCanceledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.CreateOffer(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWebRTCConfigDefaultsToSTUN(t *testing.T) {
	cfg := WebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestWebRTCConfigCarriesTURNCredentials(t *testing.T) {
	cfg := WebRTCConfig([]config.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "pm", Credential: "secret"},
	})
	require.Len(t, cfg.ICEServers, 2)
	require.Equal(t, "pm", cfg.ICEServers[1].Username)
	require.Equal(t, "secret", cfg.ICEServers[1].Credential)
}
