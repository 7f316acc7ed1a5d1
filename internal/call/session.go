package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

// session is the one CallSession a device may hold in a non-terminal
// state. It is created by a start command or an inbound incoming-call
// event, mutated only on the run loop, and discarded on the terminal
// transition. The local media handle and the negotiation engine are
// exclusively owned here.
type session struct {
	id        domain.CallID
	direction domain.Direction
	kind      domain.CallKind
	peer      domain.ParticipantInfo
	state     domain.LifecycleState

	media  core.LocalMedia
	engine core.NegotiationEngine
	remote []*webrtc.TrackRemote

	muted     bool
	videoOn   bool
	speakerOn bool

	startedAt   time.Time
	connectedAt time.Time
	endReason   domain.EndReason

	// ctx cancels in-flight media/negotiation work when the session
	// reaches the terminal state.
	ctx    context.Context
	cancel context.CancelFunc

	// subs are the per-call bridge subscriptions, removed on every
	// terminal transition so no handler leaks across calls.
	subs []core.Subscription
}

func newSession(id domain.CallID, dir domain.Direction, kind domain.CallKind, peer domain.ParticipantInfo, startedAt time.Time) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        id,
		direction: dir,
		kind:      kind,
		peer:      peer,
		state:     domain.StateIdle,
		videoOn:   kind == domain.KindVideo,
		startedAt: startedAt,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *session) snapshot(now time.Time) domain.Snapshot {
	snap := domain.Snapshot{
		CallID:         c.id,
		Direction:      c.direction,
		Kind:           c.kind,
		State:          c.state,
		StateName:      c.state.String(),
		Peer:           c.peer,
		IsMuted:        c.muted,
		IsVideoEnabled: c.videoOn,
		IsSpeakerOn:    c.speakerOn,
		HasLocalMedia:  c.media != nil,
		HasRemoteMedia: len(c.remote) > 0,
		ConnectedAt:    c.connectedAt,
		EndReason:      c.endReason,
	}
	if !c.connectedAt.IsZero() {
		end := now
		snap.DurationSeconds = int(end.Sub(c.connectedAt) / time.Second)
	}
	return snap
}

// matches guards every inbound event and async completion: messages for
// a different call id belong to a superseded or rejected call and are
// discarded entirely.
func (c *session) matches(id domain.CallID) bool {
	return c != nil && c.id == id && !c.state.Terminal()
}
