package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

func TestDurationDerivedFromConnectedAt(t *testing.T) {
	f := newFixture(t)

	states, cancel := f.svc.SubscribeStates(64)
	defer cancel()

	connectOutgoing(t, f)
	connectedAt := f.svc.Snapshot().ConnectedAt
	require.Equal(t, f.now(), connectedAt)

	// The ticker fires on wall time but the reported duration comes from
	// the injected clock, so one tick after advancing shows the jump.
	f.advance(65 * time.Second)

	deadline := time.After(waitFor)
	for {
		select {
		case snap := <-states:
			if snap.State == domain.StateConnected && snap.DurationSeconds == 65 {
				require.Equal(t, connectedAt, snap.ConnectedAt)
				return
			}
		case <-deadline:
			t.Fatalf("never saw a 65s duration tick, last snapshot: %+v", f.svc.Snapshot())
		}
	}
}

func TestHistoryRecordedOnHangup(t *testing.T) {
	f := newFixture(t)
	id := connectOutgoing(t, f)

	f.advance(30 * time.Second)
	require.NoError(t, f.svc.EndCall())
	f.waitState(t, domain.StateEnded)

	require.Eventually(t, func() bool {
		return len(f.sink.Records()) == 1
	}, waitFor, tick)

	rec := f.sink.Records()[0]
	require.Equal(t, id, rec.CallID)
	require.Equal(t, domain.DirectionOutgoing, rec.Direction)
	require.Equal(t, domain.UserID("peer-1"), rec.PeerID)
	require.Equal(t, domain.EndReasonLocalHangup, rec.EndReason)
	require.Equal(t, 30, rec.DurationSeconds)
	require.False(t, rec.ConnectedAt.IsZero())
}

func TestHistoryRecordsUnansweredCall(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.StartCall("peer-1", domain.KindVoice)
	require.NoError(t, err)
	f.waitSent(t, core.EventInitiateCall, 1)

	f.bridge.inject(t, core.EventCallAnswered, core.CallAnsweredPayload{CallID: id, Accepted: false})
	f.waitState(t, domain.StateEnded)
	require.Equal(t, domain.EndReasonDeclined, f.svc.Snapshot().EndReason)

	require.Eventually(t, func() bool {
		return len(f.sink.Records()) == 1
	}, waitFor, tick)
	rec := f.sink.Records()[0]
	require.True(t, rec.ConnectedAt.IsZero())
	require.Zero(t, rec.DurationSeconds)
}

func TestTerminalTransitionReleasesEverything(t *testing.T) {
	f := newFixture(t)
	connectOutgoing(t, f)

	media := f.mediaC.acquired[0]
	engine := f.engines.last()

	require.NoError(t, f.svc.EndCall())
	f.waitState(t, domain.StateEnded)

	require.True(t, media.Stopped())
	require.Equal(t, 1, engine.closedCount())

	snap := f.svc.Snapshot()
	require.False(t, snap.HasLocalMedia)
	require.False(t, snap.HasRemoteMedia)

	// Per-call subscriptions are gone; only the persistent incoming-call
	// listener remains on the bridge.
	require.Zero(t, f.bridge.handlerCount(core.EventCallAnswered))
	require.Zero(t, f.bridge.handlerCount(core.EventOffer))
	require.Zero(t, f.bridge.handlerCount(core.EventICECandidate))
	require.Equal(t, 1, f.bridge.handlerCount(core.EventIncomingCall))

	require.Eventually(t, func() bool {
		f.device.mu.Lock()
		defer f.device.mu.Unlock()
		return f.device.stops == 1
	}, waitFor, tick)
}

func TestDisposeEndsCallAndStopsService(t *testing.T) {
	f := newFixture(t)
	connectOutgoing(t, f)

	f.svc.Dispose()

	snap := f.svc.Snapshot()
	require.Equal(t, domain.StateEnded, snap.State)
	require.Equal(t, domain.EndReasonDisposed, snap.EndReason)
	require.Len(t, f.bridge.sentOf(core.EventEndCall), 1, "peer is told on dispose")
	require.Zero(t, f.bridge.handlerCount(core.EventIncomingCall))

	_, err := f.svc.StartCall("peer-2", domain.KindVoice)
	require.ErrorIs(t, err, core.ErrDisposed)
}

func TestConnectivityLossTerminatesConnectedCall(t *testing.T) {
	f := newFixture(t)
	id := connectOutgoing(t, f)

	errs, cancel := f.svc.SubscribeErrors(4)
	defer cancel()

	f.engines.last().connectivity(core.ConnectivityFailed)
	f.waitState(t, domain.StateEnded)
	require.Equal(t, domain.EndReasonConnectivity, f.svc.Snapshot().EndReason)

	select {
	case ev := <-errs:
		require.Equal(t, id, ev.CallID)
		require.ErrorIs(t, ev.Err, core.ErrConnectivityLost)
	case <-time.After(waitFor):
		t.Fatal("expected a connectivity error on the error stream")
	}
}

func TestConnectivityFailureDuringConnecting(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.StartCall("peer-1", domain.KindVoice)
	require.NoError(t, err)
	f.waitSent(t, core.EventInitiateCall, 1)
	f.bridge.inject(t, core.EventCallAnswered, core.CallAnsweredPayload{CallID: id, Accepted: true})
	f.waitState(t, domain.StateConnecting)

	f.engines.last().connectivity(core.ConnectivityFailed)
	f.waitState(t, domain.StateEnded)
	require.Equal(t, domain.EndReasonNegotiation, f.svc.Snapshot().EndReason)
}

func TestToggleSpeakerRoutesDevice(t *testing.T) {
	f := newFixture(t)
	connectOutgoing(t, f)

	require.NoError(t, f.svc.ToggleSpeaker())
	require.Eventually(t, func() bool { return f.svc.Snapshot().IsSpeakerOn }, waitFor, tick)

	f.device.mu.Lock()
	speakers := append([]bool(nil), f.device.speakers...)
	f.device.mu.Unlock()
	require.Equal(t, []bool{true}, speakers)
}
