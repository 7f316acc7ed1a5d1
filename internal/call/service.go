// Package call implements the call session core: the authoritative
// state machine that turns a pair of users into a live audio/video
// session and tears it down without leaking media handles.
package call

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petmatch/pawcall/internal/core"
	"github.com/petmatch/pawcall/internal/domain"
)

const inboxSize = 256

// ErrorEvent is delivered on the error stream, distinct from the state
// stream, when a failure drives the session to the terminal state.
type ErrorEvent struct {
	CallID domain.CallID
	Err    error
}

// Options tunes service internals; zero value gives production behavior.
type Options struct {
	// Now overrides the wall clock, for tests.
	Now func() time.Time
	// TickInterval overrides the one-second duration tick, for tests.
	TickInterval time.Duration
}

// Service is the single-instance-per-device call session owner. All
// state lives behind one run-loop goroutine: commands, signaling events
// and async completions are serialized through the inbox in arrival
// order, so transition logic never needs a lock.
type Service struct {
	self    domain.User
	bridge  core.SignalingBridge
	media   core.MediaController
	engines core.EngineFactory
	device  core.DeviceController
	history core.HistorySink

	now          func() time.Time
	tickInterval time.Duration

	inbox  chan func()
	closed chan struct{}

	sess    *session
	ticker  *time.Ticker
	current atomic.Value // domain.Snapshot

	states *broadcaster[domain.Snapshot]
	errs   *broadcaster[ErrorEvent]

	incomingSub core.Subscription
}

// NewService wires the session owner and starts its run loop. The
// returned service holds one persistent bridge subscription (incoming
// calls); everything else is attached per call and detached on every
// terminal transition. Call Dispose to tear down.
func NewService(
	self domain.User,
	bridge core.SignalingBridge,
	media core.MediaController,
	engines core.EngineFactory,
	device core.DeviceController,
	history core.HistorySink,
	opts Options,
) *Service {
	s := &Service{
		self:         self,
		bridge:       bridge,
		media:        media,
		engines:      engines,
		device:       device,
		history:      history,
		now:          opts.Now,
		tickInterval: opts.TickInterval,
		inbox:        make(chan func(), inboxSize),
		closed:       make(chan struct{}),
		states:       newBroadcaster[domain.Snapshot](),
		errs:         newBroadcaster[ErrorEvent](),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tickInterval <= 0 {
		s.tickInterval = time.Second
	}
	s.current.Store(domain.Snapshot{State: domain.StateIdle, StateName: domain.StateIdle.String()})

	s.incomingSub = bridge.On(core.EventIncomingCall, s.onRawIncomingCall)

	go s.loop()
	return s
}

func (s *Service) loop() {
	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.inbox:
			fn()
		case <-s.tickC():
			s.onTick()
		}
	}
}

// tickC returns nil (never ready) while no duration ticker is running.
func (s *Service) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

// post hands work to the run loop. A full inbox drops the message: the
// core treats signaling delivery as best-effort and a backlog this deep
// means the session is already wedged.
func (s *Service) post(fn func()) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	default:
		log.Warn().Str("module", "call").Msg("inbox full, dropping event")
		return false
	}
}

// command runs fn on the loop and waits for its result.
func (s *Service) command(fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return core.ErrDisposed
	}
	select {
	case err := <-reply:
		return err
	case <-s.closed:
		return core.ErrDisposed
	}
}

// Snapshot returns the latest emitted session snapshot.
func (s *Service) Snapshot() domain.Snapshot {
	return s.current.Load().(domain.Snapshot)
}

// SubscribeStates registers for full-state snapshots. Slow subscribers
// miss intermediate snapshots rather than blocking the core.
func (s *Service) SubscribeStates(buf int) (<-chan domain.Snapshot, func()) {
	return s.states.subscribe(buf)
}

// SubscribeErrors registers for the error stream.
func (s *Service) SubscribeErrors(buf int) (<-chan ErrorEvent, func()) {
	return s.errs.subscribe(buf)
}

// Dispose ends any active call, removes every bridge subscription and
// stops the run loop. The service is unusable afterwards.
func (s *Service) Dispose() {
	_ = s.command(func() error {
		s.terminate(domain.EndReasonDisposed, nil, true)
		s.incomingSub.Cancel()
		close(s.closed)
		return nil
	})
}

func (s *Service) emit() {
	snap := s.snapshot()
	s.current.Store(snap)
	s.states.publish(snap)
}

func (s *Service) emitError(id domain.CallID, err error) {
	s.errs.publish(ErrorEvent{CallID: id, Err: err})
}

func (s *Service) snapshot() domain.Snapshot {
	if s.sess == nil {
		last, _ := s.current.Load().(domain.Snapshot)
		if last.State == domain.StateEnded {
			return last
		}
		return domain.Snapshot{State: domain.StateIdle, StateName: domain.StateIdle.String()}
	}
	return s.sess.snapshot(s.now())
}
