package physics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/core/geom"
	coresys "github.com/dronearena/server/internal/core/system"
	"go.uber.org/zap"
)

// ErrRunning is returned by Start when the stepper is already running.
var ErrRunning = errors.New("stepper already running")

// State is the run state of a Stepper.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Config holds stepper tuning.
type Config struct {
	// BroadcastInterval is the simulated time between state snapshots.
	// Negative disables broadcasting.
	BroadcastInterval time.Duration
	// MinTick paces the loop: a tick shorter than MinTick is followed by a
	// sleep. Zero runs free.
	MinTick time.Duration
	// Gravity is the environment force applied to every entity.
	Gravity geom.Vector
}

// Stepper runs the physics tick loop on its own goroutine. Each tick applies
// the store's pending changes, integrates motion, detects collisions and
// periodically broadcasts state, in that order.
type Stepper struct {
	store      *Store
	observer   Observer
	gravity    geom.Vector
	minTick    time.Duration
	broadcast  atomic.Int64 // time.Duration
	runner     *coresys.Runner
	collisions *collisionSet
	log        *zap.Logger

	clock    func() time.Time
	lastTick time.Time
	ticks    atomic.Uint64
	state    atomic.Int32

	mu     sync.Mutex // protects cancel and done
	cancel context.CancelFunc
	done   chan struct{}

	sinceBroadcast time.Duration // stepper goroutine only
}

func NewStepper(store *Store, observer Observer, cfg Config, log *zap.Logger) *Stepper {
	s := &Stepper{
		store:      store,
		observer:   observer,
		gravity:    cfg.Gravity,
		minTick:    cfg.MinTick,
		collisions: newCollisionSet(),
		log:        log,
		clock:      time.Now,
	}
	s.broadcast.Store(int64(cfg.BroadcastInterval))

	s.runner = coresys.NewRunner()
	s.runner.Register(&changeStage{s})
	s.runner.Register(&integrateStage{s})
	s.runner.Register(&collideStage{s})
	s.runner.Register(&broadcastStage{s})
	return s
}

func (s *Stepper) Store() *Store { return s.store }

func (s *Stepper) State() State { return State(s.state.Load()) }

// Ticks returns the number of completed ticks since construction.
func (s *Stepper) Ticks() uint64 { return s.ticks.Load() }

// SetBroadcastInterval changes the snapshot interval. Negative disables
// broadcasting. Takes effect on the next tick.
func (s *Stepper) SetBroadcastInterval(d time.Duration) {
	s.broadcast.Store(int64(d))
}

// Start launches the tick loop. The loop runs until ctx is cancelled or Quit
// is called.
func (s *Stepper) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.lastTick = s.clock()
	s.sinceBroadcast = 0
	s.log.Info("physics stepper started",
		zap.Duration("broadcast_interval", time.Duration(s.broadcast.Load())),
		zap.Duration("min_tick", s.minTick),
	)
	go s.run(ctx, done)
	return nil
}

// Quit stops the loop after the current tick completes and waits for it to
// exit. Calling Quit on a stopped stepper is a no-op.
func (s *Stepper) Quit() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.log.Info("turning off physics stepper")
	cancel()
	<-done
}

// Reset empties the world and forgets every active collision without
// emitting stop events. It fails with ErrRunning unless the stepper is
// stopped.
func (s *Stepper) Reset() error {
	if s.State() != StateStopped {
		return ErrRunning
	}
	s.store.clear()
	s.collisions.reset()
	return nil
}

func (s *Stepper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.state.Store(int32(StateStopped))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("physics stepper has shut down", zap.Uint64("ticks", s.ticks.Load()))
			return
		default:
		}

		started := s.tick()

		if s.minTick > 0 {
			wait := s.minTick - s.clock().Sub(started)
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
				case <-t.C:
				}
			}
		}
	}
}

// tick runs one complete tick with the elapsed clock time as timestep.
func (s *Stepper) tick() time.Time {
	now := s.clock()
	dt := now.Sub(s.lastTick)
	s.lastTick = now

	s.runner.Tick(dt)
	s.store.publishSnapshot()
	s.ticks.Add(1)
	return now
}

func (s *Stepper) emitStart(a, b Entity) {
	if a.ID > b.ID {
		a, b = b, a
	}
	s.observer.CollisionStarted(a, b)
}

func (s *Stepper) emitStop(a, b Entity) {
	if a.ID > b.ID {
		a, b = b, a
	}
	s.observer.CollisionStopped(a, b)
}

// changeStage applies the pending buffer. Pairs that lose a member to a
// removal are closed with a stop event so every start has exactly one stop.
type changeStage struct{ s *Stepper }

func (st *changeStage) Phase() coresys.Phase { return coresys.PhaseChanges }

func (st *changeStage) Update(_ time.Duration) {
	s := st.s
	removed := s.store.ProcessChanges()
	if len(removed) == 0 {
		return
	}
	gone := make(map[int]Entity, len(removed))
	for _, e := range removed {
		gone[e.ID] = e
	}
	live := s.store.Entities()
	for _, e := range removed {
		for _, other := range s.collisions.partners(e.ID) {
			if !s.collisions.stop(makePair(e.ID, other)) {
				continue
			}
			if o, ok := live[other]; ok {
				s.emitStop(e, *o)
			} else if o, ok := gone[other]; ok {
				s.emitStop(e, o)
			}
		}
	}
}

// integrateStage advances every entity by explicit Euler integration. Each
// entity reads only its own state, so iteration order does not matter.
type integrateStage struct{ s *Stepper }

func (st *integrateStage) Phase() coresys.Phase { return coresys.PhaseIntegrate }

func (st *integrateStage) Update(dt time.Duration) {
	secs := dt.Seconds()
	for _, e := range st.s.store.Entities() {
		v := e.nextVelocity(st.s.gravity.Add(e.Acceleration), secs)
		e.Position = e.nextPosition(v, secs)
		e.Velocity = v
	}
}

// collideStage tests every unordered pair once, in ascending id order.
type collideStage struct{ s *Stepper }

func (st *collideStage) Phase() coresys.Phase { return coresys.PhaseCollide }

func (st *collideStage) Update(_ time.Duration) {
	s := st.s
	live := s.store.Entities()
	ids := s.store.sortedIDs()
	for i, a := range ids {
		ea := live[a]
		for _, b := range ids[i+1:] {
			eb := live[b]
			p := pair{a: a, b: b}
			if ea.Collides(*eb) {
				if s.collisions.start(p) {
					s.emitStart(*ea, *eb)
				}
			} else if s.collisions.stop(p) {
				s.emitStop(*ea, *eb)
			}
		}
	}
}

// broadcastStage emits a snapshot whenever the configured interval of
// simulated time has passed.
type broadcastStage struct{ s *Stepper }

func (st *broadcastStage) Phase() coresys.Phase { return coresys.PhaseBroadcast }

func (st *broadcastStage) Update(dt time.Duration) {
	s := st.s
	interval := time.Duration(s.broadcast.Load())
	if interval < 0 {
		return
	}
	s.sinceBroadcast += dt
	if s.sinceBroadcast >= interval {
		s.observer.StateBroadcast(s.store.CopyState())
		s.sinceBroadcast = 0
	}
}
