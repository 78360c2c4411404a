package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/queue"
	"go.uber.org/zap"
)

// ErrRunning is returned by Start when the processor is already running.
var ErrRunning = errors.New("rule processor already running")

// Processor drains the event queue on its own goroutine. Every event is run
// through the main chain as a batch of one; after every N batches the
// interval chain runs on a batch holding a single IntervalTick.
type Processor struct {
	set    RuleSet
	events *queue.Queue[gameevent.Event]
	every  int64
	now    func() time.Time
	log    *zap.Logger

	mu        sync.Mutex // serializes batches and Configure
	countdown int64      // guarded by mu

	batches atomic.Uint64
	running atomic.Bool

	runMu  sync.Mutex // protects cancel and done
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor checks that both chains end in SendMessages.
func NewProcessor(set RuleSet, events *queue.Queue[gameevent.Event], every int, log *zap.Logger) (*Processor, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	if every <= 0 {
		return nil, fmt.Errorf("interval batches must be positive, got %d", every)
	}
	return &Processor{
		set:       set,
		events:    events,
		every:     int64(every),
		countdown: int64(every),
		now:       time.Now,
		log:       log,
	}, nil
}

// Configure hands s to every rule. It waits for the batch in progress.
func (p *Processor) Configure(s config.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.set.Rules() {
		r.Configure(s)
	}
}

// ResetCountdown restarts the interval countdown.
func (p *Processor) ResetCountdown() {
	p.mu.Lock()
	p.countdown = p.every
	p.mu.Unlock()
}

// Batches returns the number of main-chain batches processed.
func (p *Processor) Batches() uint64 { return p.batches.Load() }

func (p *Processor) Running() bool { return p.running.Load() }

func (p *Processor) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.runMu.Lock()
	p.cancel = cancel
	p.done = done
	p.runMu.Unlock()

	p.log.Info("rule processor started",
		zap.Int("main_rules", len(p.set.Main)),
		zap.Int("interval_rules", len(p.set.Interval)),
		zap.Int64("interval_batches", p.every),
	)
	go p.run(ctx, done)
	return nil
}

// Quit stops the loop after the batch in progress and waits for it. Events
// still queued stay queued.
func (p *Processor) Quit() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer p.running.Store(false)

	for {
		ev, err := p.events.Take(ctx)
		if err != nil {
			p.log.Info("rule processor has shut down", zap.Uint64("batches", p.batches.Load()))
			return
		}
		p.step(ev)
	}
}

// step processes one dequeued event and, when due, the interval chain.
func (p *Processor) step(ev gameevent.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runChain("main", p.set.Main, []gameevent.Event{ev})
	p.batches.Add(1)

	p.countdown--
	if p.countdown > 0 {
		return
	}
	p.countdown = p.every
	p.runChain("interval", p.set.Interval, []gameevent.Event{gameevent.IntervalTick{At: p.now()}})
}

// runChain feeds batch through chain. A panicking rule drops the batch.
func (p *Processor) runChain(name string, chain []Rule, batch []gameevent.Event) {
	var current Rule
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("rule panic recovered, batch dropped",
				zap.String("chain", name),
				zap.String("rule", fmt.Sprintf("%T", current)),
				zap.Any("panic", rec),
			)
		}
	}()
	for _, r := range chain {
		current = r
		batch = r.Process(batch)
	}
}
