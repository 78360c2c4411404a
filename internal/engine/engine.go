// Package engine assembles one game engine instance: the physics stepper,
// the driver between physics and game state, the rule processor, the
// lifecycle controller and discovery of the drones taking part.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/data"
	"github.com/dronearena/server/internal/discovery"
	"github.com/dronearena/server/internal/engine/driver"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/engine/rules"
	"github.com/dronearena/server/internal/handler"
	"github.com/dronearena/server/internal/lifecycle"
	"github.com/dronearena/server/internal/physics"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"github.com/dronearena/server/internal/scripting"
	"go.uber.org/zap"
)

const registerAttempts = 5

// Deps holds what an engine needs from the process around it.
type Deps struct {
	Config *config.Config
	// ConfigPath is re-read on every Config transition. Empty keeps Config.
	ConfigPath string
	Log        *zap.Logger
	Subscriber pubsub.Subscriber
	Publisher  pubsub.Publisher
	Discovery  discovery.Discoverer
	Scripting  *scripting.Engine // optional
	Address    string            // advertised in discovery
}

type Engine struct {
	deps      Deps
	log       *zap.Logger
	store     *physics.Store
	driver    *driver.Driver
	stepper   *physics.Stepper
	lifecycle *lifecycle.Controller
	publisher pubsub.Publisher

	// The rule set is selected once from the startup game mode.
	processor     *rules.Processor
	processorMode config.GameMode

	// set between a published winner and the Done transition
	finishPending atomic.Bool

	mu       sync.Mutex
	ctx      context.Context // run context for the stepper and processor
	settings config.Settings
	lobby    map[string]bool // drone names seen in discovery
	node     discovery.Node
}

// New builds an engine and wires its lifecycle and message handlers. Nothing
// runs until Run.
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil || deps.Log == nil || deps.Subscriber == nil ||
		deps.Publisher == nil || deps.Discovery == nil {
		return nil, errors.New("engine: config, log, subscriber, publisher and discovery are required")
	}
	cfg := deps.Config
	e := &Engine{
		deps:      deps,
		log:       deps.Log,
		store:     physics.NewStore(),
		lifecycle: lifecycle.New(deps.Log),
		ctx:       context.Background(),
		settings:  cfg.Settings(),
		lobby:     make(map[string]bool),
	}
	e.publisher = &gameOverPublisher{next: deps.Publisher, e: e}
	e.driver = driver.New(e.store, cfg.Arena.SteerAcceleration, deps.Log)
	e.stepper = physics.NewStepper(e.store, e.driver, physics.Config{
		BroadcastInterval: cfg.Physics.BroadcastInterval,
		MinTick:           cfg.Physics.MinTick,
		Gravity:           cfg.Physics.GravityVector(),
	}, deps.Log)

	var damage rules.DamageFunc
	if deps.Scripting != nil {
		damage = deps.Scripting.CalcBulletDamage
	}
	set, err := rules.NewRuleSet(cfg.Game.Mode, e.driver, e.publisher, damage, deps.Log)
	if err != nil {
		return nil, err
	}
	e.processor, err = rules.NewProcessor(set, e.driver.Events(), cfg.Rules.IntervalBatches, deps.Log)
	if err != nil {
		return nil, err
	}
	e.processorMode = cfg.Game.Mode
	e.processor.Configure(e.settings)

	if err := e.wireLifecycle(); err != nil {
		return nil, err
	}
	// stateupdates carries inbound kill requests. The engine's own kill
	// broadcasts come back on it too and are dropped by HandleKill, as the
	// entity is already gone.
	topics := []protocol.Topic{protocol.TopicMovements, protocol.TopicStateUpdates, protocol.TopicArchitecture}
	for _, t := range topics {
		if err := deps.Subscriber.AddTopic(t); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	handler.RegisterAll(deps.Subscriber, &handler.Deps{
		Config:    cfg,
		Log:       deps.Log,
		Driver:    e.driver,
		Lifecycle: e.lifecycle,
	})
	return e, nil
}

func (e *Engine) Driver() *driver.Driver { return e.driver }

func (e *Engine) Stepper() *physics.Stepper { return e.stepper }

func (e *Engine) Lifecycle() *lifecycle.Controller { return e.lifecycle }

// Settings returns the settings of the current game.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Node returns the discovery node the engine registered as.
func (e *Engine) Node() discovery.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node
}

// Lobby returns the names of the drones currently registered in discovery.
func (e *Engine) Lobby() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.lobby))
	for n := range e.lobby {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run registers the engine in discovery and watches for drones until ctx
// ends. The simulation itself is driven by lifecycle messages.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	cfg := e.deps.Config
	node, err := discovery.RegisterUnique(ctx, e.deps.Discovery, discovery.Node{
		Type:    cfg.Discovery.EngineType,
		Group:   cfg.Server.Group,
		Name:    cfg.Server.Name,
		Address: e.deps.Address,
	}, registerAttempts, e.log)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.node = node
	e.mu.Unlock()
	e.log.Info("game engine registered", zap.String("node", node.String()))

	filter := discovery.Filter{Type: cfg.Discovery.DroneType, Group: cfg.Server.Group}
	werr := e.deps.Discovery.Watch(ctx, filter, e.onNode)

	e.shutdown()
	uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Discovery.Unregister(uctx, node); err != nil {
		e.log.Warn("discovery unregister failed", zap.Error(err))
	}
	if werr != nil {
		return fmt.Errorf("watch drones: %w", werr)
	}
	return nil
}

func (e *Engine) shutdown() {
	e.stepper.Quit()
	e.processor.Quit()
	e.log.Info("game engine stopped", zap.Uint64("ticks", e.stepper.Ticks()))
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// onNode keeps the lobby in step with discovery. A drone that leaves is also
// taken out of a running game.
func (e *Engine) onNode(ev discovery.Event) {
	name := ev.Node.Name
	switch ev.Kind {
	case discovery.NodeAdded:
		e.mu.Lock()
		e.lobby[name] = true
		e.mu.Unlock()
		e.log.Info("drone joined lobby", zap.String("drone", name))
	case discovery.NodeRemoved:
		e.mu.Lock()
		delete(e.lobby, name)
		e.mu.Unlock()
		if id, ok := e.driver.Resolve(name); ok {
			if d, ok := e.driver.Remove(id); ok {
				e.driver.Post(d)
			}
		}
		e.log.Info("drone left", zap.String("drone", name))
	}
}

func (e *Engine) wireLifecycle() error {
	type hook struct {
		from   lifecycle.State
		action lifecycle.Action
		to     lifecycle.State
		fn     lifecycle.Handler
	}
	hooks := []hook{
		{lifecycle.StateInit, lifecycle.ActionConfig, lifecycle.StateConfig, e.configure},
		{lifecycle.StateDone, lifecycle.ActionConfig, lifecycle.StateConfig, e.configure},
		{lifecycle.StateConfig, lifecycle.ActionStart, lifecycle.StateRunning, e.start},
		{lifecycle.StateRunning, lifecycle.ActionPause, lifecycle.StatePaused, e.pause},
		{lifecycle.StatePaused, lifecycle.ActionResume, lifecycle.StateRunning, e.resume},
		{lifecycle.StateRunning, lifecycle.ActionStop, lifecycle.StateInit, e.stop},
		{lifecycle.StatePaused, lifecycle.ActionStop, lifecycle.StateInit, e.stop},
		{lifecycle.StateRunning, lifecycle.ActionGameOver, lifecycle.StateDone, e.finish},
	}
	for _, h := range hooks {
		if err := e.lifecycle.AddHandler(h.from, h.action, h.to, h.fn); err != nil {
			return err
		}
	}
	return nil
}

// configure prepares a new game: settings are reloaded, the world is
// emptied, then obstacles and every lobby drone are spawned.
func (e *Engine) configure() error {
	e.driver.SetPlaying(false)
	e.finishPending.Store(false)
	cfg := e.deps.Config
	if e.deps.ConfigPath != "" {
		loaded, err := config.Load(e.deps.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	settings := cfg.Settings()

	layout := data.EmptyLayout()
	if cfg.Arena.Layout != "" {
		l, err := data.LoadArenaLayout(cfg.Arena.Layout)
		if err != nil {
			return err
		}
		layout = l
	}
	if err := layout.Check(settings.Bounds); err != nil {
		return fmt.Errorf("arena layout: %w", err)
	}

	if settings.Mode != e.processorMode {
		e.log.Warn("game mode is chosen at startup, ignoring reloaded mode",
			zap.String("mode", string(e.processorMode)),
			zap.String("reloaded", string(settings.Mode)),
		)
		settings.Mode = e.processorMode
	}
	if settings.Mode == config.ModeTeamplay && len(settings.Teams) < 2 {
		return fmt.Errorf("teamplay needs at least two teams, got %d", len(settings.Teams))
	}
	e.processor.Configure(settings)

	if err := e.stepper.Reset(); err != nil {
		return err
	}
	e.driver.Reset()
	e.stepper.SetBroadcastInterval(settings.BroadcastInterval)

	for _, o := range layout.Obstacles {
		_, err := e.driver.Spawn(gamestate.GameEntity{
			Kind:     gamestate.KindObstacle,
			Size:     o.Size,
			Position: o.Position,
		}, "obstacle/"+o.Name)
		if err != nil {
			return err
		}
	}

	names := e.Lobby()
	for i, name := range names {
		d := gamestate.GameEntity{
			Kind:     gamestate.KindDrone,
			Size:     geom.Cube(cfg.Arena.DroneSize),
			Position: e.spawnPosition(layout, i, len(names), settings.Bounds),
			HP:       settings.MaxHealth,
		}
		if settings.Mode == config.ModeTeamplay {
			d.Team = settings.Teams[i%len(settings.Teams)]
		}
		if _, err := e.driver.Spawn(d, name); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.log.Info("game configured",
		zap.String("mode", string(settings.Mode)),
		zap.Int("drones", len(names)),
		zap.Int("obstacles", layout.Count()),
	)
	return nil
}

func (e *Engine) spawnPosition(layout *data.ArenaLayout, index, count int, bounds geom.Bounds) geom.Vector {
	if p, ok := layout.Spawn(index); ok {
		return p
	}
	if e.deps.Scripting != nil {
		return e.deps.Scripting.SpawnPosition(index, count, bounds)
	}
	return scripting.RingPosition(index, count, bounds)
}

func (e *Engine) start() error {
	proc := e.processor
	ctx := e.runContext()
	proc.ResetCountdown()
	e.driver.SetPlaying(true)
	if err := proc.Start(ctx); err != nil {
		e.driver.SetPlaying(false)
		return err
	}
	if err := e.stepper.Start(ctx); err != nil {
		e.driver.SetPlaying(false)
		proc.Quit()
		return err
	}
	return nil
}

func (e *Engine) pause() error {
	e.driver.SetPlaying(false)
	e.stepper.Quit()
	return nil
}

// resume restarts the clock. A winner published just as the game was
// paused is carried to Done now.
func (e *Engine) resume() error {
	if err := e.stepper.Start(e.runContext()); err != nil {
		return err
	}
	e.driver.SetPlaying(true)
	if e.finishPending.Load() {
		go e.gameOver()
	}
	return nil
}

// stop ends the game and empties the world.
func (e *Engine) stop() error {
	e.driver.SetPlaying(false)
	e.finishPending.Store(false)
	e.stepper.Quit()
	e.processor.Quit()
	if err := e.stepper.Reset(); err != nil {
		return err
	}
	e.driver.Reset()
	return nil
}

// finish ends the game but keeps the world until the next Config.
func (e *Engine) finish() error {
	e.driver.SetPlaying(false)
	e.finishPending.Store(false)
	e.stepper.Quit()
	e.processor.Quit()
	return nil
}

// gameOverPublisher moves the lifecycle to Done once a winner has been
// published. The transition runs on its own goroutine because it stops
// the processor that is publishing.
type gameOverPublisher struct {
	next pubsub.Publisher
	e    *Engine
}

func (p *gameOverPublisher) Publish(topic protocol.Topic, msg protocol.Message) error {
	err := p.next.Publish(topic, msg)
	if fin, ok := msg.(protocol.GameFinishedMessage); ok {
		p.e.log.Info("game finished", zap.String("winner", fin.Winner), zap.String("mode", fin.Mode))
		p.e.finishPending.Store(true)
		go p.e.gameOver()
	}
	return err
}

func (e *Engine) gameOver() {
	if err := e.lifecycle.Apply(lifecycle.ActionGameOver); err != nil {
		e.log.Warn("game over deferred", zap.Error(err))
	}
}
