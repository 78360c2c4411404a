package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/discovery"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/lifecycle"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

const testConfig = `
[server]
name = "engine"
group = "g1"

[arena]
width = 20
depth = 20
height = 10
max_health = 100
drone_size = 0.5

[physics]
broadcast_interval = "5ms"
min_tick = "1ms"

[rules]
interval_batches = 1
`

type harness struct {
	engine *Engine
	bus    *pubsub.Local
	disc   *discovery.Memory
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.toml")
	if err := os.WriteFile(path, []byte(testConfig+extra), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	bus := pubsub.NewLocal(zap.NewNop())
	disc := discovery.NewMemory()
	e, err := New(Deps{
		Config:     cfg,
		ConfigPath: path,
		Log:        zap.NewNop(),
		Subscriber: bus,
		Publisher:  bus,
		Discovery:  disc,
		Address:    "127.0.0.1:0",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{engine: e, bus: bus, disc: disc, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	waitFor(t, "engine registration", func() bool { return e.Node().Name != "" })
	return h
}

func (h *harness) join(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		err := h.disc.Register(context.Background(), discovery.Node{Type: "drone", Group: "g1", Name: n})
		if err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "lobby", func() bool { return len(h.engine.Lobby()) == len(names) })
}

func (h *harness) apply(t *testing.T, action string) {
	t.Helper()
	if err := h.bus.Publish(protocol.TopicArchitecture, protocol.LifecycleMessage{Action: action}); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func countKind[T protocol.Message](msgs []protocol.Message) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

func TestRegistersInDiscovery(t *testing.T) {
	h := newHarness(t, "")
	nodes, err := h.disc.Find(context.Background(), discovery.Filter{Type: "gameengine"})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].Name != "engine" || nodes[0].Group != "g1" {
		t.Fatalf("nodes = %+v", nodes)
	}
}

func TestConfigSpawnsLobbyOnRing(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "alpha", "bravo", "charlie", "delta")

	h.apply(t, "config")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateConfig {
		t.Fatalf("state = %s", s)
	}

	drones := h.engine.Driver().State().Drones()
	if len(drones) != 4 {
		t.Fatalf("drones = %d", len(drones))
	}
	// radius 0.75 * min(20, 20) / 2 around (10, 10, 5)
	for _, d := range drones {
		r := math.Hypot(d.Position.X-10, d.Position.Y-10)
		if math.Abs(r-7.5) > 1e-9 || d.Position.Z != 5 {
			t.Fatalf("drone %s at %v", d.ProtocolID, d.Position)
		}
		if d.HP != 100 || d.Team != "" {
			t.Fatalf("drone = %+v", d)
		}
	}
}

func TestTeamplayDealsTeams(t *testing.T) {
	h := newHarness(t, "\n[game]\nmode = \"teamplay\"\nteams = [\"red\", \"blue\"]\n")
	h.join(t, "a", "b", "c")
	h.apply(t, "config")

	teams := map[string]int{}
	for _, d := range h.engine.Driver().State().Drones() {
		teams[d.Team]++
	}
	if teams["red"] != 2 || teams["blue"] != 1 {
		t.Fatalf("teams = %v", teams)
	}
}

func TestLayoutObstaclesSpawned(t *testing.T) {
	layout := filepath.Join(t.TempDir(), "layout.yaml")
	body := `
obstacles:
  - name: pillar
    position: {x: 5, y: 5, z: 5}
    size: {width: 1, depth: 1, height: 10}
spawns:
  - {x: 1, y: 1, z: 1}
`
	if err := os.WriteFile(layout, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, "")
	// the layout path lives in the [arena] table of the reloaded file
	path := h.engine.deps.ConfigPath
	cfgBody := `
[server]
name = "engine"
group = "g1"

[arena]
width = 20
depth = 20
height = 10
layout = "` + filepath.ToSlash(layout) + `"
`
	if err := os.WriteFile(path, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}
	h.join(t, "a", "b")
	h.apply(t, "config")

	obstacles := h.engine.Driver().State().Filter(func(e *gamestate.GameEntity) bool {
		return e.Kind == gamestate.KindObstacle
	})
	if len(obstacles) != 1 || obstacles[0].ProtocolID != "obstacle/pillar" {
		t.Fatalf("obstacles = %+v", obstacles)
	}
	id, ok := h.engine.Driver().Resolve("a")
	if !ok {
		t.Fatal("drone a not spawned")
	}
	a, _ := h.engine.Driver().State().Get(id)
	if a.Position.X != 1 || a.Position.Y != 1 || a.Position.Z != 1 {
		t.Fatalf("fixed spawn ignored: %v", a.Position)
	}
}

func TestBadReloadAbortsConfig(t *testing.T) {
	h := newHarness(t, "")
	if err := os.WriteFile(h.engine.deps.ConfigPath, []byte("[game]\nmode = \"nope\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.apply(t, "config")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateInit {
		t.Fatalf("state = %s, want init", s)
	}
}

func TestDeathmatchPlaysToGameOver(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "a", "b")
	h.apply(t, "config")
	h.apply(t, "start")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateRunning {
		t.Fatalf("state = %s", s)
	}

	// let the finish rule see both drones alive
	waitFor(t, "snapshots", func() bool {
		return countKind[protocol.StateMessage](h.bus.Published(protocol.TopicStateUpdates)) >= 4
	})

	bid, _ := h.engine.Driver().Resolve("b")
	b, _ := h.engine.Driver().State().Get(bid)
	err := h.bus.Publish(protocol.TopicMovements, protocol.FireBulletMessage{
		Identifier: "shot-1",
		FiredByID:  "a",
		Damage:     100,
		Position:   b.Position,
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "game over", func() bool { return h.engine.Lifecycle().State() == lifecycle.StateDone })

	var fin *protocol.GameFinishedMessage
	for _, m := range h.bus.Published(protocol.TopicStateUpdates) {
		if g, ok := m.(protocol.GameFinishedMessage); ok {
			fin = &g
		}
	}
	if fin == nil || fin.Winner != "a" || fin.Mode != "deathmatch" {
		t.Fatalf("game finished = %+v", fin)
	}
	updates := h.bus.Published(protocol.TopicStateUpdates)
	if countKind[protocol.DamageMessage](updates) == 0 || countKind[protocol.KillMessage](updates) == 0 {
		t.Fatal("damage or kill not published")
	}

	// a new game can be configured from Done
	h.apply(t, "config")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateConfig {
		t.Fatalf("state after reconfig = %s", s)
	}
	if n := len(h.engine.Driver().State().Drones()); n != 2 {
		t.Fatalf("drones after reconfig = %d", n)
	}
}

func TestInboundMessagesReachHandlers(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "a", "b")
	h.apply(t, "config")
	drv := h.engine.Driver()

	acc := geom.V(0, 1, 0)
	dir := geom.Polar{Azimuth: 1, Length: 1}
	target := geom.V(3, 4, 5)
	inbound := []struct {
		topic protocol.Topic
		msg   protocol.Message
	}{
		{protocol.TopicMovements, protocol.MovementMessage{Identifier: "a", Direction: &dir, Acceleration: &acc}},
		{protocol.TopicMovements, protocol.TargetMoveLocationMessage{Identifier: "a", Target: &target}},
		{protocol.TopicMovements, protocol.FireBulletMessage{Identifier: "shot-1", FiredByID: "a", Damage: 5, Position: geom.V(1, 1, 1)}},
		{protocol.TopicStateUpdates, protocol.KillMessage{Identifier: "b", EntityType: protocol.EntityDrone}},
	}
	for _, in := range inbound {
		if err := h.bus.Publish(in.topic, in.msg); err != nil {
			t.Fatalf("publish %T: %v", in.msg, err)
		}
	}

	aid, ok := drv.Resolve("a")
	if !ok {
		t.Fatal("drone a gone")
	}
	a, _ := drv.State().Get(aid)
	if a.Direction != dir || a.Acceleration != acc || a.Target == nil || *a.Target != target {
		t.Fatalf("drone a = %+v", a)
	}
	bid, ok := drv.Resolve("shot-1")
	if !ok {
		t.Fatal("bullet not spawned")
	}
	if b, _ := drv.State().Get(bid); b.OwnerID != aid {
		t.Fatalf("bullet owner = %d, want %d", b.OwnerID, aid)
	}
	if _, ok := drv.Resolve("b"); ok {
		t.Fatal("kill request did not remove drone b")
	}

	err := h.bus.Publish(protocol.TopicArchitecture, protocol.LifecycleMessage{Action: "start"})
	if err != nil {
		t.Fatal(err)
	}
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateRunning {
		t.Fatalf("state = %s", s)
	}
}

func TestFinishWhilePausedEndsOnResume(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "a", "b")
	h.apply(t, "config")
	h.apply(t, "start")
	waitFor(t, "snapshots", func() bool {
		return countKind[protocol.StateMessage](h.bus.Published(protocol.TopicStateUpdates)) >= 4
	})

	h.apply(t, "pause")
	err := h.disc.Unregister(context.Background(), discovery.Node{Type: "drone", Group: "g1", Name: "b"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "removal", func() bool {
		_, ok := h.engine.Driver().Resolve("b")
		return !ok
	})
	time.Sleep(20 * time.Millisecond)
	if s := h.engine.Lifecycle().State(); s != lifecycle.StatePaused {
		t.Fatalf("state while paused = %s", s)
	}

	h.apply(t, "resume")
	waitFor(t, "game over", func() bool { return h.engine.Lifecycle().State() == lifecycle.StateDone })

	var fin []protocol.GameFinishedMessage
	for _, m := range h.bus.Published(protocol.TopicStateUpdates) {
		if g, ok := m.(protocol.GameFinishedMessage); ok {
			fin = append(fin, g)
		}
	}
	if len(fin) != 1 || fin[0].Winner != "a" {
		t.Fatalf("game finished = %+v", fin)
	}
}

func TestPauseResumeStop(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "a", "b")
	h.apply(t, "config")
	h.apply(t, "start")
	waitFor(t, "ticks", func() bool { return h.engine.Stepper().Ticks() > 0 })

	h.apply(t, "pause")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StatePaused {
		t.Fatalf("state = %s", s)
	}
	ticks := h.engine.Stepper().Ticks()
	time.Sleep(20 * time.Millisecond)
	if got := h.engine.Stepper().Ticks(); got != ticks {
		t.Fatalf("stepper ticked while paused: %d -> %d", ticks, got)
	}

	h.apply(t, "resume")
	waitFor(t, "ticks after resume", func() bool { return h.engine.Stepper().Ticks() > ticks })

	h.apply(t, "stop")
	if s := h.engine.Lifecycle().State(); s != lifecycle.StateInit {
		t.Fatalf("state = %s", s)
	}
	if n := h.engine.Driver().State().Len(); n != 0 {
		t.Fatalf("entities after stop = %d", n)
	}
}

func TestDroneLeavingIsRemoved(t *testing.T) {
	h := newHarness(t, "")
	h.join(t, "a", "b")
	h.apply(t, "config")

	err := h.disc.Unregister(context.Background(), discovery.Node{Type: "drone", Group: "g1", Name: "b"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "removal", func() bool {
		_, ok := h.engine.Driver().Resolve("b")
		return !ok
	})
	if lobby := h.engine.Lobby(); len(lobby) != 1 || lobby[0] != "a" {
		t.Fatalf("lobby = %v", lobby)
	}
}
