package handler

import (
	"testing"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/driver"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/lifecycle"
	"github.com/dronearena/server/internal/physics"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newDeps(t *testing.T) (*Deps, *physics.Store) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Rules.BulletSize = 0.1
	store := physics.NewStore()
	return &Deps{
		Config:    cfg,
		Log:       zap.NewNop(),
		Driver:    driver.New(store, 2, zap.NewNop()),
		Lifecycle: lifecycle.New(zap.NewNop()),
	}, store
}

func spawnDrone(t *testing.T, deps *Deps, pid string) int {
	t.Helper()
	id, err := deps.Driver.Spawn(gamestate.GameEntity{
		Kind: gamestate.KindDrone,
		Size: geom.Cube(0.5),
		HP:   100,
	}, pid)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestRegisterAllDispatchesByKind(t *testing.T) {
	deps, _ := newDeps(t)
	id := spawnDrone(t, deps, "d1")

	reg := pubsub.NewRegistry(zap.NewNop())
	if err := reg.AddTopic(protocol.TopicMovements); err != nil {
		t.Fatal(err)
	}
	RegisterAll(reg, deps)

	acc := geom.V(1, 0, 0)
	if err := reg.Dispatch(protocol.MovementMessage{Identifier: "d1", Acceleration: &acc}); err != nil {
		t.Fatal(err)
	}
	e, _ := deps.Driver.State().Get(id)
	if e.Acceleration != acc {
		t.Fatalf("acceleration = %v", e.Acceleration)
	}
}

func TestMovementUpdatesDirectionAndAcceleration(t *testing.T) {
	deps, store := newDeps(t)
	id := spawnDrone(t, deps, "d1")
	store.ProcessChanges()

	dir := geom.Polar{Azimuth: 1, Length: 1}
	acc := geom.V(0, 2, 0)
	HandleMovement(protocol.MovementMessage{Identifier: "d1", Direction: &dir, Acceleration: &acc}, deps)

	e, _ := deps.Driver.State().Get(id)
	if e.Direction != dir || e.Acceleration != acc {
		t.Fatalf("entity = %+v", e)
	}
	store.ProcessChanges()
	if got := store.Entities()[id].Acceleration; got != acc {
		t.Fatalf("store acceleration = %v", got)
	}
}

func TestMovementOnlyDirectionKeepsAcceleration(t *testing.T) {
	deps, store := newDeps(t)
	id := spawnDrone(t, deps, "d1")
	acc := geom.V(3, 0, 0)
	deps.Driver.SetAcceleration(id, acc)
	store.ProcessChanges()

	dir := geom.Polar{Elevation: 0.5, Length: 1}
	HandleMovement(protocol.MovementMessage{Identifier: "d1", Direction: &dir}, deps)

	if store.Pending() != 0 {
		t.Fatalf("direction-only movement queued %d store changes", store.Pending())
	}
	e, _ := deps.Driver.State().Get(id)
	if e.Acceleration != acc || e.Direction != dir {
		t.Fatalf("entity = %+v", e)
	}
}

func TestUnknownIdentityIsDropped(t *testing.T) {
	deps, store := newDeps(t)
	acc := geom.V(1, 1, 1)
	target := geom.V(5, 5, 5)

	HandleMovement(protocol.MovementMessage{Identifier: "ghost", Acceleration: &acc}, deps)
	HandleTargetMoveLocation(protocol.TargetMoveLocationMessage{Identifier: "ghost", Target: &target}, deps)
	HandleKill(protocol.KillMessage{Identifier: "ghost"}, deps)
	HandleFireBullet(protocol.FireBulletMessage{Identifier: "b1", FiredByID: "ghost", Damage: 10}, deps)

	if store.Pending() != 0 || deps.Driver.State().Len() != 0 || deps.Driver.Events().Len() != 0 {
		t.Fatal("unresolvable message reached the world")
	}
}

func TestFireBulletSpawnsOwnedBullet(t *testing.T) {
	deps, store := newDeps(t)
	owner := spawnDrone(t, deps, "shooter")

	HandleFireBullet(protocol.FireBulletMessage{
		Identifier: "b1",
		FiredByID:  "shooter",
		Damage:     25,
		Position:   geom.V(1, 1, 1),
		Velocity:   geom.V(10, 0, 0),
	}, deps)

	id, ok := deps.Driver.Resolve("b1")
	if !ok {
		t.Fatal("bullet not mapped")
	}
	b, _ := deps.Driver.State().Get(id)
	if b.Kind != gamestate.KindBullet || b.OwnerID != owner || b.Damage != 25 || b.Size != geom.Cube(0.1) {
		t.Fatalf("bullet = %+v", b)
	}
	store.ProcessChanges()
	if got := store.Entities()[id].Velocity; got != geom.V(10, 0, 0) {
		t.Fatalf("store velocity = %v", got)
	}

	// the same identity again is dropped
	HandleFireBullet(protocol.FireBulletMessage{Identifier: "b1", FiredByID: "shooter", Damage: 1}, deps)
	if deps.Driver.State().Len() != 2 {
		t.Fatalf("entities = %d", deps.Driver.State().Len())
	}
}

func TestTargetMoveLocation(t *testing.T) {
	deps, _ := newDeps(t)
	id := spawnDrone(t, deps, "d1")
	target := geom.V(10, 0, 0)

	HandleTargetMoveLocation(protocol.TargetMoveLocationMessage{Identifier: "d1", Target: &target}, deps)
	e, _ := deps.Driver.State().Get(id)
	if e.Target == nil || *e.Target != target {
		t.Fatalf("target = %v", e.Target)
	}

	HandleTargetMoveLocation(protocol.TargetMoveLocationMessage{Identifier: "d1"}, deps)
	e, _ = deps.Driver.State().Get(id)
	if e.Target != nil {
		t.Fatalf("target not cleared: %v", *e.Target)
	}
}

func TestKillRemovesAndPostsDestroyed(t *testing.T) {
	deps, _ := newDeps(t)
	id := spawnDrone(t, deps, "d1")

	HandleKill(protocol.KillMessage{Identifier: "d1", EntityType: protocol.EntityDrone}, deps)

	if deps.Driver.State().Exists(id) {
		t.Fatal("drone still in state")
	}
	ev, ok := deps.Driver.Events().TryTake()
	if !ok {
		t.Fatal("no event posted")
	}
	d, ok := ev.(gameevent.Destroyed)
	if !ok || d.ID != id || d.ProtocolID != "d1" {
		t.Fatalf("event = %#v", ev)
	}
}

func TestLifecycleAppliesAction(t *testing.T) {
	deps, _ := newDeps(t)
	configured := false
	if err := deps.Lifecycle.AddHandler(lifecycle.StateInit, lifecycle.ActionConfig, lifecycle.StateConfig, func() error {
		configured = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	HandleLifecycle(protocol.LifecycleMessage{Action: "bogus"}, deps)
	HandleLifecycle(protocol.LifecycleMessage{Action: "start"}, deps) // invalid from Init
	if deps.Lifecycle.State() != lifecycle.StateInit {
		t.Fatalf("state = %s", deps.Lifecycle.State())
	}

	HandleLifecycle(protocol.LifecycleMessage{Action: "Config"}, deps)
	if !configured || deps.Lifecycle.State() != lifecycle.StateConfig {
		t.Fatalf("state = %s, handler ran = %v", deps.Lifecycle.State(), configured)
	}
}

func TestLifecycleChecksToken(t *testing.T) {
	deps, _ := newDeps(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	deps.Config.Control.PasswordHash = string(hash)

	HandleLifecycle(protocol.LifecycleMessage{Action: "config", Token: "wrong"}, deps)
	if deps.Lifecycle.State() != lifecycle.StateInit {
		t.Fatal("bad token accepted")
	}
	HandleLifecycle(protocol.LifecycleMessage{Action: "config", Token: "hunter2"}, deps)
	if deps.Lifecycle.State() != lifecycle.StateConfig {
		t.Fatalf("state = %s", deps.Lifecycle.State())
	}
}
