package driver

import (
	"errors"
	"testing"
	"time"

	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/gameevent"
	"github.com/dronearena/server/internal/engine/gamestate"
	"github.com/dronearena/server/internal/physics"
	"go.uber.org/zap"
)

func newTestDriver() (*Driver, *physics.Store) {
	store := physics.NewStore()
	d := New(store, 2, zap.NewNop())
	d.now = func() time.Time { return time.Unix(500, 0) }
	return d, store
}

func drone(pos geom.Vector) gamestate.GameEntity {
	return gamestate.GameEntity{Kind: gamestate.KindDrone, Size: geom.Cube(1), Position: pos, HP: 100}
}

func TestSpawnAndRemove(t *testing.T) {
	d, store := newTestDriver()
	id, err := d.Spawn(drone(geom.V(1, 2, 3)), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Spawn(drone(geom.Zero), "alpha"); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("duplicate spawn err = %v", err)
	}
	store.ProcessChanges()
	if e, ok := store.Entities()[id]; !ok || e.Position != geom.V(1, 2, 3) {
		t.Fatalf("store entity = %+v, %v", e, ok)
	}

	ev, ok := d.Remove(id)
	if !ok || ev.ProtocolID != "alpha" || ev.Kind != gamestate.KindDrone {
		t.Fatalf("destroyed = %+v, %v", ev, ok)
	}
	if _, ok := d.Resolve("alpha"); ok {
		t.Fatal("identity still resolvable")
	}
	if removed := store.ProcessChanges(); len(removed) != 1 || removed[0].ID != id {
		t.Fatalf("removed = %+v", removed)
	}
	if _, ok := d.Remove(id); ok {
		t.Fatal("second remove succeeded")
	}
}

func TestObserverQueuesEvents(t *testing.T) {
	d, _ := newTestDriver()
	a, _ := d.Spawn(drone(geom.Zero), "a")
	b, _ := d.Spawn(gamestate.GameEntity{Kind: gamestate.KindBullet, Size: geom.Cube(0.1)}, "b")

	pa := physics.NewEntity(a, geom.Cube(1), geom.V(5, 0, 0), geom.Zero)
	pb := physics.NewEntity(b, geom.Cube(0.1), geom.V(5, 0, 0), geom.Zero)
	d.CollisionStarted(pa, pb)
	d.CollisionStopped(pa, pb)
	d.StateBroadcast([]physics.Entity{pa, pb})

	if n := d.Events().Len(); n != 3 {
		t.Fatalf("queued %d events", n)
	}
	ev, _ := d.Events().TryTake()
	cs, ok := ev.(gameevent.CollisionStart)
	if !ok || cs.A.Kind != gamestate.KindDrone || cs.B.Kind != gamestate.KindBullet {
		t.Fatalf("first event = %#v", ev)
	}
	d.Events().TryTake()
	ev, _ = d.Events().TryTake()
	st := ev.(gameevent.CurrentState)
	if len(st.Entities) != 2 || st.Entities[0].Position != geom.V(5, 0, 0) {
		t.Fatalf("state = %+v", st)
	}
	if got, _ := d.State().Get(a); got.Position != geom.V(5, 0, 0) || !got.LastSeen.Equal(time.Unix(500, 0)) {
		t.Fatalf("game state not merged: %+v", got)
	}
}

func TestSteeringTowardTarget(t *testing.T) {
	d, store := newTestDriver()
	id, _ := d.Spawn(drone(geom.Zero), "a")
	store.ProcessChanges()

	target := geom.V(10, 0, 0)
	if !d.SetTarget(id, &target) {
		t.Fatal("SetTarget failed")
	}
	d.StateBroadcast(store.CopyState())
	store.ProcessChanges()
	if acc := store.Entities()[id].Acceleration; acc != geom.V(2, 0, 0) {
		t.Fatalf("acceleration = %v", acc)
	}

	// arrival stops the drone and clears the target
	store.Entities()[id].Position = geom.V(9.8, 0, 0)
	store.Entities()[id].Velocity = geom.V(3, 0, 0)
	d.StateBroadcast(store.CopyState())
	store.ProcessChanges()
	e := store.Entities()[id]
	if e.Acceleration != geom.Zero || e.Velocity != geom.Zero {
		t.Fatalf("entity after arrival = %+v", e)
	}
	if g, _ := d.State().Get(id); g.Target != nil {
		t.Fatal("target not cleared")
	}
}

func TestSetAccelerationCancelsSteering(t *testing.T) {
	d, _ := newTestDriver()
	id, _ := d.Spawn(drone(geom.Zero), "a")
	target := geom.V(1, 1, 1)
	d.SetTarget(id, &target)
	d.SetAcceleration(id, geom.V(0, 1, 0))
	g, _ := d.State().Get(id)
	if g.Target != nil || g.Acceleration != geom.V(0, 1, 0) {
		t.Fatalf("entity = %+v", g)
	}
	if d.SetAcceleration(99, geom.Zero) {
		t.Fatal("unknown id accepted")
	}
}

func TestResetForgetsEverything(t *testing.T) {
	d, _ := newTestDriver()
	d.Spawn(drone(geom.Zero), "a")
	d.Post(gameevent.IntervalTick{})
	d.Reset()
	if d.State().Len() != 0 || d.IDs().Len() != 0 || d.Events().Len() != 0 {
		t.Fatal("reset left state behind")
	}
}

func TestPlayingFlag(t *testing.T) {
	d, _ := newTestDriver()
	if d.Playing() {
		t.Fatal("new driver is playing")
	}
	d.SetPlaying(true)
	if !d.Playing() {
		t.Fatal("SetPlaying(true) not kept")
	}
	d.SetPlaying(false)
	if d.Playing() {
		t.Fatal("SetPlaying(false) not kept")
	}
}
