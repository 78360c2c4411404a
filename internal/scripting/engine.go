package scripting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/engine/gamestate"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Every exported call takes the lock,
// so the rule processor and the lifecycle goroutine can share it. All hooks
// are optional; a missing or failing script falls back to the built-in
// behaviour.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. An empty dir yields an engine with only the built-in
// behaviour.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if scriptsDir == "" {
		return e, nil
	}

	for _, sub := range []string{"", "combat", "arena"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", p, err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// call runs the global function name with one table argument and returns
// its single result. ok is false if the function is not defined or fails.
func (e *Engine) call(name string, arg *lua.LTable) (lua.LValue, bool) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return lua.LNil, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, arg); err != nil {
		e.log.Error("lua call failed", zap.String("name", name), zap.Error(err))
		return lua.LNil, false
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	return ret, true
}

// CalcBulletDamage calls the Lua calc_bullet_damage(ctx) function for a hit
// at time at. ctx has bullet {damage, age} and target {hp, team}; age is in
// seconds since the bullet spawned. Without a script, or when the script
// returns something other than a finite number, the bullet's own damage is
// dealt. Negative results deal no damage.
func (e *Engine) CalcBulletDamage(bullet, target gamestate.GameEntity, at time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.vm.NewTable()
	b := e.vm.NewTable()
	b.RawSetString("damage", lua.LNumber(bullet.Damage))
	b.RawSetString("age", lua.LNumber(at.Sub(bullet.SpawnedAt).Seconds()))
	t.RawSetString("bullet", b)

	tgt := e.vm.NewTable()
	tgt.RawSetString("hp", lua.LNumber(target.HP))
	tgt.RawSetString("team", lua.LString(target.Team))
	t.RawSetString("target", tgt)

	ret, ok := e.call("calc_bullet_damage", t)
	if !ok {
		return bullet.Damage
	}
	n, isNum := ret.(lua.LNumber)
	if !isNum {
		e.log.Error("lua calc_bullet_damage returned non-number", zap.String("type", ret.Type().String()))
		return bullet.Damage
	}
	f := float64(n)
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		e.log.Error("lua calc_bullet_damage returned non-finite number", zap.Float64("damage", f))
		return bullet.Damage
	case f < 0:
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	}
	return int(f)
}

// SpawnPosition calls the Lua spawn_position(ctx) function for drone index
// of count. ctx has index (0-based), count, width, depth and height; the
// function returns {x=, y=, z=}. Without a script drones are placed by
// RingPosition.
func (e *Engine) SpawnPosition(index, count int, arena geom.Bounds) geom.Vector {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.vm.NewTable()
	t.RawSetString("index", lua.LNumber(index))
	t.RawSetString("count", lua.LNumber(count))
	t.RawSetString("width", lua.LNumber(arena.Width))
	t.RawSetString("depth", lua.LNumber(arena.Depth))
	t.RawSetString("height", lua.LNumber(arena.Height))

	ret, ok := e.call("spawn_position", t)
	if !ok {
		return RingPosition(index, count, arena)
	}
	rt, isTable := ret.(*lua.LTable)
	if !isTable {
		e.log.Error("lua spawn_position returned non-table")
		return RingPosition(index, count, arena)
	}
	return geom.V(lFloat(rt, "x"), lFloat(rt, "y"), lFloat(rt, "z"))
}

// RingPosition spreads count drones evenly on a circle around the arena
// centre, at half height, with a radius of three quarters of the smaller
// half-extent.
func RingPosition(index, count int, arena geom.Bounds) geom.Vector {
	c := arena.Center()
	if count <= 0 {
		return c
	}
	r := 0.75 * math.Min(arena.Width, arena.Depth) / 2
	a := 2 * math.Pi * float64(index) / float64(count)
	return geom.V(c.X+r*math.Cos(a), c.Y+r*math.Sin(a), c.Z)
}

// lFloat reads a numeric field from a Lua table.
func lFloat(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
