// Package gamestate keeps the game-level attributes of every entity
// alongside the physics state last reported by the stepper.
package gamestate

import (
	"sort"
	"sync"
	"time"

	"github.com/dronearena/server/internal/physics"
)

// Manager is safe for concurrent use. Values handed out are copies.
type Manager struct {
	mu       sync.RWMutex
	entities map[int]*GameEntity
}

func NewManager() *Manager {
	return &Manager{entities: make(map[int]*GameEntity)}
}

// Add stores e, replacing any entity with the same id.
func (m *Manager) Add(e GameEntity) {
	m.mu.Lock()
	m.entities[e.ID] = &e
	m.mu.Unlock()
}

func (m *Manager) Get(id int) (GameEntity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return GameEntity{}, false
	}
	return *e, true
}

// Update runs fn on the stored entity under the write lock. Returns false if
// id is not stored.
func (m *Manager) Update(id int, fn func(*GameEntity)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Damage applies d to a health-bearing entity and returns its remaining HP.
func (m *Manager) Damage(id, d int) (hp int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok || !e.HasHealth() {
		return 0, false
	}
	return e.TakeDamage(d), true
}

// Remove deletes id and returns what was stored.
func (m *Manager) Remove(id int) (GameEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return GameEntity{}, false
	}
	delete(m.entities, id)
	return *e, true
}

// Merge copies kinematics from a physics snapshot into the stored entities
// and stamps them as seen. It returns the merged entities in snapshot order;
// physics entities with no game entity are skipped.
func (m *Manager) Merge(snapshot []physics.Entity, seen time.Time) []GameEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GameEntity, 0, len(snapshot))
	for _, p := range snapshot {
		e, ok := m.entities[p.ID]
		if !ok {
			continue
		}
		e.merge(p, seen)
		out = append(out, *e)
	}
	return out
}

// All returns every entity sorted by id.
func (m *Manager) All() []GameEntity {
	return m.Filter(nil)
}

// Filter returns the entities accepted by keep (all if keep is nil),
// sorted by id.
func (m *Manager) Filter(keep func(*GameEntity) bool) []GameEntity {
	m.mu.RLock()
	out := make([]GameEntity, 0, len(m.entities))
	for _, e := range m.entities {
		if keep == nil || keep(e) {
			out = append(out, *e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drones returns every drone sorted by id.
func (m *Manager) Drones() []GameEntity {
	return m.Filter(func(e *GameEntity) bool { return e.Kind == KindDrone })
}

// Exists reports whether id is stored.
func (m *Manager) Exists(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[id]
	return ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

func (m *Manager) Clear() {
	m.mu.Lock()
	m.entities = make(map[int]*GameEntity)
	m.mu.Unlock()
}
