package physics

import (
	"sort"
	"sync"
)

type changeKind uint8

const (
	changeInsert changeKind = iota
	changeUpdate
	changeRemove
)

type change struct {
	kind   changeKind
	id     int
	entity Entity
	update Update
}

// Store owns the live entity map and a buffer of pending changes.
//
// The Add* methods may be called from any goroutine; they only append to the
// buffer. ProcessChanges, Entities and the live map belong to the stepper
// goroutine. Other goroutines read entity state through CopyState.
type Store struct {
	mu      sync.Mutex // protects pending
	pending []change

	entities map[int]*Entity

	snapMu sync.RWMutex // protects snapshot
	snap   []Entity
}

func NewStore() *Store {
	return &Store{
		pending:  make([]change, 0, 64),
		entities: make(map[int]*Entity, 64),
	}
}

func (s *Store) push(c ...change) {
	s.mu.Lock()
	s.pending = append(s.pending, c...)
	s.mu.Unlock()
}

// AddInsert queues e for insertion. An insert for an id that is already live
// replaces that entity.
func (s *Store) AddInsert(e Entity) {
	s.push(change{kind: changeInsert, id: e.ID, entity: e})
}

func (s *Store) AddInserts(es []Entity) {
	cs := make([]change, len(es))
	for i, e := range es {
		cs[i] = change{kind: changeInsert, id: e.ID, entity: e}
	}
	s.push(cs...)
}

// AddUpdate queues u for entity id. Updates for unknown ids are dropped when
// applied.
func (s *Store) AddUpdate(id int, u Update) {
	s.push(change{kind: changeUpdate, id: id, update: u})
}

func (s *Store) AddUpdates(id int, us []Update) {
	cs := make([]change, len(us))
	for i, u := range us {
		cs[i] = change{kind: changeUpdate, id: id, update: u}
	}
	s.push(cs...)
}

func (s *Store) AddRemoval(id int) {
	s.push(change{kind: changeRemove, id: id})
}

func (s *Store) AddRemovals(ids []int) {
	cs := make([]change, len(ids))
	for i, id := range ids {
		cs[i] = change{kind: changeRemove, id: id}
	}
	s.push(cs...)
}

// Pending returns the number of buffered changes.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ProcessChanges applies the whole buffer in submission order and returns
// copies of the entities that were removed. Stepper goroutine only.
func (s *Store) ProcessChanges() []Entity {
	s.mu.Lock()
	batch := s.pending
	s.pending = make([]change, 0, cap(batch))
	s.mu.Unlock()

	var removed []Entity
	for _, c := range batch {
		switch c.kind {
		case changeInsert:
			e := c.entity
			s.entities[c.id] = &e
		case changeUpdate:
			if e, ok := s.entities[c.id]; ok {
				c.update.apply(e)
			}
		case changeRemove:
			if e, ok := s.entities[c.id]; ok {
				removed = append(removed, *e)
				delete(s.entities, c.id)
			}
		}
	}
	return removed
}

// Entities returns the live map. Stepper goroutine only.
func (s *Store) Entities() map[int]*Entity {
	return s.entities
}

// CopyState returns a copy of every live entity, sorted by id. Stepper
// goroutine only; other goroutines use LastState.
func (s *Store) CopyState() []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// publishSnapshot records the state at the end of a completed tick for
// LastState readers.
func (s *Store) publishSnapshot() {
	snap := s.CopyState()
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// LastState returns the entity state as of the last completed tick. Safe
// from any goroutine; the returned slice is never modified afterwards.
func (s *Store) LastState() []Entity {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// clear drops every live entity, the pending buffer and the snapshot. Only
// valid while no stepper is running.
func (s *Store) clear() {
	s.mu.Lock()
	s.pending = s.pending[:0]
	s.mu.Unlock()
	s.entities = make(map[int]*Entity, 64)
	s.snapMu.Lock()
	s.snap = nil
	s.snapMu.Unlock()
}

// sortedIDs returns the live ids in ascending order. Stepper goroutine only.
func (s *Store) sortedIDs() []int {
	ids := make([]int, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
