package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dronearena/server/internal/engine/queue"
)

// Memory is an in-process Discoverer.
type Memory struct {
	mu       sync.Mutex
	nodes    map[string]Node
	watchers map[*memWatcher]struct{}
}

type memWatcher struct {
	filter Filter
	events *queue.Queue[Event]
}

func NewMemory() *Memory {
	return &Memory{
		nodes:    make(map[string]Node),
		watchers: make(map[*memWatcher]struct{}),
	}
}

func (m *Memory) notify(ev Event) {
	for w := range m.watchers {
		if w.filter.Match(ev.Node) {
			w.events.Put(ev)
		}
	}
}

func (m *Memory) Register(_ context.Context, n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[n.key()]; ok {
		return fmt.Errorf("%s: %w", n, ErrDuplicateName)
	}
	m.nodes[n.key()] = n
	m.notify(Event{Kind: NodeAdded, Node: n})
	return nil
}

func (m *Memory) Unregister(_ context.Context, n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.nodes[n.key()]
	if !ok {
		return nil
	}
	delete(m.nodes, n.key())
	m.notify(Event{Kind: NodeRemoved, Node: old})
	return nil
}

func (m *Memory) Find(_ context.Context, f Filter) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(f), nil
}

func (m *Memory) findLocked(f Filter) []Node {
	var out []Node
	for _, n := range m.nodes {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func (m *Memory) Watch(ctx context.Context, f Filter, h Handler) error {
	w := &memWatcher{filter: f, events: queue.New[Event]()}

	m.mu.Lock()
	for _, n := range m.findLocked(f) {
		w.events.Put(Event{Kind: NodeAdded, Node: n})
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	}()

	for {
		ev, err := w.events.Take(ctx)
		if err != nil {
			return nil
		}
		h(ev)
	}
}
