// Package idmapper translates between engine entity ids and the string
// identities used on the wire.
package idmapper

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Mapper hands out engine ids and keeps the two-way mapping. Ids are never
// reused, even after Remove.
type Mapper struct {
	mu         sync.RWMutex
	next       int
	toProtocol map[int]string
	toEngine   map[string]int
}

func New() *Mapper {
	return &Mapper{
		toProtocol: make(map[int]string),
		toEngine:   make(map[string]int),
	}
}

// Normalize returns the canonical (NFC) form of a protocol identity.
func Normalize(protocolID string) string {
	return norm.NFC.String(protocolID)
}

// NewID returns the next unused engine id, starting at 0.
func (m *Mapper) NewID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	return id
}

// Set binds id to protocolID. An existing binding for either side is
// replaced.
func (m *Mapper) Set(id int, protocolID string) {
	protocolID = Normalize(protocolID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.toProtocol[id]; ok {
		delete(m.toEngine, old)
	}
	if old, ok := m.toEngine[protocolID]; ok {
		delete(m.toProtocol, old)
	}
	m.toProtocol[id] = protocolID
	m.toEngine[protocolID] = id
}

// Add allocates a new engine id for protocolID and binds it.
func (m *Mapper) Add(protocolID string) int {
	id := m.NewID()
	m.Set(id, protocolID)
	return id
}

func (m *Mapper) ProtocolID(id int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.toProtocol[id]
	return p, ok
}

func (m *Mapper) GameEngineID(protocolID string) (int, bool) {
	protocolID = Normalize(protocolID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toEngine[protocolID]
	return id, ok
}

// Remove forgets id. The id is not handed out again.
func (m *Mapper) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.toProtocol[id]; ok {
		delete(m.toEngine, p)
		delete(m.toProtocol, id)
	}
}

// Clear forgets every mapping. The id counter keeps counting.
func (m *Mapper) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toProtocol = make(map[int]string)
	m.toEngine = make(map[string]int)
}

func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toProtocol)
}
