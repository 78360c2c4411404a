package data

import (
	"fmt"
	"os"

	"github.com/dronearena/server/internal/core/geom"
	"gopkg.in/yaml.v3"
)

// ObstacleEntry is a static box placed in the arena at Config time.
type ObstacleEntry struct {
	Name     string      `yaml:"name"`
	Position geom.Vector `yaml:"position"`
	Size     geom.Size   `yaml:"size"`
}

// ArenaLayout is the content of an arena layout file: obstacles and,
// optionally, fixed drone spawn points used before the spawn ring.
type ArenaLayout struct {
	Obstacles []ObstacleEntry `yaml:"obstacles"`
	Spawns    []geom.Vector   `yaml:"spawns"`

	byName map[string]*ObstacleEntry
}

// LoadArenaLayout loads an arena layout YAML file.
func LoadArenaLayout(path string) (*ArenaLayout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read arena layout: %w", err)
	}
	var l ArenaLayout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("parse arena layout: %w", err)
	}
	l.byName = make(map[string]*ObstacleEntry, len(l.Obstacles))
	for i := range l.Obstacles {
		o := &l.Obstacles[i]
		if o.Name == "" {
			return nil, fmt.Errorf("arena layout: obstacle %d has no name", i)
		}
		if _, dup := l.byName[o.Name]; dup {
			return nil, fmt.Errorf("arena layout: duplicate obstacle %q", o.Name)
		}
		if !o.Size.Valid() {
			return nil, fmt.Errorf("arena layout: obstacle %q has non-positive size", o.Name)
		}
		l.byName[o.Name] = o
	}
	return &l, nil
}

// EmptyLayout is used when no layout file is configured.
func EmptyLayout() *ArenaLayout {
	return &ArenaLayout{byName: map[string]*ObstacleEntry{}}
}

// Check reports the first obstacle or spawn point outside b.
func (l *ArenaLayout) Check(b geom.Bounds) error {
	for _, o := range l.Obstacles {
		if !b.Contains(o.Position) {
			return fmt.Errorf("obstacle %q at %v is outside the arena", o.Name, o.Position)
		}
	}
	for i, p := range l.Spawns {
		if !b.Contains(p) {
			return fmt.Errorf("spawn point %d at %v is outside the arena", i, p)
		}
	}
	return nil
}

// Get returns the obstacle with the given name, or nil if none.
func (l *ArenaLayout) Get(name string) *ObstacleEntry {
	return l.byName[name]
}

// Spawn returns the fixed spawn point for drone index, if the layout has one.
func (l *ArenaLayout) Spawn(index int) (geom.Vector, bool) {
	if index < 0 || index >= len(l.Spawns) {
		return geom.Vector{}, false
	}
	return l.Spawns[index], true
}

// Count returns the number of obstacles loaded.
func (l *ArenaLayout) Count() int {
	return len(l.Obstacles)
}
