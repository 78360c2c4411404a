// Package discovery registers service instances and watches for others.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateName is returned by Register for a name already taken in the
// node's type and group.
var ErrDuplicateName = errors.New("discovery name already registered")

// Node is one registered instance.
type Node struct {
	Type    string
	Group   string
	Name    string
	Address string
}

func (n Node) key() string { return n.Type + "/" + n.Group + "/" + n.Name }

func (n Node) String() string { return n.key() }

// Filter selects nodes by type and, if Group is set, group.
type Filter struct {
	Type  string
	Group string
}

func (f Filter) Match(n Node) bool {
	return n.Type == f.Type && (f.Group == "" || n.Group == f.Group)
}

type EventKind int

const (
	NodeAdded EventKind = iota
	NodeRemoved
)

func (k EventKind) String() string {
	if k == NodeAdded {
		return "added"
	}
	return "removed"
}

type Event struct {
	Kind EventKind
	Node Node
}

// Handler receives watch events in order, on the watching goroutine.
type Handler func(Event)

type Discoverer interface {
	Register(ctx context.Context, n Node) error
	Unregister(ctx context.Context, n Node) error
	Find(ctx context.Context, f Filter) ([]Node, error)
	// Watch reports every matching node already registered as added, then
	// every change, until ctx ends. It returns nil on cancellation.
	Watch(ctx context.Context, f Filter, h Handler) error
}

// RegisterUnique registers n, appending a short random suffix to the name
// when it is already taken. It returns the node as registered.
func RegisterUnique(ctx context.Context, d Discoverer, n Node, attempts int, log *zap.Logger) (Node, error) {
	base := n.Name
	for i := 0; i < attempts; i++ {
		err := d.Register(ctx, n)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrDuplicateName) {
			return Node{}, fmt.Errorf("register %s: %w", n, err)
		}
		next := base + "-" + uuid.NewString()[:8]
		log.Warn("discovery name taken, retrying with suffix",
			zap.String("name", n.Name),
			zap.String("next", next),
		)
		n.Name = next
	}
	return Node{}, fmt.Errorf("register %s after %d attempts: %w", base, attempts, ErrDuplicateName)
}
