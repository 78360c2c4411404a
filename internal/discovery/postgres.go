package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dronearena/server/internal/persist"
	"go.uber.org/zap"
)

// Postgres keeps registrations in the instances table. Watch polls and
// diffs; while any Watch runs, nodes registered through this value are kept
// alive by heartbeats and other nodes whose heartbeat is older than ttl are
// expired.
type Postgres struct {
	repo     *persist.InstanceRepo
	interval time.Duration
	ttl      time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	owned map[string]Node
}

// NewPostgres polls every interval. A zero ttl disables expiry.
func NewPostgres(repo *persist.InstanceRepo, interval, ttl time.Duration, log *zap.Logger) *Postgres {
	if interval <= 0 {
		interval = time.Second
	}
	return &Postgres{
		repo:     repo,
		interval: interval,
		ttl:      ttl,
		log:      log,
		owned:    make(map[string]Node),
	}
}

func (p *Postgres) Register(ctx context.Context, n Node) error {
	err := p.repo.Insert(ctx, persist.InstanceRow{Type: n.Type, Group: n.Group, Name: n.Name, Address: n.Address})
	if errors.Is(err, persist.ErrDuplicateInstance) {
		return fmt.Errorf("%s: %w", n, ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("register %s: %w", n, err)
	}
	p.mu.Lock()
	p.owned[n.key()] = n
	p.mu.Unlock()
	return nil
}

func (p *Postgres) Unregister(ctx context.Context, n Node) error {
	p.mu.Lock()
	delete(p.owned, n.key())
	p.mu.Unlock()
	if _, err := p.repo.Delete(ctx, n.Type, n.Group, n.Name); err != nil {
		return fmt.Errorf("unregister %s: %w", n, err)
	}
	return nil
}

func (p *Postgres) Find(ctx context.Context, f Filter) ([]Node, error) {
	rows, err := p.repo.List(ctx, f.Type, f.Group)
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", f.Type, f.Group, err)
	}
	out := make([]Node, len(rows))
	for i, r := range rows {
		out[i] = Node{Type: r.Type, Group: r.Group, Name: r.Name, Address: r.Address}
	}
	return out, nil
}

func (p *Postgres) Watch(ctx context.Context, f Filter, h Handler) error {
	find := func(ctx context.Context) ([]Node, error) {
		p.housekeeping(ctx)
		return p.Find(ctx, f)
	}
	return poll(ctx, p.interval, find, h, p.log)
}

func (p *Postgres) housekeeping(ctx context.Context) {
	p.mu.Lock()
	owned := make([]Node, 0, len(p.owned))
	for _, n := range p.owned {
		owned = append(owned, n)
	}
	p.mu.Unlock()

	for _, n := range owned {
		if err := p.repo.Heartbeat(ctx, n.Type, n.Group, n.Name); err != nil {
			p.log.Warn("discovery heartbeat failed", zap.String("node", n.String()), zap.Error(err))
		}
	}
	if p.ttl <= 0 {
		return
	}
	if n, err := p.repo.DeleteExpired(ctx, time.Now().Add(-p.ttl)); err != nil {
		p.log.Warn("expiring discovery nodes failed", zap.Error(err))
	} else if n > 0 {
		p.log.Info("expired discovery nodes", zap.Int64("count", n))
	}
}

// poll calls find every interval and reports the difference to the previous
// result. Find errors are logged and the previous result is kept.
func poll(ctx context.Context, interval time.Duration, find func(context.Context) ([]Node, error), h Handler, log *zap.Logger) error {
	known := make(map[string]Node)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		nodes, err := find(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("discovery poll failed", zap.Error(err))
		} else {
			current := make(map[string]Node, len(nodes))
			for _, n := range nodes {
				current[n.key()] = n
				if _, ok := known[n.key()]; !ok {
					h(Event{Kind: NodeAdded, Node: n})
				}
			}
			for k, n := range known {
				if _, ok := current[k]; !ok {
					h(Event{Kind: NodeRemoved, Node: n})
				}
			}
			known = current
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
