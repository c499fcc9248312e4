package engine

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
)

// spawner queues structural requests made by elements during a tick. The
// engine drains the queue after the tick, applying each request as its own
// transaction.
type spawner struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	queue   []Op
	metrics *engineMetrics

	// owned holds the full paths of live clones created by spawn requests
	owned map[string]bool
}

func newSpawner(perSecond float64, burst int, metrics *engineMetrics) *spawner {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &spawner{
		limiter: rate.NewLimiter(limit, max(burst, 1)),
		metrics: metrics,
		owned:   make(map[string]bool),
	}
}

// clonePath is the path of a clone of template named name
func clonePath(template, name string) string {
	parent, _ := splitParent(template)
	return joinPath(parent, name)
}

// Spawn requests a clone of the template sub-graph, a path such as "voice"
// or "voices/v1", as a sibling named name
func (s *spawner) Spawn(template, name string) error {
	if err := element.ValidateID(name); err != nil {
		return err
	}
	return s.enqueue(spawnOp{template: template, name: name})
}

// Despawn requests removal of a clone made by Spawn
func (s *spawner) Despawn(template, name string) error {
	path := clonePath(template, name)
	if !s.owns(path) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q was not spawned", errors.ErrInvalidData, path),
			"Engine", "Despawn", "ownership check")
	}
	return s.enqueue(newDespawnOp(path))
}

// Spawned reports whether a clone made by Spawn is live
func (s *spawner) Spawned(template, name string) bool {
	return s.owns(clonePath(template, name))
}

func (s *spawner) owns(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[path]
}

func (s *spawner) enqueue(op Op) error {
	if !s.limiter.Allow() {
		s.metrics.recordSpawn("limited")
		return errors.WrapTransient(
			fmt.Errorf("%w: %s request", errors.ErrRateLimited, op.Kind()),
			"Engine", "Spawn", "rate limit")
	}
	s.mu.Lock()
	s.queue = append(s.queue, op)
	s.mu.Unlock()
	return nil
}

func (s *spawner) drain() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.queue
	s.queue = nil
	return ops
}

// settle updates ownership after tx was committed with d as the resulting
// description. Clones become owned once their spawn commits. A clone stops
// being owned when it is despawned, or when any other edit removes or replaces
// it, so a sub-graph later added under the same name is never despawned.
func (s *spawner) settle(tx Transaction, d *description.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx {
		switch op := op.(type) {
		case spawnOp:
			s.owned[clonePath(op.template, op.name)] = true
		case despawnOp:
			delete(s.owned, joinPath(op.Graph, op.Name))
		case RemoveSubgraph:
			delete(s.owned, joinPath(op.Graph, op.Name))
		case SwapSubgraph:
			delete(s.owned, joinPath(op.Graph, op.Name))
		}
	}
	for path := range s.owned {
		parent, name := splitParent(path)
		if g, err := d.Find(parent); err != nil || g.SubgraphIndex(name) < 0 {
			delete(s.owned, path)
		}
	}
}

func (s *spawner) reset() {
	s.mu.Lock()
	s.queue = nil
	s.owned = make(map[string]bool)
	s.mu.Unlock()
}

var _ tick.Spawner = (*spawner)(nil)
