// Package graph maintains the cycle-free directed graph of ordering
// relations between scheduled items and answers "what happens downstream
// if X moves". It is the sole mutator of the edge set and the sole
// authority on acyclicity.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/observability"
)

// Graph owns scheduled items and the dependency edges between them.
// All mutations are serialized behind a single lock so concurrent
// propagations over overlapping subgraphs cannot interleave.
type Graph struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]*models.ScheduledItem
	adj    map[uuid.UUID][]*models.DependencyEdge
	rev    map[uuid.UUID][]*models.DependencyEdge
	logger observability.Logger
}

// New creates an empty graph.
func New(logger observability.Logger) *Graph {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Graph{
		items:  make(map[uuid.UUID]*models.ScheduledItem),
		adj:    make(map[uuid.UUID][]*models.DependencyEdge),
		rev:    make(map[uuid.UUID][]*models.DependencyEdge),
		logger: logger.WithPrefix("graph"),
	}
}

// UpsertItem inserts or replaces an item.
func (g *Graph) UpsertItem(item *models.ScheduledItem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *item
	g.items[item.ID] = &cp
}

// RemoveItem deletes an item and every edge touching it.
func (g *Graph) RemoveItem(id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.items[id]; !ok {
		return models.NotFoundError{Kind: "item", ID: id}
	}
	delete(g.items, id)
	for _, e := range g.adj[id] {
		g.rev[e.TargetID] = removeEdge(g.rev[e.TargetID], e.ID)
	}
	for _, e := range g.rev[id] {
		g.adj[e.SourceID] = removeEdge(g.adj[e.SourceID], e.ID)
	}
	delete(g.adj, id)
	delete(g.rev, id)
	return nil
}

// Item returns a copy of the item with the given id.
func (g *Graph) Item(id uuid.UUID) (*models.ScheduledItem, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	item, ok := g.items[id]
	if !ok {
		return nil, models.NotFoundError{Kind: "item", ID: id}
	}
	cp := *item
	return &cp, nil
}

// Items returns copies of all items, ordered by id for determinism.
func (g *Graph) Items() []*models.ScheduledItem {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*models.ScheduledItem, 0, len(g.items))
	for _, item := range g.items {
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Edges returns copies of all dependency edges.
func (g *Graph) Edges() []models.DependencyEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []models.DependencyEdge
	for _, edges := range g.adj {
		for _, e := range edges {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// AddDependency inserts an edge requiring target to start after source ends
// plus lag. The reachability check runs before any mutation: a rejected
// call leaves the edge set exactly as it was.
func (g *Graph) AddDependency(sourceID, targetID uuid.UUID, lag time.Duration) (*models.DependencyEdge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sourceID == targetID {
		return nil, models.SelfDependencyError{ItemID: sourceID}
	}
	if _, ok := g.items[sourceID]; !ok {
		return nil, models.NotFoundError{Kind: "item", ID: sourceID}
	}
	if _, ok := g.items[targetID]; !ok {
		return nil, models.NotFoundError{Kind: "item", ID: targetID}
	}
	for _, e := range g.adj[sourceID] {
		if e.TargetID == targetID {
			return nil, models.DuplicateEdgeError{SourceID: sourceID, TargetID: targetID}
		}
	}
	// The new edge source->target closes a cycle iff source is already
	// reachable from target.
	if g.reachable(targetID, sourceID) {
		return nil, models.CycleError{SourceID: sourceID, TargetID: targetID}
	}

	edge := &models.DependencyEdge{
		ID:        uuid.New(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Kind:      models.DependencyFinishToStart,
		Lag:       lag,
		CreatedAt: time.Now().UTC(),
	}
	g.adj[sourceID] = append(g.adj[sourceID], edge)
	g.rev[targetID] = append(g.rev[targetID], edge)

	g.logger.Debug("dependency added", map[string]interface{}{
		"source": sourceID,
		"target": targetID,
		"lag":    lag.String(),
	})
	cp := *edge
	return &cp, nil
}

// RemoveDependency deletes the edge between source and target if present.
func (g *Graph) RemoveDependency(sourceID, targetID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.adj[sourceID] {
		if e.TargetID == targetID {
			g.adj[sourceID] = removeEdge(g.adj[sourceID], e.ID)
			g.rev[targetID] = removeEdge(g.rev[targetID], e.ID)
			return nil
		}
	}
	return models.NotFoundError{Kind: "dependency", ID: sourceID}
}

// Successors returns copies of the outgoing edges of an item, sorted by
// target id for deterministic traversal.
func (g *Graph) Successors(id uuid.UUID) []models.DependencyEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.successorsLocked(id)
}

func (g *Graph) successorsLocked(id uuid.UUID) []models.DependencyEdge {
	edges := make([]models.DependencyEdge, 0, len(g.adj[id]))
	for _, e := range g.adj[id] {
		edges = append(edges, *e)
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].TargetID.String() < edges[j].TargetID.String()
	})
	return edges
}

// reachable reports whether to can be reached from from by following
// edges forward. Breadth-first; callers hold the lock.
func (g *Graph) reachable(from, to uuid.UUID) bool {
	visited := map[uuid.UUID]bool{from: true}
	queue := []uuid.UUID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[cur] {
			if e.TargetID == to {
				return true
			}
			if !visited[e.TargetID] {
				visited[e.TargetID] = true
				queue = append(queue, e.TargetID)
			}
		}
	}
	return false
}

func removeEdge(edges []*models.DependencyEdge, id uuid.UUID) []*models.DependencyEdge {
	out := edges[:0]
	for _, e := range edges {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
