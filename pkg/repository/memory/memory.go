// Package memory provides an in-memory Store used by tests and the
// default single-process dev mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/repository"
)

// Store is a mutex-guarded in-memory repository.Store
type Store struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]models.ScheduledItem
	edges     map[uuid.UUID]models.DependencyEdge
	conflicts map[uuid.UUID]models.Conflict
	sessions  map[uuid.UUID]models.NegotiationSession
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items:     make(map[uuid.UUID]models.ScheduledItem),
		edges:     make(map[uuid.UUID]models.DependencyEdge),
		conflicts: make(map[uuid.UUID]models.Conflict),
		sessions:  make(map[uuid.UUID]models.NegotiationSession),
	}
}

func (s *Store) Items() repository.ItemRepository         { return (*itemRepo)(s) }
func (s *Store) Edges() repository.EdgeRepository         { return (*edgeRepo)(s) }
func (s *Store) Conflicts() repository.ConflictRepository { return (*conflictRepo)(s) }
func (s *Store) Sessions() repository.SessionRepository   { return (*sessionRepo)(s) }

type itemRepo Store

func (r *itemRepo) Create(ctx context.Context, item *models.ScheduledItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = *item
	return nil
}

func (r *itemRepo) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, models.NotFoundError{Kind: "item", ID: id}
	}
	return &item, nil
}

func (r *itemRepo) ListActive(ctx context.Context) ([]*models.ScheduledItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.ScheduledItem
	for _, item := range r.items {
		if item.IsActive() {
			cp := item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *itemRepo) Update(ctx context.Context, item *models.ScheduledItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[item.ID]
	if !ok {
		return models.NotFoundError{Kind: "item", ID: item.ID}
	}
	if stored.Version != item.Version-1 {
		return models.StaleStateError{
			Kind:            "item",
			ID:              item.ID,
			ExpectedVersion: item.Version - 1,
			ActualVersion:   stored.Version,
		}
	}
	r.items[item.ID] = *item
	return nil
}

type edgeRepo Store

func (r *edgeRepo) Create(ctx context.Context, edge *models.DependencyEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[edge.ID] = *edge
	return nil
}

func (r *edgeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[id]; !ok {
		return models.NotFoundError{Kind: "dependency", ID: id}
	}
	delete(r.edges, id)
	return nil
}

func (r *edgeRepo) List(ctx context.Context) ([]*models.DependencyEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.DependencyEdge
	for _, edge := range r.edges {
		cp := edge
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

type conflictRepo Store

func (r *conflictRepo) Create(ctx context.Context, conflict *models.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[conflict.ID] = *conflict
	return nil
}

func (r *conflictRepo) Get(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, models.NotFoundError{Kind: "conflict", ID: id}
	}
	return &c, nil
}

func (r *conflictRepo) Update(ctx context.Context, conflict *models.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conflicts[conflict.ID]
	if !ok {
		return models.NotFoundError{Kind: "conflict", ID: conflict.ID}
	}
	if stored.Version != conflict.Version-1 {
		return models.StaleStateError{
			Kind:            "conflict",
			ID:              conflict.ID,
			ExpectedVersion: conflict.Version - 1,
			ActualVersion:   stored.Version,
		}
	}
	r.conflicts[conflict.ID] = *conflict
	return nil
}

func (r *conflictRepo) ListOpen(ctx context.Context) ([]*models.Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Conflict
	for _, c := range r.conflicts {
		if c.Status == models.ConflictStatusDetected || c.Status == models.ConflictStatusNegotiating {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *conflictRepo) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*models.Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Conflict
	for _, c := range r.conflicts {
		for _, id := range c.ItemIDs {
			if id == itemID {
				cp := c
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type sessionRepo Store

func (r *sessionRepo) Create(ctx context.Context, session *models.NegotiationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (*models.NegotiationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, models.NotFoundError{Kind: "session", ID: id}
	}
	return &sess, nil
}

func (r *sessionRepo) Update(ctx context.Context, session *models.NegotiationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return models.NotFoundError{Kind: "session", ID: session.ID}
	}
	if stored.Version != session.Version-1 {
		return models.StaleStateError{
			Kind:            "session",
			ID:              session.ID,
			ExpectedVersion: session.Version - 1,
			ActualVersion:   stored.Version,
		}
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepo) GetByConflict(ctx context.Context, conflictID uuid.UUID) (*models.NegotiationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.ConflictID == conflictID {
			cp := sess
			return &cp, nil
		}
	}
	return nil, models.NotFoundError{Kind: "session", ID: conflictID}
}
