// Package repository defines persistence interfaces for the engine's
// domain records. The engine assumes read-your-writes consistency within
// one logical transaction; both the in-memory and postgres implementations
// provide it.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
)

// ItemRepository stores scheduled items
type ItemRepository interface {
	Create(ctx context.Context, item *models.ScheduledItem) error
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledItem, error)
	// ListActive returns all items still occupying their slot.
	ListActive(ctx context.Context) ([]*models.ScheduledItem, error)
	// Update persists the item if its stored version matches
	// item.Version-1 (the caller bumps Version before calling), failing
	// with StaleStateError otherwise.
	Update(ctx context.Context, item *models.ScheduledItem) error
}

// EdgeRepository stores dependency edges
type EdgeRepository interface {
	Create(ctx context.Context, edge *models.DependencyEdge) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*models.DependencyEdge, error)
}

// ConflictRepository stores detected conflicts
type ConflictRepository interface {
	Create(ctx context.Context, conflict *models.Conflict) error
	Get(ctx context.Context, id uuid.UUID) (*models.Conflict, error)
	Update(ctx context.Context, conflict *models.Conflict) error
	// ListOpen returns conflicts not yet resolved or escalated.
	ListOpen(ctx context.Context) ([]*models.Conflict, error)
	// ListByItem returns the conflict history touching an item, newest first.
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]*models.Conflict, error)
}

// SessionRepository stores negotiation sessions
type SessionRepository interface {
	Create(ctx context.Context, session *models.NegotiationSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.NegotiationSession, error)
	Update(ctx context.Context, session *models.NegotiationSession) error
	GetByConflict(ctx context.Context, conflictID uuid.UUID) (*models.NegotiationSession, error)
}

// Store bundles the four repositories behind one construction point
type Store interface {
	Items() ItemRepository
	Edges() EdgeRepository
	Conflicts() ConflictRepository
	Sessions() SessionRepository
}
