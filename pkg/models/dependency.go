package models

import (
	"time"

	"github.com/google/uuid"
)

// DependencyKind describes the ordering relation an edge enforces
type DependencyKind string

const (
	// DependencyFinishToStart requires the target to start after the source
	// ends, plus the edge's lag.
	DependencyFinishToStart DependencyKind = "finish_to_start"
)

// DependencyEdge is a declared ordering constraint between two scheduled
// items. The edge set over all items must remain acyclic; this is enforced
// at insertion time by the dependency graph.
type DependencyEdge struct {
	ID       uuid.UUID      `json:"id" db:"id"`
	SourceID uuid.UUID      `json:"source_id" db:"source_id"`
	TargetID uuid.UUID      `json:"target_id" db:"target_id"`
	Kind     DependencyKind `json:"kind" db:"kind"`
	Lag      time.Duration  `json:"lag" db:"lag"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EarliestTargetStart returns the minimum start time the edge permits for
// its target, given the source's end time.
func (e *DependencyEdge) EarliestTargetStart(sourceEnd time.Time) time.Time {
	return sourceEnd.Add(e.Lag)
}

// ChangeRecord is one entry of the audit log produced by cascading
// propagation: which item moved, from where to where, and why.
type ChangeRecord struct {
	ItemID   uuid.UUID `json:"item_id"`
	OldStart time.Time `json:"old_start"`
	NewStart time.Time `json:"new_start"`
	Reason   string    `json:"reason"`
}
