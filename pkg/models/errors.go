package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Sentinel errors surfaced by the engine
var (
	ErrStaleState     = errors.New("stale state: entity was modified concurrently")
	ErrOracleTimeout  = errors.New("reasoning oracle timed out")
	ErrOracleParse    = errors.New("reasoning oracle returned an unparsable response")
	ErrSessionClosed  = errors.New("negotiation session is in a terminal state")
	ErrEmptyProposals = errors.New("no proposals recorded for round")
)

// CycleError reports an AddDependency call rejected because the new edge
// would close a cycle. The edge set is unchanged.
type CycleError struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
}

func (e CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s is already reachable from %s", e.SourceID, e.TargetID)
}

// SelfDependencyError reports an edge whose source and target are the same item.
type SelfDependencyError struct {
	ItemID uuid.UUID
}

func (e SelfDependencyError) Error() string {
	return fmt.Sprintf("item %s cannot depend on itself", e.ItemID)
}

// DuplicateEdgeError reports an edge that already exists.
type DuplicateEdgeError struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
}

func (e DuplicateEdgeError) Error() string {
	return fmt.Sprintf("dependency %s -> %s already exists", e.SourceID, e.TargetID)
}

// NotFoundError reports a missing entity by kind and identity.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err (or its cause) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// StaleStateError reports an optimistic-concurrency check failure at
// resolution-apply time. The caller should re-read and retry once.
type StaleStateError struct {
	Kind            string
	ID              uuid.UUID
	ExpectedVersion int
	ActualVersion   int
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("stale %s %s: expected version %d, found %d",
		e.Kind, e.ID, e.ExpectedVersion, e.ActualVersion)
}

// IsStaleState reports whether err (or its cause) is a StaleStateError.
func IsStaleState(err error) bool {
	var ss StaleStateError
	return errors.As(err, &ss) || errors.Is(err, ErrStaleState)
}
