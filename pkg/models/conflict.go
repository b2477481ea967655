package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConflictType is the closed set of conflict kinds the detector can emit
type ConflictType string

const (
	ConflictTypeOverlap             ConflictType = "overlap"
	ConflictTypeResourceContention  ConflictType = "resource_contention"
	ConflictTypeDependencyViolation ConflictType = "dependency_violation"
	ConflictTypePolicyMisalignment  ConflictType = "policy_misalignment"
)

// ConflictSeverity ranks how urgently a conflict needs resolution
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// severityRank orders severities for comparisons
var severityRank = map[ConflictSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is equal to or more severe than other.
func (s ConflictSeverity) AtLeast(other ConflictSeverity) bool {
	return severityRank[s] >= severityRank[other]
}

// ConflictStatus tracks a conflict through its lifecycle
type ConflictStatus string

const (
	ConflictStatusDetected    ConflictStatus = "detected"
	ConflictStatusNegotiating ConflictStatus = "negotiating"
	ConflictStatusResolved    ConflictStatus = "resolved"
	ConflictStatusEscalated   ConflictStatus = "escalated"
)

// Conflict is a detected incompatibility between two or more scheduled
// items or stated positions.
type Conflict struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Type        ConflictType     `json:"type" db:"type"`
	Severity    ConflictSeverity `json:"severity" db:"severity"`
	Status      ConflictStatus   `json:"status" db:"status"`
	ItemIDs     UUIDList         `json:"item_ids" db:"item_ids"`
	Parties     StringList       `json:"parties" db:"parties"`
	Description string           `json:"description" db:"description"`
	Resolution  *Resolution      `json:"resolution,omitempty" db:"resolution"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int       `json:"version" db:"version"`
}

// Signature identifies the underlying clash independent of detection order:
// same type plus same sorted item/party identities means the same conflict.
func (c *Conflict) Signature() string {
	ids := make([]string, 0, len(c.ItemIDs)+len(c.Parties))
	for _, id := range c.ItemIDs {
		ids = append(ids, id.String())
	}
	ids = append(ids, c.Parties...)
	sort.Strings(ids)
	return string(c.Type) + ":" + strings.Join(ids, ",")
}

// ResolutionKind is the closed set of structured resolution shapes
type ResolutionKind string

const (
	// ResolutionTimeShift moves an item to a new start time and cascades
	// through the dependency graph.
	ResolutionTimeShift ResolutionKind = "time_shift"
	// ResolutionResourceSwitch rebinds an item to a different location or
	// switches it to virtual mode.
	ResolutionResourceSwitch ResolutionKind = "resource_switch"
	// ResolutionDefer pushes an item a full day out at the same time.
	ResolutionDefer ResolutionKind = "defer"
)

// Resolution is the structured outcome of a negotiation. Only the fields
// relevant to its Kind are set.
type Resolution struct {
	Kind   ResolutionKind `json:"kind"`
	ItemID uuid.UUID      `json:"item_id"`

	// ResolutionTimeShift / ResolutionDefer
	NewStart *time.Time `json:"new_start,omitempty"`

	// ResolutionResourceSwitch
	NewLocation *string `json:"new_location,omitempty"`
	Virtual     *bool   `json:"virtual,omitempty"`
}

// Value implements driver.Valuer for database storage
func (r *Resolution) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *Resolution) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("cannot scan %T into Resolution", value)
	}
}

// UUIDList is a JSON-serializable uuid slice for database storage
type UUIDList []uuid.UUID

// Value implements driver.Valuer for database storage
func (l UUIDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *UUIDList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into UUIDList", value)
	}
}

// StringList is a JSON-serializable string slice for database storage
type StringList []string

// Value implements driver.Valuer for database storage
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}
