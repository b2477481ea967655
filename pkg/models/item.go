package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScheduledItem represents a time-boxed activity (meeting, session, resource
// booking) proposed by a stakeholder group and subject to conflict detection.
type ScheduledItem struct {
	// Core fields
	ID         uuid.UUID  `json:"id" db:"id"`
	OwnerParty string     `json:"owner_party" db:"owner_party"`
	Title      string     `json:"title" db:"title"`
	Status     ItemStatus `json:"status" db:"status"`

	// Schedule
	StartTime time.Time     `json:"start_time" db:"start_time"`
	Duration  time.Duration `json:"duration" db:"duration"`

	// Resource binding. Virtual items are resource-unconstrained and never
	// contend for a location.
	Location string `json:"location,omitempty" db:"location"`
	Virtual  bool   `json:"virtual" db:"virtual"`

	// Required participants
	Attendees AttendeeList `json:"attendees" db:"attendees"`

	// Free-form data (provisional markers, negotiation context, ...)
	Metadata JSONMap `json:"metadata,omitempty" db:"metadata"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`
}

// EndTime returns the scheduled end of the item.
func (i *ScheduledItem) EndTime() time.Time {
	return i.StartTime.Add(i.Duration)
}

// Overlaps reports whether the two items' time ranges intersect.
func (i *ScheduledItem) Overlaps(other *ScheduledItem) bool {
	return i.StartTime.Before(other.EndTime()) && i.EndTime().After(other.StartTime)
}

// HasVIP reports whether any required participant is marked high priority.
func (i *ScheduledItem) HasVIP() bool {
	for _, a := range i.Attendees {
		if a.VIP {
			return true
		}
	}
	return false
}

// SharesParty reports whether the two items have a common owner or attendee.
func (i *ScheduledItem) SharesParty(other *ScheduledItem) bool {
	if i.OwnerParty == other.OwnerParty {
		return true
	}
	ids := make(map[string]bool, len(i.Attendees)+1)
	ids[i.OwnerParty] = true
	for _, a := range i.Attendees {
		ids[a.ID] = true
	}
	if ids[other.OwnerParty] {
		return true
	}
	for _, a := range other.Attendees {
		if ids[a.ID] {
			return true
		}
	}
	return false
}

// IsActive reports whether the item still occupies its slot.
func (i *ScheduledItem) IsActive() bool {
	return i.Status == ItemStatusScheduled
}

// ItemStatus represents the lifecycle state of a scheduled item
type ItemStatus string

const (
	ItemStatusScheduled ItemStatus = "scheduled"
	ItemStatusCancelled ItemStatus = "cancelled"
	ItemStatusCompleted ItemStatus = "completed"
)

// Attendee is a required participant of a scheduled item
type Attendee struct {
	ID  string `json:"id"`
	VIP bool   `json:"vip,omitempty"`
}

// AttendeeList is a JSON-serializable attendee set for database storage
type AttendeeList []Attendee

// Value implements driver.Valuer for database storage
func (l AttendeeList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *AttendeeList) Scan(value interface{}) error {
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
		return fmt.Errorf("cannot scan %T into AttendeeList", value)
	}
}

// JSONMap is a map that can be stored as JSONB in the database
type JSONMap map[string]interface{}

// Value implements driver.Valuer for database storage
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}
