package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionState is the negotiation state machine. Resolved, PendingApproval
// and Escalated are terminal.
type SessionState string

const (
	SessionStateInitiated       SessionState = "initiated"
	SessionStateProposing       SessionState = "proposing"
	SessionStateEvaluating      SessionState = "evaluating"
	SessionStateResolved        SessionState = "resolved"
	SessionStatePendingApproval SessionState = "pending_approval"
	SessionStateEscalated       SessionState = "escalated"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionStateResolved || s == SessionStatePendingApproval || s == SessionStateEscalated
}

// NegotiationSession drives one conflict toward resolution through a
// bounded sequence of proposal/evaluation rounds.
type NegotiationSession struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	ConflictID uuid.UUID    `json:"conflict_id" db:"conflict_id"`
	Parties    StringList   `json:"parties" db:"parties"`
	State      SessionState `json:"state" db:"state"`

	Round     int       `json:"round" db:"round"`
	MaxRounds int       `json:"max_rounds" db:"max_rounds"`
	Rounds    RoundList `json:"rounds" db:"rounds"`

	// Deadline is the wall-clock budget; a breach forces escalation.
	Deadline time.Time `json:"deadline" db:"deadline"`

	// PendingResolution holds a consensus outcome awaiting explicit human
	// approval before application.
	PendingResolution *Resolution `json:"pending_resolution,omitempty" db:"pending_resolution"`

	// EscalationOptions are the most viable unresolved options handed to a
	// human reviewer when the session escalates.
	EscalationOptions OptionList `json:"escalation_options,omitempty" db:"escalation_options"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int       `json:"version" db:"version"`
}

// CurrentRound returns the in-progress round, or nil before round 1.
func (s *NegotiationSession) CurrentRound() *NegotiationRound {
	if len(s.Rounds) == 0 {
		return nil
	}
	return &s.Rounds[len(s.Rounds)-1]
}

// NegotiationRound holds one proposal per involved party plus the guidance
// carried forward from the previous round.
type NegotiationRound struct {
	Number    int        `json:"number"`
	Guidance  string     `json:"guidance,omitempty"`
	Proposals []Proposal `json:"proposals"`
}

// Proposal is a single party's position within a round. A party whose
// generation call failed is recorded as an abstention.
type Proposal struct {
	Party      string      `json:"party"`
	OptionID   string      `json:"option_id,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Abstained  bool        `json:"abstained,omitempty"`
}

// ProposalOption is one ranked compromise candidate generated for a conflict.
type ProposalOption struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Resolution  *Resolution `json:"resolution"`
}

// RoundList is a JSON-serializable round slice for database storage
type RoundList []NegotiationRound

// Value implements driver.Valuer for database storage
func (l RoundList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *RoundList) Scan(value interface{}) error {
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
		return fmt.Errorf("cannot scan %T into RoundList", value)
	}
}

// OptionList is a JSON-serializable option slice for database storage
type OptionList []ProposalOption

// Value implements driver.Valuer for database storage
func (l OptionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *OptionList) Scan(value interface{}) error {
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
		return fmt.Errorf("cannot scan %T into OptionList", value)
	}
}
