// Package oracle defines the reasoning oracle: an external, pluggable
// component the engine consults for free-text judgment calls (semantic
// conflict scans, convergence checks, fallback proposal drafting). The
// engine treats every oracle failure as an abstention, never a crash.
package oracle

import (
	"context"

	"github.com/concord-io/concord/pkg/models"
)

// ProposeRequest carries the structured context for drafting one party's
// proposal in a negotiation round.
type ProposeRequest struct {
	Party          string   `json:"party"`
	ConflictType   string   `json:"conflict_type"`
	Description    string   `json:"description"`
	PriorProposals []string `json:"prior_proposals,omitempty"`
	Guidance       string   `json:"guidance,omitempty"`
}

// JudgeRequest asks for a structured verdict over a set of positions.
type JudgeRequest struct {
	// Question frames what is being judged; one of the Question* constants.
	Question  string            `json:"question"`
	Positions map[string]string `json:"positions"`
}

// Judge questions
const (
	// QuestionConvergence asks whether the latest round's proposals agree
	// on one concrete outcome.
	QuestionConvergence = "convergence"
	// QuestionSemanticConflict asks whether any stated positions are
	// mutually incompatible (contradictory targets, policy clashes).
	QuestionSemanticConflict = "semantic_conflict"
)

// Verdict is the structured response to a JudgeRequest.
type Verdict struct {
	Converged      bool               `json:"converged"`
	AgreedProposal string             `json:"agreed_proposal,omitempty"`
	Conflicts      []SemanticConflict `json:"conflicts,omitempty"`
}

// SemanticConflict is one non-temporal incompatibility found by the oracle.
type SemanticConflict struct {
	Parties     []string                `json:"parties"`
	Description string                  `json:"description"`
	Severity    models.ConflictSeverity `json:"severity"`
}

// ReasoningOracle is the narrow interface the engine calls. Implementations
// may be backed by a language model, a rules engine, or a human queue; the
// engine's correctness does not depend on which.
type ReasoningOracle interface {
	Propose(ctx context.Context, req ProposeRequest) (string, error)
	Judge(ctx context.Context, req JudgeRequest) (*Verdict, error)
}

// Unavailable is an oracle that always errors. It is wired when no backing
// is configured; callers degrade to abstentions.
type Unavailable struct{}

func (Unavailable) Propose(ctx context.Context, req ProposeRequest) (string, error) {
	return "", models.ErrOracleTimeout
}

func (Unavailable) Judge(ctx context.Context, req JudgeRequest) (*Verdict, error) {
	return nil, models.ErrOracleTimeout
}
