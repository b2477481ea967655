package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/oracle"
)

// judgeOracle scripts the Judge side of the oracle for detection tests.
type judgeOracle struct {
	verdict *oracle.Verdict
	err     error
	judged  int
}

func (o *judgeOracle) Propose(ctx context.Context, req oracle.ProposeRequest) (string, error) {
	return "", models.ErrOracleTimeout
}

func (o *judgeOracle) Judge(ctx context.Context, req oracle.JudgeRequest) (*oracle.Verdict, error) {
	o.judged++
	return o.verdict, o.err
}

func TestDetectResourceContention(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	// Same room, 10:00-12:00 and 11:00-13:00, no VIPs.
	f.addItem(t, withLocation(itemAt("eng", "platform review", 10, 2*time.Hour), "room-a"))
	f.addItem(t, withLocation(itemAt("data", "pipeline sync", 11, 2*time.Hour), "room-a"))

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictTypeResourceContention, conflicts[0].Type)
	assert.Equal(t, models.SeverityMedium, conflicts[0].Severity)
	assert.ElementsMatch(t, []string{"eng", "data"}, []string(conflicts[0].Parties))
}

func TestDetectSeverityEscalatesWithVIPs(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := withVIP(withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"), "ceo")
	b := withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-a")
	f.addItem(t, a)
	f.addItem(t, b)

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityHigh, conflicts[0].Severity)
}

func TestDetectSeverityCriticalWhenBothVIP(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.addItem(t, withVIP(withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"), "ceo"))
	f.addItem(t, withVIP(withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-a"), "cfo"))

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityCritical, conflicts[0].Severity)
}

func TestDetectOverlapRequiresSharedPartyOrResource(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	// Overlapping but disjoint parties and rooms: no conflict.
	f.addItem(t, withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"))
	f.addItem(t, withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-b"))

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectSharedAttendeeOverlap(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := itemAt("eng", "design review", 10, 2*time.Hour)
	a.Attendees = models.AttendeeList{{ID: "shared-engineer"}}
	b := itemAt("data", "metrics sync", 11, 2*time.Hour)
	b.Attendees = models.AttendeeList{{ID: "shared-engineer"}}
	f.addItem(t, a)
	f.addItem(t, b)

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictTypeOverlap, conflicts[0].Type)
}

func TestDetectDependencyViolation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	setup := f.addItem(t, itemAt("ops", "environment setup", 10, 2*time.Hour))
	deploy := f.addItem(t, itemAt("ops", "deploy", 11, time.Hour))
	_, err := f.graph.AddDependency(setup.ID, deploy.ID, 0)
	require.NoError(t, err)

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)

	var violation *models.Conflict
	for _, c := range conflicts {
		if c.Type == models.ConflictTypeDependencyViolation {
			violation = c
		}
	}
	require.NotNil(t, violation)
	assert.Equal(t, models.SeverityHigh, violation.Severity)
}

func TestDetectSuppressesRepeatSignatures(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.addItem(t, withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"))
	f.addItem(t, withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-a"))

	first, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Re-scanning the unchanged schedule reports nothing new.
	second, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestDetectSemanticPass(t *testing.T) {
	reasoner := &judgeOracle{verdict: &oracle.Verdict{
		Conflicts: []oracle.SemanticConflict{{
			Parties:     []string{"eng", "data"},
			Description: "engineering freeze contradicts data launch window",
			Severity:    models.SeverityHigh,
		}},
	}}
	f := newFixture(t, fixtureOptions{oracle: reasoner})

	a := itemAt("eng", "freeze window", 9, time.Hour)
	a.Metadata = models.JSONMap{"position": "no deploys this week"}
	b := itemAt("data", "launch prep", 14, time.Hour)
	b.Metadata = models.JSONMap{"position": "ship the new pipeline this week"}
	f.addItem(t, a)
	f.addItem(t, b)

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictTypePolicyMisalignment, conflicts[0].Type)
	assert.Equal(t, models.SeverityHigh, conflicts[0].Severity)
	assert.Equal(t, 1, reasoner.judged)
}

func TestDetectSemanticPassSurvivesOracleFailure(t *testing.T) {
	reasoner := &judgeOracle{err: models.ErrOracleTimeout}
	f := newFixture(t, fixtureOptions{oracle: reasoner})

	a := itemAt("eng", "freeze window", 9, time.Hour)
	a.Metadata = models.JSONMap{"position": "no deploys"}
	b := itemAt("data", "launch prep", 14, time.Hour)
	b.Metadata = models.JSONMap{"position": "ship now"}
	f.addItem(t, a)
	f.addItem(t, b)

	conflicts, err := f.detector.DetectConflicts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestScanCandidateDoesNotPersist(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.addItem(t, withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"))
	candidate := withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-a")

	found := f.detector.ScanCandidate(context.Background(), candidate)
	require.Len(t, found, 1)

	open, err := f.store.Conflicts().ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}
