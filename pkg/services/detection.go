package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/cache"
	"github.com/concord-io/concord/pkg/events"
	"github.com/concord-io/concord/pkg/graph"
	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/oracle"
	"github.com/concord-io/concord/pkg/repository"
)

// positionMetadataKey is the item metadata field carrying a party's stated
// position, fed to the oracle's semantic pass.
const positionMetadataKey = "position"

// ConflictDetector scans scheduled items for incompatibilities.
type ConflictDetector interface {
	// DetectConflicts runs all passes over every active item, persists newly
	// discovered conflicts, and returns them. Previously reported conflicts
	// are suppressed by signature.
	DetectConflicts(ctx context.Context) ([]*models.Conflict, error)
	// ScanCandidate evaluates a not-yet-admitted item against the current
	// schedule. Nothing is persisted; the result feeds admission control.
	ScanCandidate(ctx context.Context, candidate *models.ScheduledItem) []*models.Conflict
}

type conflictDetector struct {
	BaseService
	graph     *graph.Graph
	conflicts repository.ConflictRepository
	sigCache  cache.SignatureCache
	oracle    oracle.ReasoningOracle
}

// NewConflictDetector creates the detector. The oracle may be nil; the
// semantic pass is then skipped entirely.
func NewConflictDetector(
	config ServiceConfig,
	bus events.Bus,
	g *graph.Graph,
	conflicts repository.ConflictRepository,
	sigCache cache.SignatureCache,
	reasoner oracle.ReasoningOracle,
) ConflictDetector {
	return &conflictDetector{
		BaseService: NewBaseService(config, bus),
		graph:       g,
		conflicts:   conflicts,
		sigCache:    sigCache,
		oracle:      reasoner,
	}
}

// DetectConflicts implements ConflictDetector.
func (d *conflictDetector) DetectConflicts(ctx context.Context) ([]*models.Conflict, error) {
	ctx, span := d.config.Tracer(ctx, "detector.detect_conflicts")
	defer span.End()

	items := activeItems(d.graph.Items())
	found := d.pairwisePass(items)
	found = append(found, d.dependencyPass(items)...)
	found = append(found, d.semanticPass(ctx, items)...)
	found = dedupeBySignature(found)

	var fresh []*models.Conflict
	for _, c := range found {
		seen, err := d.seenBefore(ctx, c.Signature())
		if err != nil {
			d.config.Logger.Warn("signature cache unavailable, reporting conflict anyway", map[string]interface{}{
				"signature": c.Signature(),
				"error":     err.Error(),
			})
		}
		if seen {
			continue
		}
		if err := d.conflicts.Create(ctx, c); err != nil {
			return nil, errors.Wrap(err, "failed to persist detected conflict")
		}
		d.publish(events.EventConflictDetected, map[string]interface{}{
			"conflict_id": c.ID.String(),
			"type":        string(c.Type),
			"severity":    string(c.Severity),
		})
		fresh = append(fresh, c)
	}

	d.config.Metrics.RecordGauge("detector_conflicts_found", float64(len(fresh)), nil)
	d.config.Logger.Info("conflict scan completed", map[string]interface{}{
		"items_scanned": len(items),
		"new_conflicts": len(fresh),
	})
	return fresh, nil
}

// ScanCandidate implements ConflictDetector.
func (d *conflictDetector) ScanCandidate(ctx context.Context, candidate *models.ScheduledItem) []*models.Conflict {
	_, span := d.config.Tracer(ctx, "detector.scan_candidate")
	defer span.End()

	var found []*models.Conflict
	for _, existing := range activeItems(d.graph.Items()) {
		if existing.ID == candidate.ID {
			continue
		}
		if c := d.comparePair(candidate, existing); c != nil {
			found = append(found, c)
		}
	}
	return dedupeBySignature(found)
}

// pairwisePass runs the overlap/resource-contention rules over every pair.
func (d *conflictDetector) pairwisePass(items []*models.ScheduledItem) []*models.Conflict {
	var found []*models.Conflict
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if c := d.comparePair(items[i], items[j]); c != nil {
				found = append(found, c)
			}
		}
	}
	return found
}

// comparePair applies the overlap rules to one pair of items, returning a
// conflict or nil.
func (d *conflictDetector) comparePair(a, b *models.ScheduledItem) *models.Conflict {
	if !a.Overlaps(b) {
		return nil
	}

	sameResource := !a.Virtual && !b.Virtual && a.Location != "" && a.Location == b.Location
	sharedParty := a.SharesParty(b)
	if !sameResource && !sharedParty {
		return nil
	}

	conflictType := models.ConflictTypeOverlap
	noun := "participants"
	if sameResource {
		conflictType = models.ConflictTypeResourceContention
		noun = "resource " + a.Location
	}

	severity := models.SeverityMedium
	if a.HasVIP() || b.HasVIP() {
		severity = models.SeverityHigh
	}
	if a.HasVIP() && b.HasVIP() {
		severity = models.SeverityCritical
	}

	return newConflict(conflictType, severity,
		fmt.Sprintf("%q (%s) and %q (%s) overlap while sharing %s",
			a.Title, a.StartTime.Format(time.RFC3339), b.Title, b.StartTime.Format(time.RFC3339), noun),
		a, b)
}

// dependencyPass flags every edge whose target starts before its earliest
// permitted time.
func (d *conflictDetector) dependencyPass(items []*models.ScheduledItem) []*models.Conflict {
	byID := make(map[uuid.UUID]*models.ScheduledItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	var found []*models.Conflict
	for _, e := range d.graph.Edges() {
		source, ok := byID[e.SourceID]
		if !ok {
			continue
		}
		target, ok := byID[e.TargetID]
		if !ok {
			continue
		}
		earliest := e.EarliestTargetStart(source.EndTime())
		if target.StartTime.Before(earliest) {
			found = append(found, newConflict(
				models.ConflictTypeDependencyViolation, models.SeverityHigh,
				fmt.Sprintf("%q starts at %s but must not start before %s (depends on %q)",
					target.Title, target.StartTime.Format(time.RFC3339),
					earliest.Format(time.RFC3339), source.Title),
				source, target))
		}
	}
	return found
}

// semanticPass asks the oracle whether any stated positions clash. It is
// strictly best effort: any oracle failure yields zero semantic conflicts.
func (d *conflictDetector) semanticPass(ctx context.Context, items []*models.ScheduledItem) []*models.Conflict {
	if d.oracle == nil {
		return nil
	}

	positions := make(map[string]string)
	itemsByParty := make(map[string]*models.ScheduledItem)
	for _, it := range items {
		pos, ok := it.Metadata[positionMetadataKey].(string)
		if !ok || pos == "" {
			continue
		}
		positions[it.OwnerParty] = pos
		itemsByParty[it.OwnerParty] = it
	}
	if len(positions) < 2 {
		return nil
	}

	verdict, err := d.oracle.Judge(ctx, oracle.JudgeRequest{
		Question:  oracle.QuestionSemanticConflict,
		Positions: positions,
	})
	if err != nil {
		d.config.Logger.Warn("semantic pass skipped, oracle unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		d.config.Metrics.IncrementCounter("detector_semantic_pass_skipped", 1)
		return nil
	}

	var found []*models.Conflict
	for _, sc := range verdict.Conflicts {
		severity := sc.Severity
		if severity == "" {
			severity = models.SeverityMedium
		}
		c := &models.Conflict{
			ID:          uuid.New(),
			Type:        models.ConflictTypePolicyMisalignment,
			Severity:    severity,
			Status:      models.ConflictStatusDetected,
			Parties:     append(models.StringList{}, sc.Parties...),
			Description: sc.Description,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
			Version:     1,
		}
		for _, p := range sc.Parties {
			if it, ok := itemsByParty[p]; ok {
				c.ItemIDs = append(c.ItemIDs, it.ID)
			}
		}
		sort.Strings(c.Parties)
		found = append(found, c)
	}
	return found
}

// seenBefore consults the signature cache and the open-conflict set.
func (d *conflictDetector) seenBefore(ctx context.Context, signature string) (bool, error) {
	if d.sigCache != nil {
		seen, err := d.sigCache.Seen(ctx, signature)
		if err == nil {
			return seen, nil
		}
		// Cache failure degrades to a repository check.
		open, repoErr := d.conflicts.ListOpen(ctx)
		if repoErr != nil {
			return false, err
		}
		for _, c := range open {
			if c.Signature() == signature {
				return true, nil
			}
		}
		return false, err
	}

	open, err := d.conflicts.ListOpen(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range open {
		if c.Signature() == signature {
			return true, nil
		}
	}
	return false, nil
}

// newConflict builds a pairwise conflict with canonical party/id ordering.
func newConflict(t models.ConflictType, sev models.ConflictSeverity, description string, a, b *models.ScheduledItem) *models.Conflict {
	parties := models.StringList{a.OwnerParty}
	if b.OwnerParty != a.OwnerParty {
		parties = append(parties, b.OwnerParty)
	}
	sort.Strings(parties)

	now := time.Now().UTC()
	return &models.Conflict{
		ID:          uuid.New(),
		Type:        t,
		Severity:    sev,
		Status:      models.ConflictStatusDetected,
		ItemIDs:     models.UUIDList{a.ID, b.ID},
		Parties:     parties,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// dedupeBySignature keeps the first conflict per signature, preserving order.
func dedupeBySignature(conflicts []*models.Conflict) []*models.Conflict {
	seen := make(map[string]bool, len(conflicts))
	out := conflicts[:0]
	for _, c := range conflicts {
		sig := c.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, c)
	}
	return out
}

// activeItems filters to items still occupying their slot.
func activeItems(items []*models.ScheduledItem) []*models.ScheduledItem {
	out := items[:0]
	for _, it := range items {
		if it.IsActive() {
			out = append(out, it)
		}
	}
	return out
}
