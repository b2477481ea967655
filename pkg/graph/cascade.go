package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/concord-io/concord/pkg/models"
)

// ImpactedItem describes a successor whose constraint would be violated by
// a proposed move, together with the minimum start time that would satisfy
// the edge.
type ImpactedItem struct {
	ItemID        uuid.UUID     `json:"item_id"`
	CurrentStart  time.Time     `json:"current_start"`
	RequiredStart time.Time     `json:"required_start"`
	Lag           time.Duration `json:"lag"`
}

// GetCascadingImpact previews the one-hop effect of moving an item to
// proposedNewStart: every direct successor whose start would precede the
// new end plus lag is returned with its minimum required start. No state
// is modified and no recursion happens; this is a "what would happen" query.
func (g *Graph) GetCascadingImpact(itemID uuid.UUID, proposedNewStart time.Time) ([]ImpactedItem, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	item, ok := g.items[itemID]
	if !ok {
		return nil, models.NotFoundError{Kind: "item", ID: itemID}
	}
	newEnd := proposedNewStart.Add(item.Duration)

	var impacted []ImpactedItem
	for _, e := range g.successorsLocked(itemID) {
		succ, ok := g.items[e.TargetID]
		if !ok {
			continue
		}
		required := newEnd.Add(e.Lag)
		if succ.StartTime.Before(required) {
			impacted = append(impacted, ImpactedItem{
				ItemID:        succ.ID,
				CurrentStart:  succ.StartTime,
				RequiredStart: required,
				Lag:           e.Lag,
			})
		}
	}
	return impacted, nil
}

// PropagateChanges moves an item to newStart and pushes every violated
// successor forward, breadth-first, until all finish-to-start constraints
// hold again. A processed set guarantees each item is finalized at most
// once even when multiple paths converge on the same successor, so the
// walk terminates on any finite acyclic graph. The returned change log is
// ordered by application and holds at most one entry per item.
func (g *Graph) PropagateChanges(itemID uuid.UUID, newStart time.Time) ([]models.ChangeRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.items[itemID]; !ok {
		return nil, models.NotFoundError{Kind: "item", ID: itemID}
	}

	type move struct {
		id     uuid.UUID
		start  time.Time
		reason string
	}

	var changes []models.ChangeRecord
	processed := make(map[uuid.UUID]bool)
	queue := []move{{id: itemID, start: newStart, reason: "requested reschedule"}}

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		if processed[m.id] {
			continue
		}
		processed[m.id] = true

		item := g.items[m.id]
		if !item.StartTime.Equal(m.start) {
			old := item.StartTime
			item.StartTime = m.start
			item.UpdatedAt = time.Now().UTC()
			item.Version++
			changes = append(changes, models.ChangeRecord{
				ItemID:   item.ID,
				OldStart: old,
				NewStart: m.start,
				Reason:   m.reason,
			})
		}

		end := item.EndTime()
		for _, e := range g.successorsLocked(m.id) {
			succ, ok := g.items[e.TargetID]
			if !ok || processed[e.TargetID] {
				continue
			}
			required := end.Add(e.Lag)
			if succ.StartTime.Before(required) {
				queue = append(queue, move{
					id:     e.TargetID,
					start:  required,
					reason: fmt.Sprintf("pushed by predecessor %s", item.ID),
				})
			}
		}
	}

	if len(changes) > 0 {
		g.logger.Info("cascading reschedule applied", map[string]interface{}{
			"seed_item": itemID,
			"moved":     len(changes),
		})
	}
	return changes, nil
}
