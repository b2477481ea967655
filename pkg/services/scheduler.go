package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/events"
	"github.com/concord-io/concord/pkg/graph"
	"github.com/concord-io/concord/pkg/locks"
	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/notify"
	"github.com/concord-io/concord/pkg/repository"
)

// provisionalMetadataKey marks an item admitted while its conflicts are
// still being negotiated.
const provisionalMetadataKey = "provisional"

// BookingOutcome is the admission verdict for a booking request
type BookingOutcome string

const (
	BookingAdmitted           BookingOutcome = "admitted"
	BookingDenied             BookingOutcome = "denied"
	BookingPendingNegotiation BookingOutcome = "pending_negotiation"
)

// BookingDecision is the full admission result returned to the caller.
type BookingDecision struct {
	Outcome   BookingOutcome        `json:"outcome"`
	Item      *models.ScheduledItem `json:"item,omitempty"`
	Conflicts []*models.Conflict    `json:"conflicts,omitempty"`
	SessionID *uuid.UUID            `json:"session_id,omitempty"`
	Reasons   []string              `json:"reasons,omitempty"`
}

// SchedulerConfig tunes admission and alternative-time search.
type SchedulerConfig struct {
	// LockTTL bounds how long a schedule mutation may hold its lock.
	// Zero means 30 seconds.
	LockTTL time.Duration
	// ProbeStep is the forward increment used by SuggestAlternativeTimes.
	// Zero means one hour.
	ProbeStep time.Duration
	// ProbeHorizon caps how many probes the search makes. Zero means 48.
	ProbeHorizon int
	// AutoNegotiate runs provisional admissions' negotiation sessions to
	// completion in the background. Disabled, sessions are created but the
	// caller drives the rounds.
	AutoNegotiate bool
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.ProbeStep <= 0 {
		c.ProbeStep = time.Hour
	}
	if c.ProbeHorizon <= 0 {
		c.ProbeHorizon = 48
	}
	return c
}

// Scheduler owns admission control and all direct schedule mutations.
type Scheduler interface {
	ResolutionApplier

	// RequestBooking admits, denies, or provisionally admits a candidate
	// item after a scoped conflict scan.
	RequestBooking(ctx context.Context, item *models.ScheduledItem) (*BookingDecision, error)
	// SuggestAlternativeTimes probes forward from the item's requested
	// start in fixed steps, returning up to maxSuggestions conflict-free
	// starts. It never searches backward.
	SuggestAlternativeTimes(ctx context.Context, item *models.ScheduledItem, maxSuggestions int) ([]time.Time, error)
	// CancelBooking releases an item's slot.
	CancelBooking(ctx context.Context, itemID uuid.UUID) error

	// AddDependency inserts a finish-to-start edge, rejecting self-edges,
	// duplicates, and anything that would create a cycle.
	AddDependency(ctx context.Context, sourceID, targetID uuid.UUID, lag time.Duration) (*models.DependencyEdge, error)
	// GetCascadingImpact previews the one-hop effect of a proposed move.
	GetCascadingImpact(ctx context.Context, itemID uuid.UUID, newStart time.Time) ([]graph.ImpactedItem, error)
	// PropagateChanges moves an item and pushes violated successors until
	// every dependency holds, returning the ordered change log.
	PropagateChanges(ctx context.Context, itemID uuid.UUID, newStart time.Time) ([]models.ChangeRecord, error)

	// ConflictHistory lists the conflicts that have touched an item.
	ConflictHistory(ctx context.Context, itemID uuid.UUID) ([]*models.Conflict, error)

	// SetNegotiator binds the coordinator used for provisional admissions.
	// Called once during wiring; unset, provisional admissions skip
	// session creation.
	SetNegotiator(n NegotiationCoordinator)
	// Wait blocks until background negotiations have finished.
	Wait()
}

type scheduler struct {
	BaseService
	schedCfg   SchedulerConfig
	graph      *graph.Graph
	store      repository.Store
	detector   ConflictDetector
	locks      locks.Manager
	notifier   notify.Notifier
	negotiator NegotiationCoordinator
	background sync.WaitGroup
}

// NewScheduler wires the scheduler over the live graph and store.
func NewScheduler(
	config ServiceConfig,
	schedCfg SchedulerConfig,
	bus events.Bus,
	g *graph.Graph,
	store repository.Store,
	detector ConflictDetector,
	lockMgr locks.Manager,
	notifier notify.Notifier,
) Scheduler {
	return &scheduler{
		BaseService: NewBaseService(config, bus),
		schedCfg:    schedCfg.withDefaults(),
		graph:       g,
		store:       store,
		detector:    detector,
		locks:       lockMgr,
		notifier:    notifier,
	}
}

// SetNegotiator implements Scheduler.
func (s *scheduler) SetNegotiator(n NegotiationCoordinator) {
	s.negotiator = n
}

// Wait implements Scheduler.
func (s *scheduler) Wait() {
	s.background.Wait()
}

// RequestBooking implements Scheduler.
func (s *scheduler) RequestBooking(ctx context.Context, item *models.ScheduledItem) (*BookingDecision, error) {
	ctx, span := s.config.Tracer(ctx, "scheduler.request_booking")
	defer span.End()

	if err := validateBooking(item); err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now().UTC()
	item.Status = models.ItemStatusScheduled
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Version = 1

	conflicts := s.detector.ScanCandidate(ctx, item)

	if reasons := s.vipBlockReasons(item, conflicts); len(reasons) > 0 {
		s.config.Metrics.IncrementCounterWithLabels("bookings_decided", 1, map[string]string{"outcome": string(BookingDenied)})
		s.publish(events.EventBookingDenied, map[string]interface{}{
			"item_id": item.ID.String(),
			"title":   item.Title,
		})
		s.dispatch(notify.Notification{
			Kind:     notify.KindBookingDenied,
			Audience: []string{item.OwnerParty},
			Subject:  "booking denied",
			Body:     fmt.Sprintf("booking %q denied: %d conflict(s) involve a high-priority participant", item.Title, len(reasons)),
		})
		s.config.Logger.Info("booking denied", map[string]interface{}{
			"item_id":   item.ID,
			"conflicts": len(conflicts),
		})
		return &BookingDecision{
			Outcome:   BookingDenied,
			Conflicts: conflicts,
			Reasons:   reasons,
		}, nil
	}

	provisional := len(conflicts) > 0
	if provisional {
		if item.Metadata == nil {
			item.Metadata = models.JSONMap{}
		}
		item.Metadata[provisionalMetadataKey] = true
	}

	if err := s.store.Items().Create(ctx, item); err != nil {
		return nil, errors.Wrap(err, "failed to persist item")
	}
	s.graph.UpsertItem(item)

	if !provisional {
		s.config.Metrics.IncrementCounterWithLabels("bookings_decided", 1, map[string]string{"outcome": string(BookingAdmitted)})
		s.publish(events.EventBookingAdmitted, map[string]interface{}{
			"item_id": item.ID.String(),
			"title":   item.Title,
		})
		return &BookingDecision{Outcome: BookingAdmitted, Item: item}, nil
	}

	decision := &BookingDecision{
		Outcome:   BookingAdmitted,
		Item:      item,
		Conflicts: conflicts,
	}
	if anyAtLeast(conflicts, models.SeverityHigh) {
		decision.Outcome = BookingPendingNegotiation
	}

	for _, c := range conflicts {
		if err := s.store.Conflicts().Create(ctx, c); err != nil {
			return nil, errors.Wrap(err, "failed to persist admission conflict")
		}
		s.publish(events.EventConflictDetected, map[string]interface{}{
			"conflict_id": c.ID.String(),
			"type":        string(c.Type),
			"severity":    string(c.Severity),
		})
	}

	if s.negotiator != nil {
		session, err := s.negotiator.Initiate(ctx, conflicts[0].ID)
		if err != nil {
			s.config.Logger.Error("failed to open negotiation for provisional booking", map[string]interface{}{
				"item_id":     item.ID,
				"conflict_id": conflicts[0].ID,
				"error":       err.Error(),
			})
		} else {
			decision.SessionID = &session.ID
			if s.schedCfg.AutoNegotiate {
				s.background.Add(1)
				go func(sessionID uuid.UUID) {
					defer s.background.Done()
					if _, err := s.negotiator.RunToCompletion(context.Background(), sessionID); err != nil {
						s.config.Logger.Error("background negotiation failed", map[string]interface{}{
							"session_id": sessionID,
							"error":      err.Error(),
						})
					}
				}(session.ID)
			}
		}
	}

	s.config.Metrics.IncrementCounterWithLabels("bookings_decided", 1, map[string]string{"outcome": string(decision.Outcome)})
	s.publish(events.EventBookingProvisional, map[string]interface{}{
		"item_id":   item.ID.String(),
		"conflicts": len(conflicts),
	})
	s.config.Logger.Info("booking admitted provisionally", map[string]interface{}{
		"item_id":   item.ID,
		"outcome":   decision.Outcome,
		"conflicts": len(conflicts),
	})
	return decision, nil
}

// SuggestAlternativeTimes implements Scheduler.
func (s *scheduler) SuggestAlternativeTimes(ctx context.Context, item *models.ScheduledItem, maxSuggestions int) ([]time.Time, error) {
	if err := validateBooking(item); err != nil {
		return nil, err
	}
	if maxSuggestions <= 0 {
		maxSuggestions = 3
	}

	probe := *item
	var suggestions []time.Time
	for i := 1; i <= s.schedCfg.ProbeHorizon && len(suggestions) < maxSuggestions; i++ {
		probe.StartTime = item.StartTime.Add(time.Duration(i) * s.schedCfg.ProbeStep)
		if len(s.detector.ScanCandidate(ctx, &probe)) == 0 {
			suggestions = append(suggestions, probe.StartTime)
		}
	}
	return suggestions, nil
}

// CancelBooking implements Scheduler.
func (s *scheduler) CancelBooking(ctx context.Context, itemID uuid.UUID) error {
	release, err := s.locks.Acquire(ctx, "item:"+itemID.String(), s.schedCfg.LockTTL)
	if err != nil {
		return errors.Wrap(err, "failed to acquire item lock")
	}
	defer release()

	item, err := s.graph.Item(itemID)
	if err != nil {
		return err
	}
	item.Status = models.ItemStatusCancelled
	item.UpdatedAt = time.Now().UTC()
	item.Version++
	if err := s.store.Items().Update(ctx, item); err != nil {
		return errors.Wrap(err, "failed to persist cancellation")
	}
	s.graph.UpsertItem(item)

	s.config.Logger.Info("booking cancelled", map[string]interface{}{"item_id": itemID})
	return nil
}

// AddDependency implements Scheduler.
func (s *scheduler) AddDependency(ctx context.Context, sourceID, targetID uuid.UUID, lag time.Duration) (*models.DependencyEdge, error) {
	edge, err := s.graph.AddDependency(sourceID, targetID, lag)
	if err != nil {
		return nil, err
	}
	if err := s.store.Edges().Create(ctx, edge); err != nil {
		// Roll the in-memory edge back so graph and store stay aligned.
		if rmErr := s.graph.RemoveDependency(sourceID, targetID); rmErr != nil {
			s.config.Logger.Error("failed to roll back dependency edge", map[string]interface{}{
				"edge_id": edge.ID,
				"error":   rmErr.Error(),
			})
		}
		return nil, errors.Wrap(err, "failed to persist dependency edge")
	}
	return edge, nil
}

// GetCascadingImpact implements Scheduler.
func (s *scheduler) GetCascadingImpact(ctx context.Context, itemID uuid.UUID, newStart time.Time) ([]graph.ImpactedItem, error) {
	_, span := s.config.Tracer(ctx, "scheduler.cascading_impact")
	defer span.End()
	return s.graph.GetCascadingImpact(itemID, newStart)
}

// PropagateChanges implements Scheduler.
func (s *scheduler) PropagateChanges(ctx context.Context, itemID uuid.UUID, newStart time.Time) ([]models.ChangeRecord, error) {
	ctx, span := s.config.Tracer(ctx, "scheduler.propagate_changes")
	defer span.End()

	release, err := s.locks.Acquire(ctx, "item:"+itemID.String(), s.schedCfg.LockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire item lock")
	}
	defer release()

	changes, err := s.graph.PropagateChanges(itemID, newStart)
	if err != nil {
		return nil, err
	}

	for _, change := range changes {
		item, err := s.graph.Item(change.ItemID)
		if err != nil {
			return changes, err
		}
		if err := s.store.Items().Update(ctx, item); err != nil {
			return changes, errors.Wrapf(err, "failed to persist move of item %s", change.ItemID)
		}
	}

	if len(changes) > 0 {
		s.config.Metrics.RecordGauge("cascade_items_moved", float64(len(changes)), nil)
		s.publish(events.EventCascadeApplied, map[string]interface{}{
			"seed_item": itemID.String(),
			"moved":     len(changes),
		})
	}
	return changes, nil
}

// ApplyResolution implements ResolutionApplier.
func (s *scheduler) ApplyResolution(ctx context.Context, res *models.Resolution) ([]models.ChangeRecord, error) {
	ctx, span := s.config.Tracer(ctx, "scheduler.apply_resolution")
	defer span.End()

	switch res.Kind {
	case models.ResolutionTimeShift, models.ResolutionDefer:
		if res.NewStart == nil {
			return nil, errors.Errorf("resolution %s carries no new start time", res.Kind)
		}
		changes, err := s.PropagateChanges(ctx, res.ItemID, *res.NewStart)
		if err != nil {
			// Surface the partial change log so the caller knows which
			// items the failed pass already touched.
			return changes, err
		}
		s.clearProvisional(ctx, res.ItemID)
		return changes, nil

	case models.ResolutionResourceSwitch:
		release, err := s.locks.Acquire(ctx, "item:"+res.ItemID.String(), s.schedCfg.LockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to acquire item lock")
		}
		defer release()

		item, err := s.graph.Item(res.ItemID)
		if err != nil {
			return nil, err
		}
		if res.NewLocation != nil {
			item.Location = *res.NewLocation
		}
		if res.Virtual != nil {
			item.Virtual = *res.Virtual
			if item.Virtual {
				item.Location = ""
			}
		}
		item.UpdatedAt = time.Now().UTC()
		item.Version++
		if err := s.store.Items().Update(ctx, item); err != nil {
			return nil, errors.Wrap(err, "failed to persist resource switch")
		}
		s.graph.UpsertItem(item)
		s.clearProvisional(ctx, res.ItemID)
		return nil, nil

	default:
		return nil, errors.Errorf("unknown resolution kind %q", res.Kind)
	}
}

// ConflictHistory implements Scheduler.
func (s *scheduler) ConflictHistory(ctx context.Context, itemID uuid.UUID) ([]*models.Conflict, error) {
	history, err := s.store.Conflicts().ListByItem(ctx, itemID)
	return history, errors.Wrap(err, "failed to load conflict history")
}

// clearProvisional drops the provisional marker once a resolution lands.
// Best effort; a failure here leaves only a stale marker behind.
func (s *scheduler) clearProvisional(ctx context.Context, itemID uuid.UUID) {
	item, err := s.graph.Item(itemID)
	if err != nil || item.Metadata == nil {
		return
	}
	if _, ok := item.Metadata[provisionalMetadataKey]; !ok {
		return
	}
	delete(item.Metadata, provisionalMetadataKey)
	item.UpdatedAt = time.Now().UTC()
	item.Version++
	if err := s.store.Items().Update(ctx, item); err != nil {
		s.config.Logger.Warn("failed to clear provisional marker", map[string]interface{}{
			"item_id": itemID,
			"error":   err.Error(),
		})
		return
	}
	s.graph.UpsertItem(item)
}

// vipBlockReasons lists the conflicts that forbid automatic admission:
// anything at high severity or above where a high-priority participant is
// involved.
func (s *scheduler) vipBlockReasons(candidate *models.ScheduledItem, conflicts []*models.Conflict) []string {
	var reasons []string
	for _, c := range conflicts {
		if !c.Severity.AtLeast(models.SeverityHigh) {
			continue
		}
		vip := candidate.HasVIP()
		if !vip {
			for _, id := range c.ItemIDs {
				if other, err := s.graph.Item(id); err == nil && other.HasVIP() {
					vip = true
					break
				}
			}
		}
		if vip {
			reasons = append(reasons, c.Description)
		}
	}
	return reasons
}

func (s *scheduler) dispatch(notification notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(notification)
}

func validateBooking(item *models.ScheduledItem) error {
	switch {
	case item == nil:
		return errors.New("booking item is required")
	case item.Title == "":
		return errors.New("booking title is required")
	case item.OwnerParty == "":
		return errors.New("booking owner party is required")
	case item.StartTime.IsZero():
		return errors.New("booking start time is required")
	case item.Duration <= 0:
		return errors.New("booking duration must be positive")
	default:
		return nil
	}
}

// anyAtLeast reports whether any conflict reaches the given severity.
func anyAtLeast(conflicts []*models.Conflict, sev models.ConflictSeverity) bool {
	for _, c := range conflicts {
		if c.Severity.AtLeast(sev) {
			return true
		}
	}
	return false
}
