package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/cache"
	"github.com/concord-io/concord/pkg/graph"
	"github.com/concord-io/concord/pkg/locks"
	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/notify"
	"github.com/concord-io/concord/pkg/oracle"
	"github.com/concord-io/concord/pkg/repository/memory"
)

// recordingNotifier captures dispatched notifications for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Dispatch(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) Close() {}

func (r *recordingNotifier) notifications() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification{}, r.sent...)
}

// engineFixture assembles a full in-memory engine for service tests.
type engineFixture struct {
	graph      *graph.Graph
	store      *memory.Store
	detector   ConflictDetector
	scheduler  Scheduler
	negotiator NegotiationCoordinator
}

// fixtureOptions tunes fixture construction per test.
type fixtureOptions struct {
	oracle          oracle.ReasoningOracle
	requireApproval bool
	sessionBudget   time.Duration
	notifier        notify.Notifier
}

func newFixture(t *testing.T, opts fixtureOptions) *engineFixture {
	t.Helper()

	g := graph.New(nil)
	store := memory.New()
	cfg := ServiceConfig{}

	detector := NewConflictDetector(cfg, nil, g, store.Conflicts(), cache.NewMemorySignatureCache(time.Minute), opts.oracle)
	sched := NewScheduler(cfg, SchedulerConfig{}, nil, g, store, detector, locks.NewLocalManager(), opts.notifier)

	scorer, err := NewPriorityScorer(0)
	require.NoError(t, err)

	coordCfg := CoordinatorConfig{
		RequireApproval: opts.requireApproval,
		SessionBudget:   opts.sessionBudget,
	}
	negotiator := NewNegotiationCoordinator(cfg, coordCfg, nil, g, store, opts.oracle, scorer, sched, locks.NewLocalManager(), opts.notifier)
	sched.SetNegotiator(negotiator)

	return &engineFixture{
		graph:      g,
		store:      store,
		detector:   detector,
		scheduler:  sched,
		negotiator: negotiator,
	}
}

// addItem stores an item in both the repository and the live graph.
func (f *engineFixture) addItem(t *testing.T, item *models.ScheduledItem) *models.ScheduledItem {
	t.Helper()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusScheduled
	}
	if item.Version == 0 {
		item.Version = 1
	}
	require.NoError(t, f.store.Items().Create(context.Background(), item))
	f.graph.UpsertItem(item)
	return item
}

// itemAt builds a one-hour meeting owned by party starting at the given
// kitchen-clock hour on a fixed test day.
func itemAt(party, title string, hour int, d time.Duration) *models.ScheduledItem {
	return &models.ScheduledItem{
		OwnerParty: party,
		Title:      title,
		StartTime:  time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC),
		Duration:   d,
		Location:   "",
		Attendees:  models.AttendeeList{{ID: party + "-lead"}},
	}
}

func withLocation(item *models.ScheduledItem, loc string) *models.ScheduledItem {
	item.Location = loc
	return item
}

func withVIP(item *models.ScheduledItem, id string) *models.ScheduledItem {
	item.Attendees = append(item.Attendees, models.Attendee{ID: id, VIP: true})
	return item
}
