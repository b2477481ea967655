package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/notify"
)

func TestRequestBookingAdmitsCleanItem(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	decision, err := f.scheduler.RequestBooking(context.Background(), withLocation(itemAt("eng", "review", 10, time.Hour), "room-a"))
	require.NoError(t, err)
	assert.Equal(t, BookingAdmitted, decision.Outcome)
	assert.Empty(t, decision.Conflicts)
	require.NotNil(t, decision.Item)

	stored, err := f.store.Items().Get(context.Background(), decision.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusScheduled, stored.Status)
}

func TestRequestBookingDeniedOutrightForVIPConflict(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	// 10:00-12:00 with a VIP already holds the room.
	f.addItem(t, withVIP(withLocation(itemAt("eng", "exec review", 10, 2*time.Hour), "room-a"), "ceo"))

	candidate := withLocation(itemAt("data", "pipeline sync", 11, 2*time.Hour), "room-a")
	decision, err := f.scheduler.RequestBooking(context.Background(), candidate)
	require.NoError(t, err)
	assert.Equal(t, BookingDenied, decision.Outcome)
	assert.NotEmpty(t, decision.Reasons)
	require.Len(t, decision.Conflicts, 1)
	assert.True(t, decision.Conflicts[0].Severity.AtLeast(models.SeverityHigh))

	// Nothing was committed: no item, no conflict, no session.
	_, err = f.store.Items().Get(context.Background(), candidate.ID)
	assert.True(t, models.IsNotFound(err))
	open, err := f.store.Conflicts().ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRequestBookingDenialNotifiesOwner(t *testing.T) {
	recorder := &recordingNotifier{}
	f := newFixture(t, fixtureOptions{notifier: recorder})

	f.addItem(t, withVIP(withLocation(itemAt("eng", "exec review", 10, 2*time.Hour), "room-a"), "ceo"))
	_, err := f.scheduler.RequestBooking(context.Background(), withLocation(itemAt("data", "pipeline sync", 11, 2*time.Hour), "room-a"))
	require.NoError(t, err)

	sent := recorder.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, notify.KindBookingDenied, sent[0].Kind)
	assert.Equal(t, []string{"data"}, sent[0].Audience)
	assert.Contains(t, sent[0].Body, "pipeline sync")
}

func TestRequestBookingProvisionalAdmissionOpensNegotiation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.addItem(t, withLocation(itemAt("eng", "platform review", 10, 2*time.Hour), "room-a"))

	decision, err := f.scheduler.RequestBooking(context.Background(), withLocation(itemAt("data", "pipeline sync", 11, 2*time.Hour), "room-a"))
	require.NoError(t, err)
	assert.Equal(t, BookingAdmitted, decision.Outcome)
	require.Len(t, decision.Conflicts, 1)
	assert.Equal(t, models.SeverityMedium, decision.Conflicts[0].Severity)
	require.NotNil(t, decision.SessionID)

	stored, err := f.store.Items().Get(context.Background(), decision.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Metadata[provisionalMetadataKey])

	session, err := f.store.Sessions().Get(context.Background(), *decision.SessionID)
	require.NoError(t, err)
	assert.Equal(t, decision.Conflicts[0].ID, session.ConflictID)

	// Driving the session to completion clears the provisional marker.
	_, err = f.negotiator.RunToCompletion(context.Background(), session.ID)
	require.NoError(t, err)
	settled, err := f.store.Items().Get(context.Background(), decision.Item.ID)
	require.NoError(t, err)
	_, marked := settled.Metadata[provisionalMetadataKey]
	assert.False(t, marked)
}

func TestRequestBookingValidation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	missingTitle := itemAt("eng", "", 10, time.Hour)
	_, err := f.scheduler.RequestBooking(context.Background(), missingTitle)
	assert.Error(t, err)

	zeroDuration := itemAt("eng", "review", 10, 0)
	_, err = f.scheduler.RequestBooking(context.Background(), zeroDuration)
	assert.Error(t, err)
}

func TestSuggestAlternativeTimesProbesForwardOnly(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	// Room busy 10:00-13:00.
	f.addItem(t, withLocation(itemAt("eng", "workshop", 10, 3*time.Hour), "room-a"))

	candidate := withLocation(itemAt("data", "sync", 10, time.Hour), "room-a")
	suggestions, err := f.scheduler.SuggestAlternativeTimes(context.Background(), candidate, 3)
	require.NoError(t, err)
	require.Len(t, suggestions, 3)

	for _, s := range suggestions {
		assert.True(t, s.After(candidate.StartTime), "suggestions never move backward")
	}
	// First free hourly slot is 13:00.
	assert.Equal(t, 13, suggestions[0].Hour())
}

func TestAddDependencyWritesThrough(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := f.addItem(t, itemAt("ops", "setup", 9, time.Hour))
	b := f.addItem(t, itemAt("ops", "deploy", 14, time.Hour))

	edge, err := f.scheduler.AddDependency(context.Background(), a.ID, b.ID, 30*time.Minute)
	require.NoError(t, err)

	persisted, err := f.store.Edges().List(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, edge.ID, persisted[0].ID)

	// A reverse edge would close a cycle and must be rejected.
	_, err = f.scheduler.AddDependency(context.Background(), b.ID, a.ID, 0)
	var cycleErr models.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestPropagateChangesPersistsEveryMove(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	a := f.addItem(t, itemAt("ops", "setup", 10, 2*time.Hour))
	b := f.addItem(t, itemAt("ops", "deploy", 12, time.Hour))
	bStart := b.StartTime
	_, err := f.scheduler.AddDependency(context.Background(), a.ID, b.ID, 15*time.Minute)
	require.NoError(t, err)

	// Push the predecessor one hour later; the successor must follow.
	changes, err := f.scheduler.PropagateChanges(context.Background(), a.ID, a.StartTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	stored, err := f.store.Items().Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.StartTime.Equal(bStart.Add(time.Hour).Add(15*time.Minute)))
	assert.Equal(t, 2, stored.Version)
}

func TestCancelBookingReleasesSlot(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	busy := f.addItem(t, withLocation(itemAt("eng", "workshop", 10, 2*time.Hour), "room-a"))
	require.NoError(t, f.scheduler.CancelBooking(context.Background(), busy.ID))

	// The slot is free again for admission.
	decision, err := f.scheduler.RequestBooking(context.Background(), withLocation(itemAt("data", "sync", 10, time.Hour), "room-a"))
	require.NoError(t, err)
	assert.Equal(t, BookingAdmitted, decision.Outcome)
	assert.Empty(t, decision.Conflicts)
}

func TestConflictHistory(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.addItem(t, withLocation(itemAt("eng", "review", 10, 2*time.Hour), "room-a"))
	decision, err := f.scheduler.RequestBooking(context.Background(), withLocation(itemAt("data", "sync", 11, 2*time.Hour), "room-a"))
	require.NoError(t, err)
	require.Len(t, decision.Conflicts, 1)

	history, err := f.scheduler.ConflictHistory(context.Background(), decision.Item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, decision.Conflicts[0].ID, history[0].ID)
}

func TestApplyResolutionResourceSwitch(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	item := f.addItem(t, withLocation(itemAt("eng", "review", 10, time.Hour), "room-a"))

	virtual := true
	_, err := f.scheduler.ApplyResolution(context.Background(), &models.Resolution{
		Kind:    models.ResolutionResourceSwitch,
		ItemID:  item.ID,
		Virtual: &virtual,
	})
	require.NoError(t, err)

	updated, err := f.graph.Item(item.ID)
	require.NoError(t, err)
	assert.True(t, updated.Virtual)
	assert.Empty(t, updated.Location)
}
