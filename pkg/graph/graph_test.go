package graph

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/observability"
)

func newTestGraph() *Graph {
	return New(observability.NewNoopLogger())
}

func newItem(title string, start time.Time, dur time.Duration) *models.ScheduledItem {
	return &models.ScheduledItem{
		ID:         uuid.New(),
		OwnerParty: "party-" + title,
		Title:      title,
		Status:     models.ItemStatusScheduled,
		StartTime:  start,
		Duration:   dur,
	}
}

func TestAddDependency(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("rejects self dependency", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		g.UpsertItem(a)

		_, err := g.AddDependency(a.ID, a.ID, 0)
		require.Error(t, err)
		assert.IsType(t, models.SelfDependencyError{}, err)
	})

	t.Run("rejects unknown items", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		g.UpsertItem(a)

		_, err := g.AddDependency(a.ID, uuid.New(), 0)
		require.Error(t, err)
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("rejects duplicate edge", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(2*time.Hour), time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)

		_, err := g.AddDependency(a.ID, b.ID, 0)
		require.NoError(t, err)
		_, err = g.AddDependency(a.ID, b.ID, 0)
		assert.IsType(t, models.DuplicateEdgeError{}, err)
	})

	t.Run("rejects cycle and leaves edge set unchanged", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(2*time.Hour), time.Hour)
		c := newItem("c", base.Add(4*time.Hour), time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)
		g.UpsertItem(c)

		_, err := g.AddDependency(a.ID, b.ID, 0)
		require.NoError(t, err)
		_, err = g.AddDependency(b.ID, c.ID, 0)
		require.NoError(t, err)

		before := g.Edges()
		_, err = g.AddDependency(c.ID, a.ID, 0)
		require.Error(t, err)
		assert.IsType(t, models.CycleError{}, err)
		assert.Equal(t, before, g.Edges())

		// Failing again is still a no-op
		_, err = g.AddDependency(c.ID, a.ID, 0)
		assert.IsType(t, models.CycleError{}, err)
		assert.Equal(t, before, g.Edges())
	})

	t.Run("rejects two-node cycle", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(2*time.Hour), time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)

		_, err := g.AddDependency(a.ID, b.ID, 0)
		require.NoError(t, err)
		_, err = g.AddDependency(b.ID, a.ID, 0)
		assert.IsType(t, models.CycleError{}, err)
	})
}

func TestGetCascadingImpact(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("reports violated successors only", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)                    // 09:00-10:00
		b := newItem("b", base.Add(90*time.Minute), time.Hour) // 10:30
		c := newItem("c", base.Add(8*time.Hour), time.Hour)    // 17:00
		g.UpsertItem(a)
		g.UpsertItem(b)
		g.UpsertItem(c)
		_, err := g.AddDependency(a.ID, b.ID, 15*time.Minute)
		require.NoError(t, err)
		_, err = g.AddDependency(a.ID, c.ID, 0)
		require.NoError(t, err)

		// Move a to 10:00-11:00: b must now start >= 11:15, c is unaffected.
		impacted, err := g.GetCascadingImpact(a.ID, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, impacted, 1)
		assert.Equal(t, b.ID, impacted[0].ItemID)
		assert.Equal(t, base.Add(2*time.Hour+15*time.Minute), impacted[0].RequiredStart)
	})

	t.Run("is one hop only", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(time.Hour), time.Hour)
		c := newItem("c", base.Add(2*time.Hour), time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)
		g.UpsertItem(c)
		_, err := g.AddDependency(a.ID, b.ID, 0)
		require.NoError(t, err)
		_, err = g.AddDependency(b.ID, c.ID, 0)
		require.NoError(t, err)

		impacted, err := g.GetCascadingImpact(a.ID, base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, impacted, 1)
		assert.Equal(t, b.ID, impacted[0].ItemID)
	})

	t.Run("unknown item", func(t *testing.T) {
		g := newTestGraph()
		_, err := g.GetCascadingImpact(uuid.New(), base)
		assert.True(t, models.IsNotFound(err))
	})
}

func TestPropagateChanges(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("single successor with lag", func(t *testing.T) {
		g := newTestGraph()
		// A 10:00-12:00 after the move; B originally at 12:05 with a 15 min lag.
		a := newItem("a", base, 2*time.Hour) // 09:00-11:00
		bStart := time.Date(2025, 6, 2, 12, 5, 0, 0, time.UTC)
		b := newItem("b", bStart, time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)
		_, err := g.AddDependency(a.ID, b.ID, 15*time.Minute)
		require.NoError(t, err)

		// Move A to 10:00 so it ends at 12:00.
		changes, err := g.PropagateChanges(a.ID, base.Add(time.Hour))
		require.NoError(t, err)

		bEntries := 0
		for _, c := range changes {
			if c.ItemID == b.ID {
				bEntries++
				assert.Equal(t, time.Date(2025, 6, 2, 12, 15, 0, 0, time.UTC), c.NewStart)
			}
		}
		assert.Equal(t, 1, bEntries)

		moved, err := g.Item(b.ID)
		require.NoError(t, err)
		assert.False(t, moved.StartTime.Before(time.Date(2025, 6, 2, 12, 15, 0, 0, time.UTC)))
	})

	t.Run("diamond converges with one entry per item", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(time.Hour), time.Hour)
		c := newItem("c", base.Add(time.Hour), time.Hour)
		d := newItem("d", base.Add(2*time.Hour), time.Hour)
		for _, it := range []*models.ScheduledItem{a, b, c, d} {
			g.UpsertItem(it)
		}
		for _, pair := range [][2]uuid.UUID{{a.ID, b.ID}, {a.ID, c.ID}, {b.ID, d.ID}, {c.ID, d.ID}} {
			_, err := g.AddDependency(pair[0], pair[1], 0)
			require.NoError(t, err)
		}

		changes, err := g.PropagateChanges(a.ID, base.Add(4*time.Hour))
		require.NoError(t, err)

		seen := make(map[uuid.UUID]int)
		for _, ch := range changes {
			seen[ch.ItemID]++
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "item %s moved more than once", id)
		}
		assert.Len(t, changes, 4)
	})

	t.Run("no-op when nothing violated", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		b := newItem("b", base.Add(6*time.Hour), time.Hour)
		g.UpsertItem(a)
		g.UpsertItem(b)
		_, err := g.AddDependency(a.ID, b.ID, 0)
		require.NoError(t, err)

		changes, err := g.PropagateChanges(a.ID, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, a.ID, changes[0].ItemID)
	})

	t.Run("seed at unchanged start yields empty log", func(t *testing.T) {
		g := newTestGraph()
		a := newItem("a", base, time.Hour)
		g.UpsertItem(a)

		changes, err := g.PropagateChanges(a.ID, base)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})
}

func TestRemoveItem(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestGraph()
	a := newItem("a", base, time.Hour)
	b := newItem("b", base.Add(2*time.Hour), time.Hour)
	g.UpsertItem(a)
	g.UpsertItem(b)
	_, err := g.AddDependency(a.ID, b.ID, 0)
	require.NoError(t, err)

	require.NoError(t, g.RemoveItem(a.ID))
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.Successors(a.ID))

	err = g.RemoveItem(a.ID)
	assert.True(t, models.IsNotFound(err))
}
