package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-io/concord/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres"), "concord"), mock
}

func TestItemRepoCreate(t *testing.T) {
	store, mock := newMockStore(t)

	item := &models.ScheduledItem{
		ID:         uuid.New(),
		OwnerParty: "delegation-a",
		Title:      "budget summit",
		Status:     models.ItemStatusScheduled,
		StartTime:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Duration:   2 * time.Hour,
		Location:   "hall-1",
		Attendees:  models.AttendeeList{{ID: "minister-x", VIP: true}},
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO concord\.scheduled_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Items().Create(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepoGet(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"id", "owner_party", "title", "status", "start_time", "duration",
			"location", "virtual", "attendees", "metadata", "created_at",
			"updated_at", "version",
		}).AddRow(
			id, "delegation-a", "budget summit", "scheduled", now,
			int64(2*time.Hour), "hall-1", false,
			[]byte(`[{"id":"minister-x","vip":true}]`), []byte(`{}`),
			now, now, 3,
		)
		mock.ExpectQuery(`SELECT .+ FROM concord\.scheduled_items WHERE id`).
			WithArgs(id).
			WillReturnRows(rows)

		item, err := store.Items().Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "budget summit", item.Title)
		assert.Equal(t, 2*time.Hour, item.Duration)
		assert.True(t, item.HasVIP())
		assert.Equal(t, 3, item.Version)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM concord\.scheduled_items WHERE id`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Items().Get(context.Background(), uuid.New())
		assert.True(t, models.IsNotFound(err))
	})
}

func TestItemRepoUpdateStale(t *testing.T) {
	store, mock := newMockStore(t)

	item := &models.ScheduledItem{
		ID:        uuid.New(),
		Status:    models.ItemStatusScheduled,
		StartTime: time.Now().UTC(),
		Duration:  time.Hour,
		UpdatedAt: time.Now().UTC(),
		Version:   5,
	}

	mock.ExpectExec(`UPDATE concord\.scheduled_items`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Items().Update(context.Background(), item)
	require.Error(t, err)
	assert.True(t, models.IsStaleState(err))
}
