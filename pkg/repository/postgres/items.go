package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/models"
)

type itemRepo struct {
	store *Store
}

const itemColumns = `id, owner_party, title, status, start_time, duration, location, virtual, attendees, metadata, created_at, updated_at, version`

func (r *itemRepo) Create(ctx context.Context, item *models.ScheduledItem) error {
	attendeesJSON, err := json.Marshal(item.Attendees)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attendees")
	}
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.scheduled_items (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.store.schema, itemColumns)

	_, err = r.store.db.ExecContext(ctx, query,
		item.ID, item.OwnerParty, item.Title, item.Status,
		item.StartTime, int64(item.Duration), item.Location, item.Virtual,
		attendeesJSON, metadataJSON, item.CreatedAt, item.UpdatedAt, item.Version,
	)
	return errors.Wrap(err, "failed to insert scheduled item")
}

func (r *itemRepo) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.scheduled_items WHERE id = $1
	`, itemColumns, r.store.schema)

	item, err := r.scanItem(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Kind: "item", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scheduled item")
	}
	return item, nil
}

func (r *itemRepo) ListActive(ctx context.Context) ([]*models.ScheduledItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.scheduled_items
		WHERE status = $1
		ORDER BY start_time, id
	`, itemColumns, r.store.schema)

	rows, err := r.store.db.QueryContext(ctx, query, models.ItemStatusScheduled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled items")
	}
	defer func() { _ = rows.Close() }()

	var items []*models.ScheduledItem
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *itemRepo) Update(ctx context.Context, item *models.ScheduledItem) error {
	attendeesJSON, err := json.Marshal(item.Attendees)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attendees")
	}
	metadataJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}

	query := fmt.Sprintf(`
		UPDATE %s.scheduled_items
		SET owner_party = $2, title = $3, status = $4, start_time = $5,
		    duration = $6, location = $7, virtual = $8, attendees = $9,
		    metadata = $10, updated_at = $11, version = $12
		WHERE id = $1 AND version = $13
	`, r.store.schema)

	res, err := r.store.db.ExecContext(ctx, query,
		item.ID, item.OwnerParty, item.Title, item.Status, item.StartTime,
		int64(item.Duration), item.Location, item.Virtual, attendeesJSON,
		metadataJSON, item.UpdatedAt, item.Version, item.Version-1,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update scheduled item")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return models.StaleStateError{
			Kind:            "item",
			ID:              item.ID,
			ExpectedVersion: item.Version - 1,
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *itemRepo) scanItem(row rowScanner) (*models.ScheduledItem, error) {
	var (
		item           models.ScheduledItem
		duration       int64
		attendeesJSON  []byte
		metadataJSON   []byte
		startTime      time.Time
	)
	err := row.Scan(
		&item.ID, &item.OwnerParty, &item.Title, &item.Status,
		&startTime, &duration, &item.Location, &item.Virtual,
		&attendeesJSON, &metadataJSON, &item.CreatedAt, &item.UpdatedAt,
		&item.Version,
	)
	if err != nil {
		return nil, err
	}
	item.StartTime = startTime
	item.Duration = time.Duration(duration)
	if len(attendeesJSON) > 0 {
		if err := json.Unmarshal(attendeesJSON, &item.Attendees); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal attendees")
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal metadata")
		}
	}
	return &item, nil
}
