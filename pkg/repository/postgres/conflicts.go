package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/models"
)

type conflictRepo struct {
	store *Store
}

const conflictColumns = `id, type, severity, status, item_ids, parties, description, resolution, created_at, updated_at, version`

func (r *conflictRepo) Create(ctx context.Context, conflict *models.Conflict) error {
	itemIDsJSON, partiesJSON, resolutionJSON, err := marshalConflictFields(conflict)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.conflicts (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.store.schema, conflictColumns)

	_, err = r.store.db.ExecContext(ctx, query,
		conflict.ID, conflict.Type, conflict.Severity, conflict.Status,
		itemIDsJSON, partiesJSON, conflict.Description, resolutionJSON,
		conflict.CreatedAt, conflict.UpdatedAt, conflict.Version,
	)
	return errors.Wrap(err, "failed to insert conflict")
}

func (r *conflictRepo) Get(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.conflicts WHERE id = $1`, conflictColumns, r.store.schema)

	conflict, err := scanConflict(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Kind: "conflict", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conflict")
	}
	return conflict, nil
}

func (r *conflictRepo) Update(ctx context.Context, conflict *models.Conflict) error {
	itemIDsJSON, partiesJSON, resolutionJSON, err := marshalConflictFields(conflict)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s.conflicts
		SET type = $2, severity = $3, status = $4, item_ids = $5, parties = $6,
		    description = $7, resolution = $8, updated_at = $9, version = $10
		WHERE id = $1 AND version = $11
	`, r.store.schema)

	res, err := r.store.db.ExecContext(ctx, query,
		conflict.ID, conflict.Type, conflict.Severity, conflict.Status,
		itemIDsJSON, partiesJSON, conflict.Description, resolutionJSON,
		conflict.UpdatedAt, conflict.Version, conflict.Version-1,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update conflict")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return models.StaleStateError{
			Kind:            "conflict",
			ID:              conflict.ID,
			ExpectedVersion: conflict.Version - 1,
		}
	}
	return nil
}

func (r *conflictRepo) ListOpen(ctx context.Context) ([]*models.Conflict, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.conflicts
		WHERE status IN ($1, $2)
		ORDER BY created_at DESC
	`, conflictColumns, r.store.schema)

	return r.queryConflicts(ctx, query, models.ConflictStatusDetected, models.ConflictStatusNegotiating)
}

func (r *conflictRepo) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*models.Conflict, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.conflicts
		WHERE item_ids @> $1
		ORDER BY created_at DESC
	`, conflictColumns, r.store.schema)

	needle, err := json.Marshal([]uuid.UUID{itemID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal item id")
	}
	return r.queryConflicts(ctx, query, needle)
}

func (r *conflictRepo) queryConflicts(ctx context.Context, query string, args ...interface{}) ([]*models.Conflict, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query conflicts")
	}
	defer func() { _ = rows.Close() }()

	var conflicts []*models.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conflict")
		}
		conflicts = append(conflicts, conflict)
	}
	return conflicts, rows.Err()
}

func marshalConflictFields(conflict *models.Conflict) (itemIDs, parties, resolution []byte, err error) {
	itemIDs, err = json.Marshal(conflict.ItemIDs)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to marshal item ids")
	}
	parties, err = json.Marshal(conflict.Parties)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to marshal parties")
	}
	if conflict.Resolution != nil {
		resolution, err = json.Marshal(conflict.Resolution)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to marshal resolution")
		}
	}
	return itemIDs, parties, resolution, nil
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	var (
		conflict       models.Conflict
		itemIDsJSON    []byte
		partiesJSON    []byte
		resolutionJSON []byte
	)
	err := row.Scan(
		&conflict.ID, &conflict.Type, &conflict.Severity, &conflict.Status,
		&itemIDsJSON, &partiesJSON, &conflict.Description, &resolutionJSON,
		&conflict.CreatedAt, &conflict.UpdatedAt, &conflict.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(itemIDsJSON) > 0 {
		if err := json.Unmarshal(itemIDsJSON, &conflict.ItemIDs); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal item ids")
		}
	}
	if len(partiesJSON) > 0 {
		if err := json.Unmarshal(partiesJSON, &conflict.Parties); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal parties")
		}
	}
	if len(resolutionJSON) > 0 {
		conflict.Resolution = &models.Resolution{}
		if err := json.Unmarshal(resolutionJSON, conflict.Resolution); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal resolution")
		}
	}
	return &conflict, nil
}
