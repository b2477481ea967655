package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/models"
)

type edgeRepo struct {
	store *Store
}

func (r *edgeRepo) Create(ctx context.Context, edge *models.DependencyEdge) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.dependency_edges (id, source_id, target_id, kind, lag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.store.schema)

	_, err := r.store.db.ExecContext(ctx, query,
		edge.ID, edge.SourceID, edge.TargetID, edge.Kind, int64(edge.Lag), edge.CreatedAt,
	)
	return errors.Wrap(err, "failed to insert dependency edge")
}

func (r *edgeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s.dependency_edges WHERE id = $1`, r.store.schema)
	res, err := r.store.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete dependency edge")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read delete result")
	}
	if affected == 0 {
		return models.NotFoundError{Kind: "dependency", ID: id}
	}
	return nil
}

func (r *edgeRepo) List(ctx context.Context) ([]*models.DependencyEdge, error) {
	query := fmt.Sprintf(`
		SELECT id, source_id, target_id, kind, lag, created_at
		FROM %s.dependency_edges
		ORDER BY created_at, id
	`, r.store.schema)

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dependency edges")
	}
	defer func() { _ = rows.Close() }()

	var edges []*models.DependencyEdge
	for rows.Next() {
		var (
			edge models.DependencyEdge
			lag  int64
		)
		if err := rows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.Kind, &lag, &edge.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan dependency edge")
		}
		edge.Lag = time.Duration(lag)
		edges = append(edges, &edge)
	}
	return edges, rows.Err()
}
