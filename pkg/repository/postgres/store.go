// Package postgres implements repository.Store on PostgreSQL via sqlx.
// Complex columns (attendees, rounds, resolutions) are stored as JSONB and
// marshalled explicitly; schedule durations and lags are stored as
// nanosecond bigints.
package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/concord-io/concord/pkg/repository"
)

// Store is a PostgreSQL-backed repository.Store
type Store struct {
	db     *sqlx.DB
	schema string
}

// New creates a postgres store over an open connection pool.
func New(db *sqlx.DB, schema string) *Store {
	if schema == "" {
		schema = "concord"
	}
	return &Store{db: db, schema: schema}
}

func (s *Store) Items() repository.ItemRepository         { return &itemRepo{s} }
func (s *Store) Edges() repository.EdgeRepository         { return &edgeRepo{s} }
func (s *Store) Conflicts() repository.ConflictRepository { return &conflictRepo{s} }
func (s *Store) Sessions() repository.SessionRepository   { return &sessionRepo{s} }
