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

type sessionRepo struct {
	store *Store
}

const sessionColumns = `id, conflict_id, parties, state, round, max_rounds, rounds, deadline, pending_resolution, escalation_options, created_at, updated_at, version`

func (r *sessionRepo) Create(ctx context.Context, session *models.NegotiationSession) error {
	fields, err := marshalSessionFields(session)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.negotiation_sessions (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.store.schema, sessionColumns)

	_, err = r.store.db.ExecContext(ctx, query,
		session.ID, session.ConflictID, fields.parties, session.State,
		session.Round, session.MaxRounds, fields.rounds, session.Deadline,
		fields.pending, fields.options, session.CreatedAt, session.UpdatedAt,
		session.Version,
	)
	return errors.Wrap(err, "failed to insert negotiation session")
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (*models.NegotiationSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.negotiation_sessions WHERE id = $1`, sessionColumns, r.store.schema)

	session, err := scanSession(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get negotiation session")
	}
	return session, nil
}

func (r *sessionRepo) GetByConflict(ctx context.Context, conflictID uuid.UUID) (*models.NegotiationSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s.negotiation_sessions
		WHERE conflict_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionColumns, r.store.schema)

	session, err := scanSession(r.store.db.QueryRowContext(ctx, query, conflictID))
	if err == sql.ErrNoRows {
		return nil, models.NotFoundError{Kind: "session", ID: conflictID}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get negotiation session by conflict")
	}
	return session, nil
}

func (r *sessionRepo) Update(ctx context.Context, session *models.NegotiationSession) error {
	fields, err := marshalSessionFields(session)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s.negotiation_sessions
		SET state = $2, round = $3, rounds = $4, deadline = $5,
		    pending_resolution = $6, escalation_options = $7,
		    updated_at = $8, version = $9
		WHERE id = $1 AND version = $10
	`, r.store.schema)

	res, err := r.store.db.ExecContext(ctx, query,
		session.ID, session.State, session.Round, fields.rounds,
		session.Deadline, fields.pending, fields.options,
		session.UpdatedAt, session.Version, session.Version-1,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update negotiation session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return models.StaleStateError{
			Kind:            "session",
			ID:              session.ID,
			ExpectedVersion: session.Version - 1,
		}
	}
	return nil
}

type sessionFields struct {
	parties []byte
	rounds  []byte
	pending []byte
	options []byte
}

func marshalSessionFields(session *models.NegotiationSession) (sessionFields, error) {
	var f sessionFields
	var err error
	if f.parties, err = json.Marshal(session.Parties); err != nil {
		return f, errors.Wrap(err, "failed to marshal parties")
	}
	if f.rounds, err = json.Marshal(session.Rounds); err != nil {
		return f, errors.Wrap(err, "failed to marshal rounds")
	}
	if session.PendingResolution != nil {
		if f.pending, err = json.Marshal(session.PendingResolution); err != nil {
			return f, errors.Wrap(err, "failed to marshal pending resolution")
		}
	}
	if session.EscalationOptions != nil {
		if f.options, err = json.Marshal(session.EscalationOptions); err != nil {
			return f, errors.Wrap(err, "failed to marshal escalation options")
		}
	}
	return f, nil
}

func scanSession(row rowScanner) (*models.NegotiationSession, error) {
	var (
		session     models.NegotiationSession
		partiesJSON []byte
		roundsJSON  []byte
		pendingJSON []byte
		optionsJSON []byte
	)
	err := row.Scan(
		&session.ID, &session.ConflictID, &partiesJSON, &session.State,
		&session.Round, &session.MaxRounds, &roundsJSON, &session.Deadline,
		&pendingJSON, &optionsJSON, &session.CreatedAt, &session.UpdatedAt,
		&session.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(partiesJSON) > 0 {
		if err := json.Unmarshal(partiesJSON, &session.Parties); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal parties")
		}
	}
	if len(roundsJSON) > 0 {
		if err := json.Unmarshal(roundsJSON, &session.Rounds); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal rounds")
		}
	}
	if len(pendingJSON) > 0 {
		session.PendingResolution = &models.Resolution{}
		if err := json.Unmarshal(pendingJSON, session.PendingResolution); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal pending resolution")
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &session.EscalationOptions); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal escalation options")
		}
	}
	return &session, nil
}
