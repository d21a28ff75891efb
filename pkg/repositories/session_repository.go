// Package repositories provides identity-keyed Postgres persistence for the
// engine's records. Sessions and work items are stored as JSONB documents
// alongside the columns the batch queries filter on.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opsledger/worklog-engine/pkg/apperrors"
	"github.com/opsledger/worklog-engine/pkg/database"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// SessionRepository provides identity-keyed load/save for Session records.
type SessionRepository interface {
	// Get returns the session with the given deterministic ID, or
	// apperrors.ErrNotFound.
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	// Save upserts the session under its deterministic ID.
	Save(ctx context.Context, session *models.Session) error
	// Delete removes the session. Used when a regrown source export
	// supersedes a record under a new identity.
	Delete(ctx context.Context, sessionID string) error
	// ListAll returns every persisted session ordered by start time.
	ListAll(ctx context.Context) ([]*models.Session, error)
	// ListByStatus returns sessions in the given workflow state.
	ListByStatus(ctx context.Context, status models.ProcessingStatus) ([]*models.Session, error)
}

type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

var _ SessionRepository = (*sessionRepository)(nil)

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `SELECT doc FROM sessions WHERE session_id = $1`

	var doc []byte
	err := r.db.QueryRow(ctx, query, sessionID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}

	var session models.Session
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (r *sessionRepository) Save(ctx context.Context, session *models.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.Meta.SessionID, err)
	}

	query := `
		INSERT INTO sessions (
			session_id, source_system, customer_id, processing_status,
			start_time_utc, end_time_utc, ingested_at_utc, last_updated_at_utc, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			source_system = EXCLUDED.source_system,
			customer_id = EXCLUDED.customer_id,
			processing_status = EXCLUDED.processing_status,
			start_time_utc = EXCLUDED.start_time_utc,
			end_time_utc = EXCLUDED.end_time_utc,
			ingested_at_utc = EXCLUDED.ingested_at_utc,
			last_updated_at_utc = EXCLUDED.last_updated_at_utc,
			doc = EXCLUDED.doc`

	_, err = r.db.Exec(ctx, query,
		session.Meta.SessionID,
		session.Meta.SourceSystem,
		session.Context.CustomerID,
		session.Meta.ProcessingStatus,
		session.Insights.StartTime,
		session.Insights.EndTime,
		session.Meta.IngestedAt,
		session.Meta.LastUpdatedAt,
		doc,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.Meta.SessionID, err)
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (r *sessionRepository) ListAll(ctx context.Context) ([]*models.Session, error) {
	return r.list(ctx, `SELECT doc FROM sessions ORDER BY start_time_utc`)
}

func (r *sessionRepository) ListByStatus(ctx context.Context, status models.ProcessingStatus) ([]*models.Session, error) {
	return r.list(ctx,
		`SELECT doc FROM sessions WHERE processing_status = $1 ORDER BY start_time_utc`,
		status)
}

func (r *sessionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session models.Session
		if err := json.Unmarshal(doc, &session); err != nil {
			return nil, fmt.Errorf("failed to decode session row: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
