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

// RosterRepository stores the latest lean roster snapshot.
type RosterRepository interface {
	// Load returns the stored snapshot, or apperrors.ErrNotFound when no
	// roster has ever been cached.
	Load(ctx context.Context) (*models.Roster, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, roster *models.Roster) error
}

type rosterRepository struct {
	db *database.DB
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(db *database.DB) RosterRepository {
	return &rosterRepository{db: db}
}

var _ RosterRepository = (*rosterRepository)(nil)

func (r *rosterRepository) Load(ctx context.Context) (*models.Roster, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM roster_snapshots WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query roster snapshot: %w", err)
	}

	var roster models.Roster
	if err := json.Unmarshal(doc, &roster); err != nil {
		return nil, fmt.Errorf("failed to decode roster snapshot: %w", err)
	}
	return &roster, nil
}

func (r *rosterRepository) Save(ctx context.Context, roster *models.Roster) error {
	doc, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("failed to encode roster snapshot: %w", err)
	}

	query := `
		INSERT INTO roster_snapshots (id, refreshed_at_utc, doc)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			refreshed_at_utc = EXCLUDED.refreshed_at_utc,
			doc = EXCLUDED.doc`

	if _, err := r.db.Exec(ctx, query, roster.RefreshedAt, doc); err != nil {
		return fmt.Errorf("failed to save roster snapshot: %w", err)
	}
	return nil
}
