package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsledger/worklog-engine/pkg/database"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// WorkItemRepository persists stage-2 aggregates. Work items hold no
// human-owned state, so the only write path is wholesale replacement; a
// future mutable work-item field must introduce a merge path first.
type WorkItemRepository interface {
	// ReplaceAll atomically swaps the full work item set.
	ReplaceAll(ctx context.Context, items []*models.WorkItem) error
	// ListAll returns every work item ordered by start time.
	ListAll(ctx context.Context) ([]*models.WorkItem, error)
}

type workItemRepository struct {
	db *database.DB
}

// NewWorkItemRepository creates a new WorkItemRepository.
func NewWorkItemRepository(db *database.DB) WorkItemRepository {
	return &workItemRepository{db: db}
}

var _ WorkItemRepository = (*workItemRepository)(nil)

func (r *workItemRepository) ReplaceAll(ctx context.Context, items []*models.WorkItem) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin work item transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM work_items`); err != nil {
		return fmt.Errorf("failed to clear work items: %w", err)
	}

	query := `
		INSERT INTO work_items (
			work_item_id, customer_id, start_time_utc, end_time_utc,
			total_duration_minutes, generated_at_utc, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode work item %s: %w", item.WorkItemID, err)
		}
		_, err = tx.Exec(ctx, query,
			item.WorkItemID,
			item.CustomerID,
			item.StartTime,
			item.EndTime,
			item.TotalDurationMinutes,
			item.GeneratedAt,
			doc,
		)
		if err != nil {
			return fmt.Errorf("failed to insert work item %s: %w", item.WorkItemID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit work items: %w", err)
	}
	return nil
}

func (r *workItemRepository) ListAll(ctx context.Context) ([]*models.WorkItem, error) {
	rows, err := r.db.Query(ctx, `SELECT doc FROM work_items ORDER BY start_time_utc`)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan work item row: %w", err)
		}
		var item models.WorkItem
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("failed to decode work item row: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work items: %w", err)
	}
	return items, nil
}
