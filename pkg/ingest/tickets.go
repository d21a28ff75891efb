package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/syncro"
)

// SourceSyncro is the source system name for tickets fetched from the PSA.
const SourceSyncro = "SyncroRMM"

const ticketStateFile = "syncro_ticket_ingest_state.json"

// ticketInitialLookback bounds the first fetch when no watermark exists.
const ticketInitialLookback = 180 * 24 * time.Hour

// TicketFetcher pulls tickets from the PSA. Implemented by the syncro
// gateway.
type TicketFetcher interface {
	FetchTickets(ctx context.Context, filter syncro.TicketFilter) ([]syncro.Ticket, error)
}

type ticketState struct {
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// TicketReader ingests helpdesk tickets from the Syncro API. Instead of
// per-file state it keeps an updated-at watermark: each Read fetches only
// tickets updated since the last committed run.
type TicketReader struct {
	fetcher   TicketFetcher
	statePath string
	watermark time.Time
	pending   time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewTicketReader creates a reader over the given fetcher, with its
// watermark kept under stateDir.
func NewTicketReader(fetcher TicketFetcher, stateDir string, logger *zap.Logger) *TicketReader {
	logger = logger.Named("syncro-tickets")
	path := filepath.Join(stateDir, ticketStateFile)
	return &TicketReader{
		fetcher:   fetcher,
		statePath: path,
		watermark: loadTicketWatermark(path, logger),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

var _ Reader = (*TicketReader)(nil)

func (r *TicketReader) Source() string { return SourceSyncro }

func (r *TicketReader) Read(ctx context.Context) ([]Batch, error) {
	r.pending = time.Time{}

	filter := syncro.TicketFilter{}
	if r.watermark.IsZero() {
		filter.CreatedAfter = r.now().Add(-ticketInitialLookback)
	} else {
		filter.UpdatedSince = r.watermark
	}

	tickets, err := r.fetcher.FetchTickets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets: %w", err)
	}

	latest := r.watermark
	skipped := 0
	var batches []Batch
	for _, ticket := range tickets {
		// The API's since filter is not trusted blindly; anything at or
		// before the watermark has already been ingested.
		if !r.watermark.IsZero() && !ticket.UpdatedAt.After(r.watermark) {
			continue
		}
		if ticket.UpdatedAt.After(latest) {
			latest = ticket.UpdatedAt
		}
		if ticket.CustomerName == "" {
			skipped++
			continue
		}
		batches = append(batches, r.ticketBatch(ticket))
	}

	if skipped > 0 {
		r.logger.Warn("Skipped tickets without a customer", zap.Int("count", skipped))
	}
	r.logger.Info("Fetched tickets",
		zap.Int("tickets", len(tickets)),
		zap.Int("batches", len(batches)))

	r.pending = latest
	return batches, nil
}

// Commit advances the watermark past the newest update seen by the last
// Read, so the next fetch excludes everything already ingested.
func (r *TicketReader) Commit() error {
	if r.pending.IsZero() || !r.pending.After(r.watermark) {
		return nil
	}
	next := r.pending.Add(time.Second)
	if err := saveTicketWatermark(r.statePath, next); err != nil {
		return err
	}
	r.watermark = next
	r.pending = time.Time{}
	return nil
}

func (r *TicketReader) ticketBatch(ticket syncro.Ticket) Batch {
	segments := make([]models.Segment, 0, len(ticket.Comments))
	for _, comment := range ticket.Comments {
		segments = append(segments, models.Segment{
			SegmentID: uuid.NewString(),
			StartTime: comment.CreatedAt.UTC(),
			EndTime:   comment.CreatedAt.UTC(),
			Type:      models.SegmentTicketComment,
			Author:    comment.UserName,
			Content:   comment.Body,
			Metadata: map[string]any{
				metaSourceRef:  strconv.Itoa(comment.ID),
				"comment_kind": commentKind(comment),
			},
		})
	}

	return Batch{
		SourceSystem:      SourceSyncro,
		SourceFile:        "syncro/tickets",
		CustomerNameGuess: ticket.CustomerName,
		ContactNameGuess:  ticket.ContactName,
		SourceTitle:       ticket.Subject,
		Segments:          segments,
		GroupID:           fmt.Sprintf("ticket/%d", ticket.Number),
	}
}

// commentKind deduces how an entry reached the ticket from the metadata the
// API exposes.
func commentKind(c syncro.TicketComment) string {
	switch {
	case c.SMSBody != "":
		return "sms"
	case c.Subject != "" || c.DestinationEmails != "" || c.EmailSender != "":
		return "email"
	case c.Hidden:
		return "private_note"
	default:
		return "public_note"
	}
}

func loadTicketWatermark(path string, logger *zap.Logger) time.Time {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read ticket watermark, starting fresh",
				zap.String("path", path), zap.Error(err))
		}
		return time.Time{}
	}
	var state ticketState
	if err := json.Unmarshal(raw, &state); err != nil {
		logger.Warn("Ticket watermark is corrupt, starting fresh",
			zap.String("path", path), zap.Error(err))
		return time.Time{}
	}
	return state.LastUpdatedAt
}

func saveTicketWatermark(path string, ts time.Time) error {
	raw, err := json.MarshalIndent(ticketState{LastUpdatedAt: ts}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ticket watermark: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write ticket watermark: %w", err)
	}
	return nil
}
