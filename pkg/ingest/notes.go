package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/jsonutil"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// SourceNotes is the source system name for manual note exports.
const SourceNotes = "NotesJSON"

const notesStateFile = "notes_ingest_state.json"

type notesFile struct {
	Tickets   []noteTicket     `json:"tickets"`
	ToDoItems []map[string]any `json:"toDoItems"`
}

// Exports are hand-maintained, so identifier and order fields arrive as
// either numbers or strings.
type noteTicket struct {
	TicketNumber json.RawMessage `json:"ticketNumber"`
	Subject      string          `json:"subject"`
	InitialIssue string          `json:"initial_issue"`
	Date         string          `json:"date"`
	Customer     string          `json:"customer"`
	Contact      string          `json:"contact"`
	Status       string          `json:"status"`
	Priority     string          `json:"priority"`
	Notes        []noteEntry     `json:"notes"`
	ToDo         []todoEntry     `json:"to-do"`
}

func (t noteTicket) Number() string { return jsonutil.FlexibleString(t.TicketNumber) }

type noteEntry struct {
	Note  string          `json:"note"`
	Order json.RawMessage `json:"order"`
	Date  string          `json:"date"`
}

type todoEntry struct {
	Task  string          `json:"task"`
	Order json.RawMessage `json:"order"`
	Date  string          `json:"date"`
}

// NotesReader parses manual note exports (notes.json). Each ticket becomes
// one batch; its sub-notes and to-dos become segments.
type NotesReader struct {
	dir     string
	state   *StateTracker
	pending []string
	logger  *zap.Logger
}

// NewNotesReader creates a reader over dir, with ingest state kept under
// stateDir.
func NewNotesReader(dir, stateDir string, logger *zap.Logger) *NotesReader {
	logger = logger.Named("notes")
	return &NotesReader{
		dir:    dir,
		state:  LoadState(filepath.Join(stateDir, notesStateFile), logger),
		logger: logger,
	}
}

var _ Reader = (*NotesReader)(nil)

func (r *NotesReader) Source() string { return SourceNotes }

func (r *NotesReader) Read(ctx context.Context) ([]Batch, error) {
	paths, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.dir, err)
	}
	sort.Strings(paths)

	r.pending = nil
	var batches []Batch
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := r.state.Changed(path)
		if err != nil {
			return nil, err
		}
		if !changed {
			r.logger.Debug("File unchanged, skipping", zap.String("file", path))
			continue
		}

		fileBatches, err := r.readFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		batches = append(batches, fileBatches...)
		r.pending = append(r.pending, path)
	}
	return batches, nil
}

// Commit records the files from the last Read as ingested.
func (r *NotesReader) Commit() error {
	return commitFiles(r.state, &r.pending)
}

func (r *NotesReader) readFile(path string) ([]Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file notesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse notes file: %w", err)
	}

	var batches []Batch
	skipped := 0
	for _, ticket := range file.Tickets {
		if ticket.Number() == "" || ticket.Customer == "" {
			skipped++
			continue
		}
		batches = append(batches, r.ticketBatch(path, ticket))
	}

	if skipped > 0 {
		r.logger.Warn("Skipped tickets missing number or customer",
			zap.String("file", path), zap.Int("count", skipped))
	}
	if n := len(file.ToDoItems); n > 0 {
		// Standalone to-dos carry no customer and can never be linked.
		r.logger.Warn("Ignoring standalone to-do items",
			zap.String("file", path), zap.Int("count", n))
	}

	r.logger.Info("Parsed notes file",
		zap.String("file", path),
		zap.Int("tickets", len(batches)))
	return batches, nil
}

func (r *NotesReader) ticketBatch(path string, ticket noteTicket) Batch {
	var segments []models.Segment

	if ticket.InitialIssue != "" {
		segments = append(segments, noteSegment(
			models.SegmentTicketComment, ticket.Date, ticket.InitialIssue, "issue"))
	}
	for _, note := range ticket.Notes {
		segments = append(segments, noteSegment(
			models.SegmentNote, note.Date, note.Note, jsonutil.FlexibleString(note.Order)))
	}
	for _, todo := range ticket.ToDo {
		segments = append(segments, noteSegment(
			models.SegmentNote, todo.Date, "To-Do: "+todo.Task, jsonutil.FlexibleString(todo.Order)))
	}

	return Batch{
		SourceSystem:      SourceNotes,
		SourceFile:        path,
		CustomerNameGuess: ticket.Customer,
		ContactNameGuess:  ticket.Contact,
		SourceTitle:       ticket.Subject,
		Segments:          segments,
		GroupID:           "ticket/" + ticket.Number(),
	}
}

// noteSegment builds a point-in-time segment. Notes have no duration, so
// start and end coincide; unparseable dates leave both zero and the segment
// surfaces as skipped downstream.
func noteSegment(segType models.SegmentType, date, content, order string) models.Segment {
	ts := parseTimestamp(date)
	return models.Segment{
		SegmentID: uuid.NewString(),
		StartTime: ts,
		EndTime:   ts,
		Type:      segType,
		Content:   content,
		Metadata: map[string]any{
			metaSourceRef: order,
		},
	}
}
