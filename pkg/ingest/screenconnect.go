package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/models"
)

// SourceScreenConnect is the source system name stamped on sessions built
// from ScreenConnect connection logs.
const SourceScreenConnect = "ScreenConnect"

const screenConnectStateFile = "screenconnect_ingest_state.json"

// Column names in the ScreenConnect SessionConnection report export.
// SessionCustomProperty1 carries the customer name by convention.
const (
	colConnected    = "ConnectedTime"
	colDisconnected = "DisconnectedTime"
	colParticipant  = "ParticipantName"
	colCustomer     = "SessionCustomProperty1"
	colMachine      = "SessionName"
	colConnectionID = "ConnectionID"
	colProcessType  = "ProcessType"
	colSessionType  = "SessionSessionType"
	colDuration     = "DurationSeconds"
)

// timestampLayouts are tried in order when parsing report timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04",
	"2006-01-02",
}

// ScreenConnectReader parses ScreenConnect connection-log CSV exports. Rows
// missing the customer or participant are dropped and counted; rows with
// unparseable timestamps are kept with zero times so the clustering engine
// reports them as skipped instead of silently losing them.
type ScreenConnectReader struct {
	dir     string
	state   *StateTracker
	pending []string
	logger  *zap.Logger
}

// NewScreenConnectReader creates a reader over dir, with ingest state kept
// under stateDir.
func NewScreenConnectReader(dir, stateDir string, logger *zap.Logger) *ScreenConnectReader {
	logger = logger.Named("screenconnect")
	return &ScreenConnectReader{
		dir:    dir,
		state:  LoadState(filepath.Join(stateDir, screenConnectStateFile), logger),
		logger: logger,
	}
}

var _ Reader = (*ScreenConnectReader)(nil)

func (r *ScreenConnectReader) Source() string { return SourceScreenConnect }

func (r *ScreenConnectReader) Read(ctx context.Context) ([]Batch, error) {
	paths, err := filepath.Glob(filepath.Join(r.dir, "*.csv"))
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
func (r *ScreenConnectReader) Commit() error {
	return commitFiles(r.state, &r.pending)
}

func (r *ScreenConnectReader) readFile(path string) ([]Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{colConnected, colDisconnected, colParticipant, colCustomer} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	field := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	// Rows group by customer and participant; the pipeline splits each
	// group into sessions by time gap.
	groups := make(map[[2]string][]models.Segment)
	dropped := 0
	for i, row := range records {
		customer := field(row, colCustomer)
		participant := field(row, colParticipant)
		if customer == "" || participant == "" {
			dropped++
			continue
		}

		seg := models.Segment{
			SegmentID: uuid.NewString(),
			StartTime: parseTimestamp(field(row, colConnected)),
			EndTime:   parseTimestamp(field(row, colDisconnected)),
			Type:      models.SegmentRemoteConnection,
			Author:    participant,
			Content:   "Connected to machine: " + orUnknown(field(row, colMachine)),
			Metadata: map[string]any{
				metaSourceRef:      strconv.Itoa(i),
				"connection_id":    field(row, colConnectionID),
				"process_type":     field(row, colProcessType),
				"session_type":     field(row, colSessionType),
				"duration_seconds": field(row, colDuration),
			},
		}
		key := [2]string{customer, participant}
		groups[key] = append(groups[key], seg)
	}
	if dropped > 0 {
		r.logger.Warn("Dropped rows missing customer or participant",
			zap.String("file", path),
			zap.Int("count", dropped))
	}

	keys := make([][2]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	batches := make([]Batch, 0, len(keys))
	for _, key := range keys {
		batches = append(batches, Batch{
			SourceSystem:      SourceScreenConnect,
			SourceFile:        path,
			CustomerNameGuess: key[0],
			SourceTitle:       "ScreenConnect Session for " + key[1],
			Segments:          groups[key],
		})
	}

	r.logger.Info("Parsed connection log",
		zap.String("file", path),
		zap.Int("rows", len(records)),
		zap.Int("groups", len(batches)))
	return batches, nil
}

// parseTimestamp returns the zero time for anything unparseable. Times
// without a zone are treated as UTC.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
