// Package ingest turns raw source exports into segment batches for the
// consolidation pipeline. Each reader owns one source format and tracks
// which files it has already ingested.
package ingest

import (
	"context"
	"sort"
	"strings"

	"github.com/opsledger/worklog-engine/pkg/models"
)

// metaSourceRef is the segment metadata key carrying the row-level
// traceability reference within the source file.
const metaSourceRef = "source_ref"

// Batch is one group of segments that belong together before temporal
// clustering: all events of one customer and participant from one source
// file, or all entries of one ticket. The pipeline may still split a batch
// into several sessions by time gap.
type Batch struct {
	SourceSystem      string
	SourceFile        string
	CustomerNameGuess string
	ContactNameGuess  string
	SourceTitle       string
	Segments          []models.Segment

	// GroupID, when set, identifies the whole batch in the source (for
	// example "ticket/1042"). When empty, identity falls back to the
	// per-segment source refs.
	GroupID string
}

// Identifiers returns the source identifiers for one time cluster taken from
// this batch. They feed the session fingerprint, so the same source rows
// always produce the same list.
func (b Batch) Identifiers(group []models.Segment) []string {
	if b.GroupID != "" {
		return []string{b.SourceFile, b.GroupID}
	}

	refs := make([]string, 0, len(group))
	for _, seg := range group {
		if ref, ok := seg.Metadata[metaSourceRef].(string); ok {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return []string{b.SourceFile, "rows/" + strings.Join(refs, ",")}
}

// Reader ingests one source format.
type Reader interface {
	// Source names the source system this reader produces segments for.
	Source() string
	// Read parses every new or changed input and returns its batches.
	// Unchanged inputs are skipped via the reader's state tracker.
	Read(ctx context.Context) ([]Batch, error)
	// Commit records the inputs returned by the last Read as ingested.
	// The orchestrator calls it only after every record persisted, so a
	// failed run leaves the inputs to be re-read next time.
	Commit() error
}
