// Package fingerprint produces stable content-derived identifiers.
//
// The same logical activity must always hash to the same identifier across
// runs: session IDs are fingerprints of source identifiers plus the session's
// time window, and segment dedup keys are fingerprints of (timestamp, author,
// content).
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Hash returns the SHA-256 hex digest of the given parts.
//
// Each part is framed with a big-endian length prefix before hashing, so
// ("a","bc") and ("ab","c") produce different digests. An empty part list is
// permitted and yields the digest of the empty canonical string.
func Hash(parts ...string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SessionID derives the deterministic identity of a session from its source
// identifiers and time window. Two ingestion runs over unchanged source data
// for the same activity window produce the same ID.
func SessionID(sourceIdentifiers []string, start, end time.Time) string {
	parts := make([]string, 0, len(sourceIdentifiers)+2)
	parts = append(parts, sourceIdentifiers...)
	parts = append(parts, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	return Hash(parts...)
}

// SegmentKey builds the dedup fingerprint for one atomic event, so that
// re-ingesting overlapping source files does not create duplicate segments.
func SegmentKey(timestamp time.Time, author, content string) string {
	return Hash(timestamp.UTC().Format(time.RFC3339Nano), author, content)
}
