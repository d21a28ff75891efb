package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type fileMeta struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime_unix"`
}

// StateTracker remembers the size and modification time of every source file
// a reader has ingested, so unchanged files are skipped on later runs. State
// lives in one JSON file per reader.
type StateTracker struct {
	path    string
	entries map[string]fileMeta
	logger  *zap.Logger
}

// LoadState reads the tracker file at path. A missing or corrupt file starts
// the tracker fresh; every known file then reads as changed.
func LoadState(path string, logger *zap.Logger) *StateTracker {
	t := &StateTracker{
		path:    path,
		entries: make(map[string]fileMeta),
		logger:  logger,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read ingest state, starting fresh",
				zap.String("path", path), zap.Error(err))
		}
		return t
	}
	if err := json.Unmarshal(raw, &t.entries); err != nil {
		logger.Warn("Ingest state is corrupt, starting fresh",
			zap.String("path", path), zap.Error(err))
		t.entries = make(map[string]fileMeta)
	}
	return t
}

// Changed reports whether filePath differs from its recorded state.
func (t *StateTracker) Changed(filePath string) (bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	recorded, ok := t.entries[filePath]
	if !ok {
		return true, nil
	}
	return recorded.Size != info.Size() || recorded.ModTime != info.ModTime().Unix(), nil
}

// MarkIngested records filePath's current state. Call after a successful
// ingestion, then Save.
func (t *StateTracker) MarkIngested(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	t.entries[filePath] = fileMeta{Size: info.Size(), ModTime: info.ModTime().Unix()}
	return nil
}

// commitFiles marks every pending file as ingested and persists the tracker.
// The pending list is cleared so a double commit is a no-op.
func commitFiles(state *StateTracker, pending *[]string) error {
	if len(*pending) == 0 {
		return nil
	}
	for _, path := range *pending {
		if err := state.MarkIngested(path); err != nil {
			return err
		}
	}
	if err := state.Save(); err != nil {
		return err
	}
	*pending = nil
	return nil
}

// Save writes the tracker file.
func (t *StateTracker) Save() error {
	raw, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ingest state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(t.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write ingest state: %w", err)
	}
	return nil
}
