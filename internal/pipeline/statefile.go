package pipeline

import (
	json "github.com/segmentio/encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshot is a diagnostic record of the controller's most recent cycle. It
// is never read back as the source of truth for the cursor — that lives
// only in the search engine's control index — but it lets an operator
// inspect the last known state without querying the index directly.
type snapshot struct {
	LastCycleAt      time.Time `json:"lastCycleAt"`
	LastTransaction  int64     `json:"lastTransactionId"`
	LastCorrelation  string    `json:"lastCorrelationId"`
	LastError        string    `json:"lastError,omitempty"`
}

// writeSnapshot durably persists s to path using a write-to-temp-then-rename
// sequence so a crash mid-write never leaves a truncated file behind.
func writeSnapshot(path string, s snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming state file: %w", err)
	}
	return nil
}

// readSnapshot loads the last persisted snapshot; a missing file is not an
// error, it just means no cycle has completed yet.
func readSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, nil
		}
		return snapshot{}, fmt.Errorf("reading state file: %w", err)
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return snapshot{}, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}
