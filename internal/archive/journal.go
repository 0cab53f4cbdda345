package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hoard/internal/model"
)

// Journal persists one JSON array of message records per day under the
// archive's .cache directory. Records are append-only.
type Journal struct {
	dir string
	log *slog.Logger
}

// NewJournal creates a Journal writing to dir.
func NewJournal(dir string, log *slog.Logger) *Journal {
	return &Journal{dir: dir, log: log}
}

// FileFor returns the journal file path for the given day.
func (j *Journal) FileFor(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format("2006-01-02")+".json")
}

// Append adds a record to the journal file for the record's day. An existing
// file that cannot be parsed is logged and replaced rather than blocking the
// new record.
func (j *Journal) Append(t time.Time, rec model.MessageRecord) error {
	path := j.FileFor(t)

	var records []model.MessageRecord
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // path derived from config
		if err := json.Unmarshal(data, &records); err != nil {
			j.log.Warn("journal file unreadable, starting fresh", "path", path, "error", err)
			records = nil
		}
	}

	records = append(records, rec)

	if err := os.MkdirAll(j.dir, 0o750); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Load reads all records from the journal file for the given day.
func (j *Journal) Load(t time.Time) ([]model.MessageRecord, error) {
	data, err := os.ReadFile(j.FileFor(t)) //nolint:gosec // path derived from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var records []model.MessageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return records, nil
}
