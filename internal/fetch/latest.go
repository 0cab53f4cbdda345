package fetch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// latestState tracks which tag "latest" resolved to on the previous run, so
// a new latest release triggers a re-download even when same-named files
// from the old release are still on disk.
type latestState struct {
	LatestTag string `json:"latest_tag"`
	UpdatedAt string `json:"updated_at"`
}

func (f *Fetcher) latestStatePath(repo string) string {
	return filepath.Join(f.dir, "."+strings.ReplaceAll(repo, "/", "_")+"_latest.json")
}

// latestChanged reports whether the stored latest tag differs from tag. A
// missing or unreadable state file counts as changed.
func latestChanged(path, tag string) bool {
	data, err := os.ReadFile(path) //nolint:gosec // path derived from config
	if err != nil {
		return true
	}
	var st latestState
	if err := json.Unmarshal(data, &st); err != nil {
		return true
	}
	return st.LatestTag != tag
}

func saveLatestTag(path, tag string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(latestState{
		LatestTag: tag,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o640)
}
