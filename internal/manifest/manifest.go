// Package manifest maintains the append-only JSON record of verified
// release assets.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hoard/internal/model"
)

// Filename is the manifest file name inside the download directory.
const Filename = "release_manifest.json"

type key struct {
	assetID   int64
	hashValue string
}

// Load reads the manifest at path. A missing file yields an empty manifest;
// an unreadable or malformed file is treated the same so a corrupt manifest
// never blocks a run.
func Load(path string) []model.AssetRecord {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from CLI config
	if err != nil {
		return nil
	}
	var records []model.AssetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

// Append merges records into the manifest at path and rewrites it. Existing
// entries are kept untouched; a record is added only when no entry with the
// same (asset_id, hash_value) pair exists. It returns the number of records
// actually added.
func Append(path string, records []model.AssetRecord) (int, error) {
	existing := Load(path)

	seen := make(map[key]struct{}, len(existing))
	for _, r := range existing {
		seen[key{r.AssetID, r.HashValue}] = struct{}{}
	}

	added := 0
	merged := existing
	for _, r := range records {
		k := key{r.AssetID, r.HashValue}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, r)
		added++
	}

	if added == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		return 0, fmt.Errorf("write manifest: %w", err)
	}
	return added, nil
}
