// Package fetch implements the idempotent download-and-verify loop for
// GitHub release assets.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"hoard/internal/github"
	"hoard/internal/model"
)

// HashAlgo is the digest algorithm recorded in manifest entries and sidecar
// file names.
const HashAlgo = "sha256"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and verifies release assets into a download directory.
type Fetcher struct {
	gh     *github.Client
	client HTTPClient
	dir    string
	log    *slog.Logger
}

// New creates a Fetcher. gh resolves release metadata, client streams asset
// bodies, and dir is the root download directory.
func New(gh *github.Client, client HTTPClient, dir string, log *slog.Logger) *Fetcher {
	return &Fetcher{gh: gh, client: client, dir: dir, log: log}
}

// FetchTags processes each requested tag in order and returns the manifest
// records for every verified asset. A tag that cannot be resolved is logged
// and skipped; only an aborting API error (403) stops the run.
func (f *Fetcher) FetchTags(ctx context.Context, repo string, tags []string, forceLatest bool) ([]model.AssetRecord, error) {
	var records []model.AssetRecord

	for _, tag := range tags {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}

		force := false
		rel, err := f.gh.ReleaseByTag(ctx, repo, tag)
		if err != nil {
			var forbidden *github.ErrForbidden
			if errors.As(err, &forbidden) {
				return records, fmt.Errorf("resolve tag %q: %w", tag, err)
			}
			f.log.Warn("resolve tag", "repo", repo, "tag", tag, "error", err)
			continue
		}
		if rel == nil {
			f.log.Warn("release not found", "repo", repo, "tag", tag)
			continue
		}

		if tag == github.LatestTag {
			statePath := f.latestStatePath(repo)
			changed := latestChanged(statePath, rel.TagName)
			force = forceLatest || changed
			switch {
			case changed:
				f.log.Info("latest release changed", "repo", repo, "tag", rel.TagName)
				if err := saveLatestTag(statePath, rel.TagName); err != nil {
					f.log.Warn("save latest state", "path", statePath, "error", err)
				}
			case forceLatest:
				f.log.Info("forcing re-download of latest release", "tag", rel.TagName)
			default:
				f.log.Info("latest release unchanged", "tag", rel.TagName)
			}
		}

		records = append(records, f.processRelease(ctx, repo, rel, force)...)
	}

	return records, nil
}

// processRelease walks a release's assets, downloading what is missing and
// recording everything that ends up verified on disk. A failed asset is
// logged and skipped; the loop continues with the next one.
func (f *Fetcher) processRelease(ctx context.Context, repo string, rel *github.Release, force bool) []model.AssetRecord {
	f.log.Info("processing release", "repo", repo, "tag", rel.TagName, "assets", len(rel.Assets))

	if len(rel.Assets) == 0 {
		f.log.Info("release has no assets", "tag", rel.TagName)
		return nil
	}

	relDir := filepath.Join(f.dir, filepath.FromSlash(repo), rel.TagName)

	var records []model.AssetRecord
	for _, asset := range rel.Assets {
		if ctx.Err() != nil {
			return records
		}
		if asset.BrowserDownloadURL == "" {
			f.log.Warn("asset has no download url", "asset", asset.Name)
			continue
		}

		dest := filepath.Join(relDir, asset.Name)

		var hashValue string
		if !force && sizeMatches(dest, asset.Size) {
			f.log.Info("skip existing asset", "path", dest)
			hv, err := f.existingHash(dest)
			if err != nil {
				f.log.Error("hash existing asset", "path", dest, "error", err)
				continue
			}
			hashValue = hv
		} else {
			hv, err := f.download(ctx, asset, dest)
			if err != nil {
				f.log.Error("download asset", "asset", asset.Name, "error", err)
				continue
			}
			hashValue = hv
		}

		records = append(records, model.AssetRecord{
			Repo:        repo,
			ReleaseTag:  rel.TagName,
			ReleaseID:   rel.ID,
			AssetID:     asset.ID,
			AssetName:   asset.Name,
			Size:        asset.Size,
			DownloadURL: asset.BrowserDownloadURL,
			HashAlgo:    HashAlgo,
			HashValue:   hashValue,
			Path:        dest,
		})
	}

	return records
}

// sizeMatches reports whether a regular file exists at dest with exactly
// size bytes. This is the idempotent skip check.
func sizeMatches(dest string, size int64) bool {
	fi, err := os.Stat(dest)
	return err == nil && fi.Mode().IsRegular() && fi.Size() == size
}

// existingHash returns the digest for an already-downloaded asset, read from
// its sidecar when present and recomputed from the file otherwise.
func (f *Fetcher) existingHash(dest string) (string, error) {
	if data, err := os.ReadFile(SidecarPath(dest)); err == nil { //nolint:gosec // path derived from config
		if hv := strings.TrimSpace(string(data)); hv != "" {
			return hv, nil
		}
	}
	return ComputeHash(dest)
}

// download streams the asset into dest while hashing, then re-reads what hit
// the disk and hashes it again. The two digests must agree with each other
// and with the digest the API reports, or the download fails. The body lands
// in a uniquely named .part file and is renamed into place only after every
// check passes, so a failed asset never appears under its final name and the
// size-match skip on the next run cannot pick it up.
func (f *Fetcher) download(ctx context.Context, asset github.Asset, dest string) (string, error) {
	f.log.Info("downloading", "url", asset.BrowserDownloadURL, "dest", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}

	part := dest + "." + uuid.NewString() + ".part"
	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // path derived from config
	if err != nil {
		return "", fmt.Errorf("create part file: %w", err)
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("stream body: %w", err)
	}
	streamHash := hex.EncodeToString(hasher.Sum(nil))

	verifyHash, err := ComputeHash(part)
	if err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("verify pass: %w", err)
	}
	if streamHash != verifyHash {
		_ = os.Remove(part)
		return "", fmt.Errorf("hash mismatch for %s (stream %s != verify %s)", dest, streamHash, verifyHash)
	}

	switch want, ok := apiDigest(asset.Digest); {
	case ok && want != streamHash:
		_ = os.Remove(part)
		return "", fmt.Errorf("digest does not match value reported by api (want %s, got %s)", want, streamHash)
	case !ok && asset.Digest != "":
		f.log.Warn("unrecognized api digest algorithm, skipping cross-check",
			"asset", asset.Name, "digest", asset.Digest)
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("rename part file: %w", err)
	}

	if err := os.WriteFile(SidecarPath(dest), []byte(streamHash+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}

	f.log.Info("verified", "asset", filepath.Base(dest), HashAlgo, streamHash)
	return streamHash, nil
}

// apiDigest extracts the hex value from an API-reported digest of the form
// "sha256:<hex>". It reports false for an empty digest or one computed with
// an algorithm other than SHA-256.
func apiDigest(digest string) (string, bool) {
	algo, value, ok := strings.Cut(digest, ":")
	if !ok || algo != HashAlgo {
		return "", false
	}
	return value, true
}

// ComputeHash returns the hex SHA-256 digest of the file at path.
func ComputeHash(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // path derived from config
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SidecarPath returns the path of the digest sidecar for an asset.
func SidecarPath(dest string) string {
	return dest + "." + HashAlgo
}
