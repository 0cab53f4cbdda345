package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hoard/internal/github"
	"hoard/internal/model"
)

// fakeResponse describes what the fake transport answers for one URL.
type fakeResponse struct {
	body       string
	statusCode int
	err        error
}

// fakeTransport routes requests by exact URL and counts how often each URL
// was hit.
type fakeTransport struct {
	responses map[string]fakeResponse
	calls     map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]fakeResponse),
		calls:     make(map[string]int),
	}
}

func (ft *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	ft.calls[url]++
	r, ok := ft.responses[url]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader("no route"))}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

const (
	apiBase  = "https://api.github.com"
	testRepo = "acme/tool"
)

func tagURL(tag string) string {
	if tag == "latest" {
		return apiBase + "/repos/" + testRepo + "/releases/latest"
	}
	return apiBase + "/repos/" + testRepo + "/releases/tags/" + tag
}

// addRelease registers a release under the given API route ("latest" or a
// tag) with one asset per (name, content) pair and a download route for
// each. digests maps asset names to an explicit digest value; assets not
// listed get the correct one.
func (ft *fakeTransport) addRelease(route, tagName string, relID int64, assets map[string]string, digests map[string]string) {
	var assetJSON []string
	id := relID * 10
	for name, content := range assets {
		id++
		url := fmt.Sprintf("https://dl.example.com/%s/%s", tagName, name)
		digest, ok := digests[name]
		if !ok {
			digest = "sha256:" + hashOf(content)
		}
		assetJSON = append(assetJSON, fmt.Sprintf(
			`{"id": %d, "name": %q, "size": %d, "browser_download_url": %q, "digest": %q}`,
			id, name, len(content), url, digest))
		ft.responses[url] = fakeResponse{body: content, statusCode: 200}
	}
	ft.responses[tagURL(route)] = fakeResponse{
		body: fmt.Sprintf(`{"id": %d, "tag_name": %q, "assets": [%s]}`,
			relID, tagName, strings.Join(assetJSON, ",")),
		statusCode: 200,
	}
}

func newTestFetcher(ft *fakeTransport, dir string) *Fetcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(github.New(ft, ""), ft, dir, log)
}

func TestFetchTagsDownloadsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{"tool.tar.gz": "release payload"}, nil)

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}

	dest := filepath.Join(dir, "acme", "tool", "v1.0.0", "tool.tar.gz")
	want := []model.AssetRecord{{
		Repo:        testRepo,
		ReleaseTag:  "v1.0.0",
		ReleaseID:   5,
		AssetID:     51,
		AssetName:   "tool.tar.gz",
		Size:        int64(len("release payload")),
		DownloadURL: "https://dl.example.com/v1.0.0/tool.tar.gz",
		HashAlgo:    "sha256",
		HashValue:   hashOf("release payload"),
		Path:        dest,
	}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded asset: %v", err)
	}
	if string(data) != "release payload" {
		t.Errorf("asset content = %q", data)
	}

	sidecar, err := os.ReadFile(SidecarPath(dest))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if got := strings.TrimSpace(string(sidecar)); got != hashOf("release payload") {
		t.Errorf("sidecar hash = %q, want %q", got, hashOf("release payload"))
	}

	// No leftover part files.
	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("leftover part file %s", e.Name())
		}
	}
}

func TestRepeatedRunSkipsExistingAssets(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{"tool.tar.gz": "release payload"}, nil)

	f := newTestFetcher(ft, dir)
	ctx := context.Background()

	first, err := f.FetchTags(ctx, testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.FetchTags(ctx, testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 1 {
		t.Errorf("asset downloaded %d times, want 1", got)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run records differ (-first +second):\n%s", diff)
	}
}

func TestSizeMismatchTriggersRedownload(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{"tool.tar.gz": "release payload"}, nil)

	dest := filepath.Join(dir, "acme", "tool", "v1.0.0", "tool.tar.gz")
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(dest, []byte("truncated"), 0o640); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}

	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 1 {
		t.Errorf("asset downloaded %d times, want 1", got)
	}
	if len(records) != 1 || records[0].HashValue != hashOf("release payload") {
		t.Errorf("unexpected records: %+v", records)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "release payload" {
		t.Errorf("asset content = %q, want fresh payload", data)
	}
}

func TestDigestMismatchExcludesAsset(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5,
		map[string]string{"tool.tar.gz": "tampered payload"},
		map[string]string{"tool.tar.gz": "sha256:" + hashOf("expected payload")})

	f := newTestFetcher(ft, dir)
	ctx := context.Background()

	records, err := f.FetchTags(ctx, testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records for mismatched digest, got %+v", records)
	}

	// The failed asset must not land under its final name or leave a
	// sidecar, or the next run's size-match skip would admit it.
	dest := filepath.Join(dir, "acme", "tool", "v1.0.0", "tool.tar.gz")
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("mismatched asset left on disk at %s", dest)
	}
	if _, err := os.Stat(SidecarPath(dest)); !os.IsNotExist(err) {
		t.Errorf("sidecar left on disk for mismatched asset")
	}

	records, err = f.FetchTags(ctx, testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("second run admitted mismatched asset: %+v", records)
	}
	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 2 {
		t.Errorf("asset downloaded %d times, want a retry on each run", got)
	}
}

func TestForeignDigestAlgorithmSkipsCrossCheck(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5,
		map[string]string{"tool.tar.gz": "release payload"},
		map[string]string{"tool.tar.gz": "sha512:deadbeef"})

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}

	if len(records) != 1 || records[0].HashValue != hashOf("release payload") {
		t.Errorf("expected asset accepted on sha512 api digest, got %+v", records)
	}
}

func TestDownloadErrorSkipsAssetAndContinues(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{
		"bad.tar.gz":  "unreachable",
		"good.tar.gz": "fine payload",
	}, nil)
	ft.responses["https://dl.example.com/v1.0.0/bad.tar.gz"] = fakeResponse{err: io.ErrUnexpectedEOF}

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}

	if len(records) != 1 || records[0].AssetName != "good.tar.gz" {
		t.Errorf("expected only good.tar.gz, got %+v", records)
	}
}

func TestUnknownTagSkippedKnownTagProcessed(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{"tool.tar.gz": "release payload"}, nil)
	ft.responses[tagURL("v9.9.9")] = fakeResponse{body: `{"message":"Not Found"}`, statusCode: 404}

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v9.9.9", "v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}
	if len(records) != 1 || records[0].ReleaseTag != "v1.0.0" {
		t.Errorf("expected one v1.0.0 record, got %+v", records)
	}
}

func TestTagResolveErrorSkipsTagAndContinues(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.responses[tagURL("v0.9.0")] = fakeResponse{err: io.ErrUnexpectedEOF}
	ft.addRelease("v1.0.0", "v1.0.0", 5, map[string]string{"tool.tar.gz": "release payload"}, nil)

	f := newTestFetcher(ft, dir)
	records, err := f.FetchTags(context.Background(), testRepo, []string{"v0.9.0", "v1.0.0"}, false)
	if err != nil {
		t.Fatalf("fetch tags: %v", err)
	}
	if len(records) != 1 || records[0].ReleaseTag != "v1.0.0" {
		t.Errorf("expected one v1.0.0 record, got %+v", records)
	}
}

func TestForbiddenAbortsRun(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.responses[tagURL("v1.0.0")] = fakeResponse{body: "rate limited", statusCode: 403}

	f := newTestFetcher(ft, dir)
	if _, err := f.FetchTags(context.Background(), testRepo, []string{"v1.0.0"}, false); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLatestStateTracking(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("latest", "v1.0.0", 5, map[string]string{"tool.tar.gz": "v1 payload"}, nil)

	f := newTestFetcher(ft, dir)
	ctx := context.Background()

	// First run: latest unseen, downloads and records the tag.
	if _, err := f.FetchTags(ctx, testRepo, []string{"latest"}, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	statePath := filepath.Join(dir, ".acme_tool_latest.json")
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("latest state file not written: %v", err)
	}
	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 1 {
		t.Fatalf("asset downloaded %d times after first run, want 1", got)
	}

	// Second run: latest unchanged, existing file skipped.
	if _, err := f.FetchTags(ctx, testRepo, []string{"latest"}, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 1 {
		t.Errorf("asset downloaded %d times after unchanged run, want 1", got)
	}

	// Third run: force flag re-downloads even though nothing changed.
	if _, err := f.FetchTags(ctx, testRepo, []string{"latest"}, true); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if got := ft.calls["https://dl.example.com/v1.0.0/tool.tar.gz"]; got != 2 {
		t.Errorf("asset downloaded %d times after forced run, want 2", got)
	}
}

func TestLatestTagChangeForcesDownload(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTransport()
	ft.addRelease("latest", "v1.0.0", 5, map[string]string{"tool.tar.gz": "old payload!"}, nil)

	f := newTestFetcher(ft, dir)
	ctx := context.Background()

	if _, err := f.FetchTags(ctx, testRepo, []string{"latest"}, false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A new latest release appears under a new tag.
	ft.responses[tagURL("latest")] = fakeResponse{
		body: fmt.Sprintf(`{"id": 6, "tag_name": "v2.0.0", "assets": [
			{"id": 61, "name": "tool.tar.gz", "size": %d,
			 "browser_download_url": "https://dl.example.com/v2/tool.tar.gz",
			 "digest": %q}]}`,
			len("new payload!"), "sha256:"+hashOf("new payload!")),
		statusCode: 200,
	}
	ft.responses["https://dl.example.com/v2/tool.tar.gz"] = fakeResponse{body: "new payload!", statusCode: 200}

	records, err := f.FetchTags(ctx, testRepo, []string{"latest"}, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := ft.calls["https://dl.example.com/v2/tool.tar.gz"]; got != 1 {
		t.Errorf("new asset downloaded %d times, want 1", got)
	}
	if len(records) != 1 || records[0].ReleaseTag != "v2.0.0" {
		t.Errorf("unexpected records: %+v", records)
	}

	// State file now holds the new tag.
	if latestChanged(filepath.Join(dir, ".acme_tool_latest.json"), "v2.0.0") {
		t.Error("state file still reports v2.0.0 as changed")
	}
}

func TestComputeHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(path, []byte("some bytes"), 0o640); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := ComputeHash(path)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if got != hashOf("some bytes") {
		t.Errorf("hash = %s, want %s", got, hashOf("some bytes"))
	}
}
