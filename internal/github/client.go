// Package github is a minimal client for the GitHub Releases REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	apiBase        = "https://api.github.com"
	acceptHeader   = "application/vnd.github+json"
	requestTimeout = 30 * time.Second

	// LatestTag is the tag alias that resolves to the newest release.
	LatestTag = "latest"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Release is the subset of the GitHub release object the fetcher needs.
type Release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
	// Digest is the API-reported content digest in "sha256:<hex>" form.
	// Older releases may not have one.
	Digest string `json:"digest"`
}

// ErrForbidden is returned when the API answers 403, typically because the
// unauthenticated rate limit is exhausted. It aborts the whole run.
type ErrForbidden struct {
	Body string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("github api rate limited or forbidden: %s", e.Body)
}

// Client talks to the GitHub Releases API.
type Client struct {
	client  HTTPClient
	baseURL string
	token   string
}

// New creates a Client. An empty token leaves requests unauthenticated.
func New(client HTTPClient, token string) *Client {
	return &Client{
		client:  client,
		baseURL: apiBase,
		token:   token,
	}
}

var repoURLRe = regexp.MustCompile(`^https?://github\.com/([^/]+/[^/]+?)(?:\.git)?(?:/|$)`)

// ParseRepo normalizes a repository spec to "owner/name". It accepts either
// the plain form or a full github.com URL.
func ParseRepo(spec string) (string, error) {
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		m := repoURLRe.FindStringSubmatch(spec)
		if m == nil {
			return "", fmt.Errorf("unsupported GitHub URL %q", spec)
		}
		return m[1], nil
	}
	if strings.Count(spec, "/") != 1 {
		return "", fmt.Errorf("repo must be in owner/name format, got %q", spec)
	}
	return spec, nil
}

// LatestRelease returns the newest published release, or nil if the
// repository has no releases.
func (c *Client) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	return c.getRelease(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, repo))
}

// ReleaseByTag returns the release with the given tag, or nil if no such
// release exists. The "latest" alias resolves to the newest release.
func (c *Client) ReleaseByTag(ctx context.Context, repo, tag string) (*Release, error) {
	if tag == LatestTag {
		return c.LatestRelease(ctx, repo)
	}
	return c.getRelease(ctx,
		fmt.Sprintf("%s/repos/%s/releases/tags/%s", c.baseURL, repo, url.PathEscape(tag)))
}

func (c *Client) getRelease(ctx context.Context, u string) (*Release, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &ErrForbidden{Body: string(body)}
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}
