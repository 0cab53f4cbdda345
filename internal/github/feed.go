package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
)

const feedBase = "https://github.com"

// ListReleaseTags returns the tags of recent releases, newest first, by
// parsing the repository's public releases Atom feed. The feed needs no
// authentication and does not count against the API rate limit.
func (c *Client) ListReleaseTags(ctx context.Context, repo string) ([]string, error) {
	return c.listReleaseTags(ctx, fmt.Sprintf("%s/%s/releases.atom", feedBase, repo))
}

func (c *Client) listReleaseTags(ctx context.Context, feedURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var tags []string
	for _, item := range feed.Items {
		if tag := tagFromEntry(item); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// tagFromEntry extracts the release tag from an Atom entry. Entry IDs look
// like "tag:github.com,2008:Repository/1234/v1.2.3"; the link path ends with
// "/releases/tag/<tag>". The ID is preferred, the link is the fallback.
func tagFromEntry(item *gofeed.Item) string {
	if item.GUID != "" {
		if i := strings.LastIndex(item.GUID, "/"); i >= 0 && i < len(item.GUID)-1 {
			return item.GUID[i+1:]
		}
	}
	const marker = "/releases/tag/"
	if i := strings.Index(item.Link, marker); i >= 0 {
		return strings.TrimSuffix(item.Link[i+len(marker):], "/")
	}
	return ""
}
