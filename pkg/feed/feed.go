// Package feed extracts URL entries from RSS, Atom, and JSON feeds.
// Wire-format detection and parsing are delegated to gofeed.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

const httpPrefix = "http"

// Fetcher retrieves a feed document and normalizes it to URL entries.
type Fetcher struct {
	client  httpclient.Client
	headers map[string]string
}

// NewFetcher builds a feed fetcher using the given HTTP client.
func NewFetcher(client httpclient.Client, headers map[string]string) *Fetcher {
	return &Fetcher{client: client, headers: headers}
}

// Entries fetches and parses the feed at feedURL. Items without a usable link
// are skipped; items without any date carry a nil marker.
func (f *Fetcher) Entries(ctx context.Context, feedURL string) ([]domain.URLEntry, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("feed fetcher is not initialized")
	}

	resp, err := f.client.Get(ctx, feedURL, f.headers)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, fmt.Errorf("fetch feed %s: status %d", feedURL, code)
	}

	return Parse(resp.Body())
}

// Parse normalizes a raw feed body into URL entries.
func Parse(body []byte) ([]domain.URLEntry, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]domain.URLEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		link := extractLink(item)
		if link == "" {
			continue
		}
		entries = append(entries, domain.URLEntry{
			URL:          link,
			LastModified: marker(item),
		})
	}
	return entries, nil
}

// extractLink returns the best available URL from a feed item, preferring the
// explicit link and falling back to a GUID that looks like an HTTP URL.
func extractLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if strings.HasPrefix(item.GUID, httpPrefix) {
		return item.GUID
	}
	return ""
}

// marker derives the modification marker for an item: `updated` wins over
// `published` (updated means content changed), formatted once as RFC3339 and
// treated as an opaque string from here on.
func marker(item *gofeed.Item) *string {
	var t *time.Time
	switch {
	case item.UpdatedParsed != nil:
		t = item.UpdatedParsed
	case item.PublishedParsed != nil:
		t = item.PublishedParsed
	default:
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
