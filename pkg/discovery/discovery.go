// Package discovery finds feed references advertised by an HTML page, for
// use when a registered source URL points at a site rather than a feed.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

const maxHTMLBodyBytes = 1 << 20 // 1 MiB

// feedContentTypes are the alternate-link types treated as feeds.
var feedContentTypes = map[string]struct{}{
	"application/rss+xml":   {},
	"application/atom+xml":  {},
	"application/feed+json": {},
	"application/json":      {},
}

// Discover fetches pageURL and returns the absolute feed URLs its HTML head
// advertises, in document order. An empty result is not an error.
func Discover(ctx context.Context, client httpclient.Client, pageURL string) ([]string, error) {
	resp, err := client.Get(ctx, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, code)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	return FeedLinks(pageURL, body)
}

// FeedLinks extracts feed alternates from an HTML document, resolving
// relative hrefs against baseURL.
func FeedLinks(baseURL string, body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var links []string
	seen := make(map[string]struct{})

	doc.Find(`link[rel="alternate"]`).Each(func(_ int, sel *goquery.Selection) {
		typ, _ := sel.Attr("type")
		if _, ok := feedContentTypes[strings.ToLower(strings.TrimSpace(typ))]; !ok {
			return
		}
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	return links, nil
}
