// Package sitemap resolves a sitemap or sitemap-index tree into a flat,
// deduplicated list of URL entries.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/logger"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

// MaxDepth bounds index recursion so cyclic or adversarial trees terminate.
// Branches deeper than this are skipped with a warning, not failed.
const MaxDepth = 10

// indexMarker is how index documents are told apart from leaf sitemaps.
// Token presence over structural validation keeps slightly malformed but
// usable sitemaps working.
var indexMarker = []byte("<sitemapindex")

type urlSet struct {
	URLs []urlNode `xml:"url"`
}

type urlNode struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type indexSet struct {
	Sitemaps []indexNode `xml:"sitemap"`
}

type indexNode struct {
	Loc string `xml:"loc"`
}

// Traverser fetches sitemap documents and walks index trees.
type Traverser struct {
	client  httpclient.Client
	headers map[string]string
}

// NewTraverser builds a traverser using the given HTTP client.
func NewTraverser(client httpclient.Client, headers map[string]string) *Traverser {
	return &Traverser{client: client, headers: headers}
}

// Entries resolves the tree rooted at rootURL into a deduplicated entry list
// in first-discovery order. Any fetch failure aborts the whole traversal: a
// partial tree is untrustworthy as a reconciliation input.
func (t *Traverser) Entries(ctx context.Context, rootURL string) ([]domain.URLEntry, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("sitemap traverser is not initialized")
	}

	seen := make(map[string]struct{})
	var entries []domain.URLEntry

	if err := t.walk(ctx, rootURL, 0, seen, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// walk fetches one document and either recurses into its children (index) or
// collects its URL entries (leaf). The seen set spans the entire traversal so
// a URL reachable through multiple branches is kept once.
func (t *Traverser) walk(ctx context.Context, url string, depth int, seen map[string]struct{}, out *[]domain.URLEntry) error {
	if depth > MaxDepth {
		logger.WarnObj("sitemap depth ceiling reached, skipping branch", "sitemap_skip", map[string]any{
			"url":       url,
			"max_depth": MaxDepth,
		})
		return nil
	}

	resp, err := t.client.Get(ctx, url, t.headers)
	if err != nil {
		return fmt.Errorf("fetch sitemap %s: %w", url, err)
	}
	body := resp.Body()
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("fetch sitemap %s: status %d", url, code)
	}

	if bytes.Contains(body, indexMarker) {
		children, err := parseIndex(body)
		if err != nil {
			return fmt.Errorf("parse sitemap index %s: %w", url, err)
		}
		logger.DebugObj("sitemap index resolved", "sitemap_index", map[string]any{
			"url":      url,
			"children": len(children),
			"depth":    depth,
		})
		for _, child := range children {
			if err := t.walk(ctx, child, depth+1, seen, out); err != nil {
				return err
			}
		}
		return nil
	}

	nodes, err := parseLeaf(body)
	if err != nil {
		return fmt.Errorf("parse sitemap %s: %w", url, err)
	}

	before := len(*out)
	for _, entry := range nodes {
		if _, dup := seen[entry.URL]; dup {
			continue
		}
		seen[entry.URL] = struct{}{}
		*out = append(*out, entry)
	}
	added := len(*out) - before
	logger.DebugObj("sitemap leaf resolved", "sitemap_leaf", map[string]any{
		"url":                url,
		"found":              len(nodes),
		"added":              added,
		"duplicates_skipped": len(nodes) - added,
	})
	return nil
}

// parseIndex extracts child sitemap references from an index document.
func parseIndex(body []byte) ([]string, error) {
	var idx indexSet
	if err := xml.Unmarshal(body, &idx); err != nil {
		return nil, err
	}

	children := make([]string, 0, len(idx.Sitemaps))
	for _, node := range idx.Sitemaps {
		loc := strings.TrimSpace(node.Loc)
		if loc == "" {
			continue
		}
		children = append(children, loc)
	}
	return children, nil
}

// parseLeaf extracts url/lastmod pairs from a leaf sitemap. A missing or
// blank lastmod is not an error; the entry carries no marker.
func parseLeaf(body []byte) ([]domain.URLEntry, error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, err
	}

	entries := make([]domain.URLEntry, 0, len(set.URLs))
	for _, node := range set.URLs {
		loc := strings.TrimSpace(node.Loc)
		if loc == "" {
			continue
		}

		var marker *string
		if lastmod := strings.TrimSpace(node.LastMod); lastmod != "" {
			marker = &lastmod
		}
		entries = append(entries, domain.URLEntry{URL: loc, LastModified: marker})
	}
	return entries, nil
}
