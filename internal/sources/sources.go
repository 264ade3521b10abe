// Package sources handles source registration: URL validation, host
// derivation, and declarative import from YAML/JSON files.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/storage"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
)

// DefaultSearchEngine is the IndexNow endpoint used when none is configured.
// It forwards submissions to all participating engines.
const DefaultSearchEngine = "api.indexnow.org"

type fileEntry struct {
	Kind         string `json:"kind" yaml:"kind"`
	URL          string `json:"url" yaml:"url"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	Host         string `json:"host" yaml:"host"`
	SearchEngine string `json:"searchengine" yaml:"searchengine"`
}

type fileRegistry struct {
	Sources []fileEntry `json:"sources" yaml:"sources"`
}

// LoadFile reads a declarative source list from a YAML or JSON file.
func LoadFile(path string) ([]domain.Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(reg.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}

	out := make([]domain.Source, 0, len(reg.Sources))
	seen := make(map[string]struct{}, len(reg.Sources))
	for i, entry := range reg.Sources {
		src, err := fromFileEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.SourceURL]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate source url %q", i, src.SourceURL)
		}
		seen[src.SourceURL] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

func parseRegistry(data []byte, ext string) (fileRegistry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg fileRegistry
		if err := d.fn(data, &reg); err == nil {
			return reg, nil
		}
	}

	return fileRegistry{}, errors.New("sources file format not recognized (expected YAML or JSON)")
}

// fromFileEntry sanitizes and validates one declarative entry.
func fromFileEntry(entry fileEntry) (domain.Source, error) {
	kind := domain.SourceKind(strings.ToLower(strings.TrimSpace(entry.Kind)))
	if !kind.Valid() {
		return domain.Source{}, fmt.Errorf("kind must be %q or %q", domain.KindFeed, domain.KindSitemap)
	}

	normalized, err := NormalizeURL(entry.URL)
	if err != nil {
		return domain.Source{}, err
	}

	key := strings.TrimSpace(entry.APIKey)
	if key == "" {
		return domain.Source{}, errors.New("api_key is required")
	}

	host := strings.TrimSpace(entry.Host)
	if host == "" {
		host, err = DeriveHost(normalized)
		if err != nil {
			return domain.Source{}, err
		}
	}

	engine := strings.TrimSpace(entry.SearchEngine)
	if engine == "" {
		engine = DefaultSearchEngine
	}

	return domain.Source{
		Kind:         kind,
		SourceURL:    normalized,
		APIKey:       key,
		Host:         host,
		SearchEngine: engine,
	}, nil
}

// NormalizeURL validates a source URL, prepending https:// when no scheme is
// present and upgrading http to https. The URL must carry a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("url must have a host")
	}
	return parsed.String(), nil
}

// DeriveHost extracts the host (domain) component from a URL.
func DeriveHost(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Hostname() == "" {
		return "", errors.New("url has no host to derive")
	}
	return parsed.Hostname(), nil
}

// Probe fetches the URL once and requires a 2xx response, so misconfigured
// sources are rejected at registration rather than at the first run.
func Probe(ctx context.Context, client httpclient.Client, rawURL string) error {
	resp, err := client.Get(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", rawURL, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("probe %s: status %d", rawURL, code)
	}
	return nil
}

// Import upserts declarative sources into the store, matching on source URL.
// Existing sources keep their id and first-run flag; new ones start fresh.
func Import(store storage.Store, srcs []domain.Source) (added, updated int, err error) {
	existing, err := store.Sources()
	if err != nil {
		return 0, 0, fmt.Errorf("load existing sources: %w", err)
	}
	byURL := make(map[string]domain.Source, len(existing))
	for _, src := range existing {
		byURL[src.SourceURL] = src
	}

	for _, src := range srcs {
		if prev, ok := byURL[src.SourceURL]; ok {
			src.ID = prev.ID
			src.FirstRunCompleted = prev.FirstRunCompleted
			if err := store.UpdateSource(src); err != nil {
				return added, updated, fmt.Errorf("update source %q: %w", src.SourceURL, err)
			}
			updated++
			continue
		}
		if _, err := store.AddSource(src); err != nil {
			return added, updated, fmt.Errorf("add source %q: %w", src.SourceURL, err)
		}
		added++
	}
	return added, updated, nil
}
