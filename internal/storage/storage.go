package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
)

// Package storage persists sources and their per-URL submission state.

// ErrSourceNotFound is returned when a source id does not exist.
var ErrSourceNotFound = errors.New("source not found")

// Store is the persisted-state boundary consumed by the pipeline.
//
// URL records are unique per (source, url) and survive until their source is
// removed; RecordURL is an insert-or-update. Write errors always propagate.
type Store interface {
	Close() error

	// Sources returns all sources in ascending id order.
	Sources() ([]domain.Source, error)
	SourceByID(id int64) (domain.Source, error)
	// SourceExists reports whether a source with this URL is registered.
	SourceExists(sourceURL string) (bool, error)
	// AddSource registers a source and returns its assigned id.
	AddSource(src domain.Source) (int64, error)
	UpdateSource(src domain.Source) error
	// RemoveSource deletes a source and cascades to its URL records.
	RemoveSource(id int64) error

	// KnownMarkers returns the url -> last known marker mapping for a source.
	KnownMarkers(sourceID int64) (map[string]*string, error)
	// RecordURL inserts or updates the marker for (source, url).
	RecordURL(sourceID int64, url string, marker *string) error

	IsFirstRun(sourceID int64) (bool, error)
	MarkFirstRunDone(sourceID int64) error

	// Clear removes all sources and URL records.
	Clear() error
}

// NewStore creates the configured storage backend.
func NewStore(typ, path string) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s storage requires a path", typ)
	}

	switch typ {
	case "", "sqlite":
		return openSQLite(path)
	case "bbolt":
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}
