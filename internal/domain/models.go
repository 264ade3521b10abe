package domain

import "fmt"

// Domain contains core models shared across the pipeline.

// SourceKind distinguishes syndication feeds from sitemap trees.
type SourceKind string

const (
	KindFeed    SourceKind = "feed"
	KindSitemap SourceKind = "sitemap"
)

// Valid reports whether the kind is one of the known values.
func (k SourceKind) Valid() bool {
	return k == KindFeed || k == KindSitemap
}

// Source is a configured feed or sitemap endpoint with its own IndexNow
// credential and notification target.
type Source struct {
	ID                int64
	Kind              SourceKind
	SourceURL         string
	APIKey            string
	Host              string
	SearchEngine      string
	FirstRunCompleted bool
}

// URLEntry is a single URL discovered in a feed or sitemap.
// LastModified is an opaque marker string (lastmod / updated / published),
// compared only by string equality, never parsed as a date.
type URLEntry struct {
	URL          string
	LastModified *string
}

// Reason says why an entry is part of a submission set.
type Reason struct {
	modified bool
	marker   string
}

// NewReason marks an entry absent from persisted state.
func NewReason() Reason { return Reason{} }

// ModifiedReason marks an entry whose fresh marker differs from the stored one.
func ModifiedReason(marker string) Reason {
	return Reason{modified: true, marker: marker}
}

// IsModified reports whether the entry was classified as modified, returning
// the fresh marker when it was.
func (r Reason) IsModified() (string, bool) {
	return r.marker, r.modified
}

func (r Reason) String() string {
	if r.modified {
		return fmt.Sprintf("modified on %s", r.marker)
	}
	return "new"
}

// Submission is one classified entry bound for the notification API.
type Submission struct {
	URL    string
	Reason Reason
}

// MarkerToPersist resolves the marker to record after a successful
// submission: modified entries record the fresh marker, new entries record
// whatever marker they were fetched with (possibly none).
func (s Submission) MarkerToPersist(fetched *string) *string {
	if marker, ok := s.Reason.IsModified(); ok {
		return &marker
	}
	return fetched
}
