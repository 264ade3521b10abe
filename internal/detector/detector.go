// Package detector classifies freshly fetched URL entries against a source's
// persisted url->marker state.
package detector

import "github.com/sitepulse-hq/sitepulse-notifier/internal/domain"

// Result is a classified submission set. Submissions preserves fetch order,
// contains no duplicate URLs, and holds only New and Modified entries;
// unchanged entries are counted but dropped.
type Result struct {
	Submissions []domain.Submission
	NewCount    int
	ModCount    int
	Unchanged   int
}

// Empty reports whether there is nothing to submit.
func (r Result) Empty() bool { return len(r.Submissions) == 0 }

// Classify diffs entries against the persisted markers for a source.
//
// An entry absent from known is New. An entry present in known is Modified
// iff it carries a fresh marker and either no marker was stored or the fresh
// marker differs from the stored one, compared as opaque strings. An entry
// with no fresh marker is never Modified. Everything else is unchanged.
// Classify never mutates known; persisting decisions is the caller's job.
func Classify(entries []domain.URLEntry, known map[string]*string) Result {
	var res Result
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if _, dup := seen[entry.URL]; dup {
			continue
		}
		seen[entry.URL] = struct{}{}

		stored, exists := known[entry.URL]
		if !exists {
			res.Submissions = append(res.Submissions, domain.Submission{
				URL:    entry.URL,
				Reason: domain.NewReason(),
			})
			res.NewCount++
			continue
		}

		if entry.LastModified != nil && (stored == nil || *entry.LastModified != *stored) {
			res.Submissions = append(res.Submissions, domain.Submission{
				URL:    entry.URL,
				Reason: domain.ModifiedReason(*entry.LastModified),
			})
			res.ModCount++
			continue
		}

		res.Unchanged++
	}

	return res
}

// FirstRun builds the full-set submission plan for a source's initial pass:
// every entry is New. Whether that set is actually submitted is an explicit
// acceptance decision made by the caller, never by the detector.
func FirstRun(entries []domain.URLEntry) Result {
	var res Result
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if _, dup := seen[entry.URL]; dup {
			continue
		}
		seen[entry.URL] = struct{}{}
		res.Submissions = append(res.Submissions, domain.Submission{
			URL:    entry.URL,
			Reason: domain.NewReason(),
		})
		res.NewCount++
	}
	return res
}
