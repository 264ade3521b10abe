package sinks

import (
	"time"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
)

// Outcome values carried by run reports.
const (
	OutcomeSubmitted = "submitted"  // one or more batches accepted
	OutcomeUpToDate  = "up-to-date" // empty submission set
	OutcomeSkipped   = "skipped"    // first run stored but not accepted, or dry run
	OutcomeFailed    = "failed"
)

// Report is the payload fanned out after each source's reconcile pass.
type Report struct {
	SourceID    int64     `json:"source_id"`
	SourceURL   string    `json:"source_url"`
	Kind        string    `json:"kind"`
	FirstRun    bool      `json:"first_run"`
	Discovered  int       `json:"discovered"`
	New         int       `json:"new"`
	Modified    int       `json:"modified"`
	Unchanged   int       `json:"unchanged"`
	Batches     int       `json:"batches"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewReport seeds a report for the given source.
func NewReport(src domain.Source) Report {
	return Report{
		SourceID:    src.ID,
		SourceURL:   src.SourceURL,
		Kind:        string(src.Kind),
		CompletedAt: time.Now().UTC(),
	}
}
