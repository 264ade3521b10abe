package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/config"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/detector"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/logger"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/storage"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/feed"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/httpclient"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/indexnow"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/sinks"
	"github.com/sitepulse-hq/sitepulse-notifier/pkg/sitemap"
)

// EntryFetcher resolves a source URL into its current list of URL entries.
type EntryFetcher interface {
	Entries(ctx context.Context, sourceURL string) ([]domain.URLEntry, error)
}

// Submitter delivers submission batches to the notification endpoint.
type Submitter interface {
	SubmitBatches(ctx context.Context, creds indexnow.Credentials, subs []domain.Submission, onBatch func([]domain.Submission) error) (int, error)
}

// Acceptance decides whether a source's first full URL set is submitted or
// only recorded. The decision is asked once per source, after the set is
// already persisted.
type Acceptance func(src domain.Source, pending int) bool

// AcceptAll submits every first-run set without asking.
func AcceptAll(domain.Source, int) bool { return true }

// DeclineAll records first-run sets but never submits them.
func DeclineAll(domain.Source, int) bool { return false }

// Options tune a single runner instance.
type Options struct {
	// DryRun reports what would be submitted without calling the endpoint
	// or writing any source state.
	DryRun bool
	// Accept resolves first-run submission decisions. Defaults to DeclineAll.
	Accept Acceptance
}

// Runner drives the reconcile pipeline: fetch entries per source, classify
// them against persisted state, submit what changed, and fan out a report.
type Runner struct {
	cfg       *config.Config
	store     storage.Store
	feeds     EntryFetcher
	sitemaps  EntryFetcher
	submitter Submitter
	fanout    *sinks.Fanout
	accept    Acceptance
	dryRun    bool
	log       logger.Logger
}

// New builds a runner from config: storage backend, fetchers, submission
// client, and the optional sink fanout.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": cfg.DBPath,
	})

	fanout, err := buildFanout(ctx, cfg.SinksFile, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	fetchClient := httpclient.NewRestyClient(cfg.FetchTimeout, cfg.UserAgent)

	accept := opts.Accept
	if accept == nil {
		accept = DeclineAll
	}

	return &Runner{
		cfg:       cfg,
		store:     store,
		feeds:     feed.NewFetcher(fetchClient, nil),
		sitemaps:  sitemap.NewTraverser(fetchClient, nil),
		submitter: indexnow.NewClient(cfg.SubmitTimeout, cfg.UserAgent),
		fanout:    fanout,
		accept:    accept,
		dryRun:    opts.DryRun,
		log:       log,
	}, nil
}

// buildFanout loads the sink registry file, if any, and instantiates the
// enabled sinks. An empty path means no sinks are configured.
func buildFanout(ctx context.Context, sinksFile string, log logger.Logger) (*sinks.Fanout, error) {
	if sinksFile == "" {
		return sinks.NewFanout(nil), nil
	}

	reg, err := sinks.LoadRegistry(sinksFile)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}
	enabled := reg.Enabled()
	built, err := sinks.BuildAll(ctx, sinks.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, cfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   cfg.ID,
			"type": cfg.Type,
		})
	}
	log.InfoObj("sinks registry loaded", "sinks_meta", map[string]any{
		"count": len(summaries),
		"sinks": summaries,
	})
	return sinks.NewFanout(built), nil
}

// Store exposes the underlying store for source management commands.
func (r *Runner) Store() storage.Store { return r.store }

// Close releases the storage backend.
func (r *Runner) Close() {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		r.log.ErrorObj("storage close failed", "error", err)
	}
}

// Run executes one pass, then keeps reconciling on the configured watch
// interval until the context is cancelled. With no interval it is a single
// pass.
func (r *Runner) Run(ctx context.Context, ids []int64) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("runner is not initialized")
	}

	if err := r.RunOnce(ctx, ids); err != nil {
		if r.cfg.WatchInterval <= 0 {
			return err
		}
		r.log.ErrorObj("initial pass failed", "error", err)
	}
	if r.cfg.WatchInterval <= 0 {
		return nil
	}

	r.log.InfoObj("watch loop starting", "watch_state", map[string]any{
		"interval":    r.cfg.WatchInterval.String(),
		"sinks_count": r.fanout.Size(),
	})

	ticker := time.NewTicker(r.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.InfoObj("watch loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := r.RunOnce(ctx, ids); err != nil {
				r.log.ErrorObj("scheduled pass failed", "error", err)
			}
		}
	}
}

// RunOnce reconciles the selected sources in ascending id order. With no ids
// every registered source is processed. One source failing does not stop the
// others; all failures are joined into the returned error.
func (r *Runner) RunOnce(ctx context.Context, ids []int64) error {
	srcs, err := r.selectSources(ids)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		r.log.WarnObj("no sources registered; nothing to do", "sources_count", 0)
		return nil
	}

	start := time.Now()
	r.log.InfoObj("reconcile pass started", "pass_meta", map[string]any{
		"sources_count": len(srcs),
		"dry_run":       r.dryRun,
	})

	var errs []error
	for _, src := range srcs {
		report, err := r.processSource(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d (%s): %w", src.ID, src.SourceURL, err))
		}
		r.dispatch(ctx, report)
	}

	r.log.InfoObj("reconcile pass completed", "pass_meta", map[string]any{
		"sources_count": len(srcs),
		"failures":      len(errs),
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return errors.Join(errs...)
}

// selectSources loads all sources or the requested subset. Asking for an
// unknown id is an error, not a silent skip.
func (r *Runner) selectSources(ids []int64) ([]domain.Source, error) {
	if len(ids) == 0 {
		return r.store.Sources()
	}

	srcs := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		src, err := r.store.SourceByID(id)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", id, err)
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

// processSource runs the fetch-classify-submit pipeline for one source and
// always returns a report describing the outcome.
func (r *Runner) processSource(ctx context.Context, src domain.Source) (sinks.Report, error) {
	report := sinks.NewReport(src)

	entries, err := r.fetchEntries(ctx, src)
	if err != nil {
		return failed(report, err), err
	}
	report.Discovered = len(entries)

	firstRun, err := r.store.IsFirstRun(src.ID)
	if err != nil {
		return failed(report, err), err
	}

	if firstRun {
		return r.processFirstRun(ctx, src, entries, report)
	}
	return r.processDelta(ctx, src, entries, report)
}

// processFirstRun records the full discovered set as the source's baseline,
// then asks the acceptance policy whether to submit it. A declined baseline
// still completes the first run, so the set is never re-offered; a failed
// accepted submission leaves the first run open so it is. Dry run only
// reports: the source stays untouched for a later real run.
func (r *Runner) processFirstRun(ctx context.Context, src domain.Source, entries []domain.URLEntry, report sinks.Report) (sinks.Report, error) {
	report.FirstRun = true

	res := detector.FirstRun(entries)
	report.New = res.NewCount

	if r.dryRun {
		r.log.InfoObj("dry run: first-run set left unrecorded", "dry_run_plan", map[string]any{
			"source_id": src.ID,
			"urls":      len(res.Submissions),
		})
		if res.Empty() {
			report.Outcome = sinks.OutcomeUpToDate
		} else {
			report.Outcome = sinks.OutcomeSkipped
		}
		return report, nil
	}

	markers := markersByURL(entries)
	for _, sub := range res.Submissions {
		if err := r.store.RecordURL(src.ID, sub.URL, markers[sub.URL]); err != nil {
			err = fmt.Errorf("record url %s: %w", sub.URL, err)
			return failed(report, err), err
		}
	}

	if res.Empty() {
		if err := r.store.MarkFirstRunDone(src.ID); err != nil {
			return failed(report, err), err
		}
		report.Outcome = sinks.OutcomeUpToDate
		return report, nil
	}

	if !r.accept(src, len(res.Submissions)) {
		r.log.InfoObj("first-run set recorded without submission", "first_run", map[string]any{
			"source_id": src.ID,
			"urls":      len(res.Submissions),
		})
		if err := r.store.MarkFirstRunDone(src.ID); err != nil {
			return failed(report, err), err
		}
		report.Outcome = sinks.OutcomeSkipped
		return report, nil
	}

	// Entries are already recorded, so no per-batch persistence here.
	batches, err := r.submitter.SubmitBatches(ctx, credentials(src), res.Submissions, nil)
	report.Batches = batches
	if err != nil {
		return failed(report, err), err
	}
	if err := r.store.MarkFirstRunDone(src.ID); err != nil {
		return failed(report, err), err
	}

	report.Outcome = sinks.OutcomeSubmitted
	r.log.InfoObj("first-run set submitted", "first_run", map[string]any{
		"source_id": src.ID,
		"urls":      len(res.Submissions),
		"batches":   batches,
	})
	return report, nil
}

// processDelta classifies entries against the stored markers and submits only
// what changed. Each batch's records are persisted right after that batch is
// confirmed, so an aborted run never re-announces confirmed URLs.
func (r *Runner) processDelta(ctx context.Context, src domain.Source, entries []domain.URLEntry, report sinks.Report) (sinks.Report, error) {
	known, err := r.store.KnownMarkers(src.ID)
	if err != nil {
		return failed(report, err), err
	}

	res := detector.Classify(entries, known)
	report.New = res.NewCount
	report.Modified = res.ModCount
	report.Unchanged = res.Unchanged

	if res.Empty() {
		report.Outcome = sinks.OutcomeUpToDate
		r.log.DebugObj("source up to date", "source_state", map[string]any{
			"source_id": src.ID,
			"unchanged": res.Unchanged,
		})
		return report, nil
	}

	if r.dryRun {
		report.Outcome = sinks.OutcomeSkipped
		r.log.InfoObj("dry run: submissions planned, not sent", "dry_run_plan", map[string]any{
			"source_id": src.ID,
			"new":       res.NewCount,
			"modified":  res.ModCount,
		})
		return report, nil
	}

	markers := markersByURL(entries)
	batches, err := r.submitter.SubmitBatches(ctx, credentials(src), res.Submissions, func(batch []domain.Submission) error {
		for _, sub := range batch {
			if err := r.store.RecordURL(src.ID, sub.URL, sub.MarkerToPersist(markers[sub.URL])); err != nil {
				return fmt.Errorf("record url %s: %w", sub.URL, err)
			}
		}
		return nil
	})
	report.Batches = batches
	if err != nil {
		return failed(report, err), err
	}

	report.Outcome = sinks.OutcomeSubmitted
	r.log.InfoObj("source submissions delivered", "submission_meta", map[string]any{
		"source_id": src.ID,
		"new":       res.NewCount,
		"modified":  res.ModCount,
		"batches":   batches,
	})
	return report, nil
}

// fetchEntries resolves the source through the fetcher matching its kind.
func (r *Runner) fetchEntries(ctx context.Context, src domain.Source) ([]domain.URLEntry, error) {
	switch src.Kind {
	case domain.KindFeed:
		return r.feeds.Entries(ctx, src.SourceURL)
	case domain.KindSitemap:
		return r.sitemaps.Entries(ctx, src.SourceURL)
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// dispatch fans the report out to configured sinks. Delivery failures are
// logged, never escalated: reporting must not fail the pipeline.
func (r *Runner) dispatch(ctx context.Context, report sinks.Report) {
	if r.fanout.Size() == 0 {
		return
	}
	delivered, err := r.fanout.Send(ctx, report)
	if err != nil {
		r.log.ErrorObj("report fanout partially failed", "fanout_error", map[string]any{
			"source_id": report.SourceID,
			"delivered": delivered,
			"error":     err.Error(),
		})
	}
}

func credentials(src domain.Source) indexnow.Credentials {
	return indexnow.Credentials{
		Host:         src.Host,
		Key:          src.APIKey,
		SearchEngine: src.SearchEngine,
	}
}

// markersByURL indexes entries by URL, first occurrence wins.
func markersByURL(entries []domain.URLEntry) map[string]*string {
	out := make(map[string]*string, len(entries))
	for _, entry := range entries {
		if _, ok := out[entry.URL]; ok {
			continue
		}
		out[entry.URL] = entry.LastModified
	}
	return out
}

func failed(report sinks.Report, err error) sinks.Report {
	report.Outcome = sinks.OutcomeFailed
	report.Error = err.Error()
	return report
}
