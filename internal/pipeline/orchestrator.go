// Package pipeline orchestrates a harvest run: rediscovery checks, structure
// discovery, extraction, reconciliation, geocoding, and persistence, fanned
// out over a bounded worker pool. A run always produces a summary; one
// source's failure never takes down the others.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leilaodata/harvester/internal/discovery"
	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/internal/reconcile"
	"github.com/leilaodata/harvester/internal/resilience"
	"github.com/leilaodata/harvester/internal/store"
	"github.com/leilaodata/harvester/pkg/geocode"
)

// Discoverer produces a fresh scrape config for a source.
type Discoverer interface {
	Discover(ctx context.Context, source *model.Source) (*model.ScrapeConfig, error)
}

// Extractor walks a source's listing pages and returns raw records. Partial
// results may accompany a non-nil error.
type Extractor interface {
	Extract(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig) ([]model.RawRecord, error)
}

// PageFetcher probes a source's entry page for drift detection.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, hints fetch.Hints) (*fetch.Result, error)
}

// Options tunes one run.
type Options struct {
	// Limit caps how many due sources are processed. <= 0 means all.
	Limit int

	// SkipGeocoding disables the external geocoding stage.
	SkipGeocoding bool
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	store      store.Store
	fetcher    PageFetcher
	discoverer Discoverer
	extractor  Extractor
	geocoder   geocode.Client

	concurrency   int
	sourceTimeout time.Duration
	now           func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGeocoder enables the geocoding stage. Without one the stage is skipped.
func WithGeocoder(c geocode.Client) Option {
	return func(o *Orchestrator) { o.geocoder = c }
}

// WithConcurrency bounds the source worker pool.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithSourceTimeout bounds each source's end-to-end processing.
func WithSourceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sourceTimeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator builds an Orchestrator with defaults: 4 workers, 15 minute
// per-source timeout.
func NewOrchestrator(st store.Store, fetcher PageFetcher, disc Discoverer, ext Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         st,
		fetcher:       fetcher,
		discoverer:    disc,
		extractor:     ext,
		concurrency:   4,
		sourceTimeout: 15 * time.Minute,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes all due sources and returns the aggregate summary. The only
// full-run failure is an unreachable store; everything downstream is
// isolated per source.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	if err := o.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "store unavailable")
	}

	sources, err := o.store.ListDueSources(ctx, opts.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "listing due sources")
	}

	summary := &model.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", summary.RunID))
	log.Info("run starting",
		zap.Int("sources", len(sources)),
		zap.Int("concurrency", o.concurrency))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	// One deduper for the whole run: the same property listed by two
	// auctioneers shares a dedup key, so flagging must see every source.
	deduper := reconcile.NewDeduper()

	for i := range sources {
		src := sources[i]
		g.Go(func() error {
			res := o.processSource(gctx, &src, opts, deduper)
			mu.Lock()
			summary.Add(res)
			mu.Unlock()
			// Per-source failures are recorded, never propagated: returning
			// an error here would cancel the sibling workers.
			return nil
		})
	}
	g.Wait()

	summary.FinishedAt = o.now().UTC()
	log.Info("run finished",
		zap.Int("sources_processed", summary.SourcesProcessed),
		zap.Int("records_extracted", summary.RecordsExtracted),
		zap.Int("records_persisted", summary.RecordsPersisted),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

func (o *Orchestrator) processSource(ctx context.Context, src *model.Source, opts Options, deduper *reconcile.Deduper) model.SourceResult {
	started := o.now()
	res := model.SourceResult{SourceID: src.ID, SourceName: src.Name}
	log := zap.L().With(zap.String("source", src.Name), zap.String("source_id", src.ID))

	ctx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
	defer cancel()

	defer func() {
		res.DurationMS = o.now().Sub(started).Milliseconds()
		// Detached so the timestamp still lands when the source timed out.
		tctx, tcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer tcancel()
		if err := o.store.TouchSourceRun(tctx, src.ID, o.now()); err != nil {
			log.Warn("failed to record run timestamp", zap.Error(err))
		}
	}()

	cfg, rediscovered, err := o.ensureConfig(ctx, src, log)
	if err != nil {
		log.Error("discovery failed", zap.Error(err))
		res.Status = model.SourceStatusError
		res.Error = err.Error()
		return res
	}
	res.Rediscovered = rediscovered

	records, extractErr := o.extractor.Extract(ctx, src, cfg)
	res.RecordsExtracted = len(records)
	o.recordOutcome(ctx, src.ID, extractErr == nil, log)

	if extractErr != nil && len(records) == 0 {
		log.Error("extraction failed", zap.Error(extractErr))
		res.Status = model.SourceStatusError
		res.Error = extractErr.Error()
		return res
	}
	if extractErr != nil {
		log.Warn("extraction returned partial results",
			zap.Int("records", len(records)), zap.Error(extractErr))
	}

	reconciled := make([]model.ReconciledRecord, 0, len(records))
	for _, raw := range records {
		rec := reconcile.Reconcile(raw)
		deduper.Mark(&rec)
		if rec.IsDuplicate {
			res.Duplicates++
		}
		reconciled = append(reconciled, rec)
	}

	if o.geocoder != nil && !opts.SkipGeocoding {
		res.Geocoded = o.geocodeRecords(ctx, reconciled, log)
	}

	persisted, persistErr := resilience.DoVal(ctx, persistRetry(), func(ctx context.Context) (int, error) {
		return o.store.UpsertListings(ctx, reconciled)
	})
	res.RecordsPersisted = persisted
	if persistErr != nil {
		log.Error("persisting listings failed", zap.Error(persistErr))
		res.Status = model.SourceStatusError
		res.Error = persistErr.Error()
		return res
	}

	if extractErr != nil {
		res.Status = model.SourceStatusPartial
		res.Error = extractErr.Error()
	} else {
		res.Status = model.SourceStatusSuccess
	}
	log.Info("source processed",
		zap.String("status", string(res.Status)),
		zap.Int("extracted", res.RecordsExtracted),
		zap.Int("persisted", res.RecordsPersisted),
		zap.Int("duplicates", res.Duplicates))
	return res
}

// ensureConfig returns a usable scrape config, running discovery when the
// source has none, the config expired, the page structure drifted, or the
// validation metrics flag it.
func (o *Orchestrator) ensureConfig(ctx context.Context, src *model.Source, log *zap.Logger) (*model.ScrapeConfig, bool, error) {
	currentHash := ""
	if src.HasUsableConfig(o.now()) {
		// Probe the entry page once to compare skeletons. An unreachable
		// probe leaves the hash empty, which never triggers drift on its own.
		hints := fetch.Hints{}
		if src.ScrapeConfig != nil {
			hints.RequiresJS = src.ScrapeConfig.RequiresJS
		}
		if page, err := o.fetcher.Fetch(ctx, src.BaseURL, hints); err == nil {
			currentHash = discovery.StructureHash(page.Body)
		} else {
			log.Warn("drift probe failed, keeping existing config", zap.Error(err))
		}
	}

	needed, reason := discovery.NeedsRediscovery(src, currentHash, o.now())
	if !needed {
		return src.ScrapeConfig, false, nil
	}
	log.Info("rediscovery required", zap.String("reason", string(reason)))

	if err := o.store.UpdateDiscoveryStatus(ctx, src.ID, model.DiscoveryNeedsRediscovery); err != nil {
		log.Warn("failed to mark source for rediscovery", zap.Error(err))
	}

	cfg, err := o.discoverer.Discover(ctx, src)
	if err != nil {
		if serr := o.store.UpdateDiscoveryStatus(ctx, src.ID, model.DiscoveryFailed); serr != nil {
			log.Warn("failed to mark discovery failed", zap.Error(serr))
		}
		// A still-valid config survives a failed rediscovery attempt.
		if src.HasUsableConfig(o.now()) && reason != discovery.ReasonStructureDrift {
			log.Warn("rediscovery failed, falling back to existing config", zap.Error(err))
			return src.ScrapeConfig, false, nil
		}
		return nil, false, err
	}

	if err := o.store.SaveScrapeConfig(ctx, src.ID, cfg); err != nil {
		return nil, false, eris.Wrap(err, "saving scrape config")
	}
	src.ScrapeConfig = cfg
	src.DiscoveryStatus = model.DiscoveryCompleted
	src.StructureHash = cfg.Validation.StructureHash
	return cfg, true, nil
}

func (o *Orchestrator) geocodeRecords(ctx context.Context, records []model.ReconciledRecord, log *zap.Logger) int {
	geocoded := 0
	for i := range records {
		rec := &records[i]
		if !rec.GeocodeEligible() {
			continue
		}
		result, err := resilience.DoVal(ctx, geocodeRetry(), func(ctx context.Context) (*geocode.Result, error) {
			return o.geocoder.Geocode(ctx, rec.CleanAddress)
		})
		if err != nil {
			// Geocoding is enrichment. Never fail the source over it.
			log.Warn("geocoding failed", zap.String("address", rec.CleanAddress), zap.Error(err))
			continue
		}
		if result == nil || !result.Matched {
			continue
		}
		lat, lon := result.Latitude, result.Longitude
		rec.Latitude = &lat
		rec.Longitude = &lon
		geocoded++
	}
	return geocoded
}

// recordOutcome updates validation metrics. The write is best effort and
// never interrupts the source's run.
func (o *Orchestrator) recordOutcome(ctx context.Context, sourceID string, success bool, log *zap.Logger) {
	if err := o.store.RecordExtractionOutcome(ctx, sourceID, success); err != nil {
		log.Warn("failed to record extraction outcome", zap.Error(err))
	}
}

func persistRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.OnRetry = resilience.RetryLogger("store", "upsert_listings")
	return cfg
}

func geocodeRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = time.Second
	return cfg
}
