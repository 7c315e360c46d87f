// Package store persists sources, listings, and the geocode cache. Listings
// go through an idempotent upsert keyed by (source_id, external_id), safe
// under concurrent writers from different source workers.
package store

import (
	"context"
	"time"

	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/pkg/geocode"
)

// metricsTimeout bounds the isolated validation-metrics transaction. The
// write runs on its own deadline, detached from the extraction pipeline's
// context, so a slow metrics write can never stall a run.
const metricsTimeout = 5 * time.Second

// Store is the persistence contract the pipeline depends on. It also
// satisfies geocode.Cache.
type Store interface {
	// Sources
	CreateSource(ctx context.Context, name, baseURL string) (*model.Source, error)
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)

	// ListDueSources returns sources ordered by staleness: never-run first,
	// then oldest last run. limit <= 0 means all.
	ListDueSources(ctx context.Context, limit int) ([]model.Source, error)

	// SaveScrapeConfig stores a freshly discovered config and marks the
	// source completed.
	SaveScrapeConfig(ctx context.Context, sourceID string, cfg *model.ScrapeConfig) error
	UpdateDiscoveryStatus(ctx context.Context, sourceID string, status model.DiscoveryStatus) error
	TouchSourceRun(ctx context.Context, sourceID string, at time.Time) error

	// UpsertListings writes reconciled records idempotently and returns how
	// many rows were written.
	UpsertListings(ctx context.Context, records []model.ReconciledRecord) (int, error)

	// RecordExtractionOutcome updates a source's validation metrics in a
	// short transaction with its own timeout. Success resets the failure
	// streak and increments both counters; failure increments the streak
	// and the total only. Implementations must detach from ctx's deadline.
	RecordExtractionOutcome(ctx context.Context, sourceID string, success bool) error

	// Geocode cache (geocode.Cache)
	GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error)
	PutGeocode(ctx context.Context, key string, result *geocode.Result) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
