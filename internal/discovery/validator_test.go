package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leilaodata/harvester/internal/model"
)

func healthySource(now time.Time) *model.Source {
	expires := now.Add(20 * 24 * time.Hour)
	return &model.Source{
		ID:              "src-1",
		Name:            "Leiloeira Exemplo",
		BaseURL:         "https://leiloeira.example",
		DiscoveryStatus: model.DiscoveryCompleted,
		ScrapeConfig: &model.ScrapeConfig{
			Version:      1,
			DiscoveredAt: now.Add(-10 * 24 * time.Hour),
			ExpiresAt:    expires,
			FallbackURL:  "https://leiloeira.example/imoveis",
			Pagination:   model.Pagination{Type: model.PaginationNone},
			Selectors: model.Selectors{
				ListingContainer: "div.card",
				Link:             "a[href]",
			},
			Validation: model.ValidationMetrics{StructureHash: "abc123"},
		},
		Metrics: model.ValidationMetrics{
			StructureHash:         "abc123",
			TotalExtractions:      10,
			SuccessfulExtractions: 9,
		},
	}
}

func TestNeedsRediscoveryHealthySource(t *testing.T) {
	now := time.Now()
	src := healthySource(now)

	needed, reason := NeedsRediscovery(src, "abc123", now)
	assert.False(t, needed)
	assert.Equal(t, ReasonNone, reason)
}

func TestNeedsRediscoveryNoConfig(t *testing.T) {
	now := time.Now()
	src := &model.Source{DiscoveryStatus: model.DiscoveryPending}

	needed, reason := NeedsRediscovery(src, "", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonNoConfig, reason)
}

func TestNeedsRediscoveryHashDriftAlwaysWins(t *testing.T) {
	now := time.Now()
	src := healthySource(now)

	// Perfect metrics, fresh config. A changed hash still forces it.
	needed, reason := NeedsRediscovery(src, "different-hash", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonStructureDrift, reason)
}

func TestNeedsRediscoveryMissingProbeNeverDrifts(t *testing.T) {
	now := time.Now()
	src := healthySource(now)

	needed, _ := NeedsRediscovery(src, "", now)
	assert.False(t, needed)
}

func TestNeedsRediscoveryExpired(t *testing.T) {
	now := time.Now()
	src := healthySource(now)
	src.ScrapeConfig.ExpiresAt = now.Add(-time.Hour)

	needed, reason := NeedsRediscovery(src, "abc123", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonExpired, reason)
}

func TestNeedsRediscoveryFailureStreak(t *testing.T) {
	now := time.Now()
	src := healthySource(now)
	src.Metrics.ConsecutiveFailures = 3

	needed, reason := NeedsRediscovery(src, "abc123", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonFailureStreak, reason)
}

func TestNeedsRediscoveryLowSuccessRate(t *testing.T) {
	now := time.Now()
	src := healthySource(now)
	src.Metrics.TotalExtractions = 10
	src.Metrics.SuccessfulExtractions = 4

	needed, reason := NeedsRediscovery(src, "abc123", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonLowSuccessRate, reason)
}

func TestNeedsRediscoverySmallSampleIgnoresRate(t *testing.T) {
	now := time.Now()
	src := healthySource(now)
	src.Metrics.TotalExtractions = 2
	src.Metrics.SuccessfulExtractions = 0

	// Two failures are a streak of data, not a rate judgment yet.
	needed, _ := NeedsRediscovery(src, "abc123", now)
	assert.False(t, needed)
}

func TestNeedsRediscoveryFlagged(t *testing.T) {
	now := time.Now()
	src := healthySource(now)
	src.DiscoveryStatus = model.DiscoveryNeedsRediscovery

	needed, reason := NeedsRediscovery(src, "abc123", now)
	assert.True(t, needed)
	assert.Equal(t, ReasonFlagged, reason)
}
