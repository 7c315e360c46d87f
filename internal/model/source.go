// Package model defines the core types shared across the harvesting pipeline.
package model

import "time"

// DiscoveryStatus tracks where a source is in its structure-discovery lifecycle.
type DiscoveryStatus string

const (
	DiscoveryPending          DiscoveryStatus = "pending"
	DiscoveryCompleted        DiscoveryStatus = "completed"
	DiscoveryFailed           DiscoveryStatus = "failed"
	DiscoveryNeedsRediscovery DiscoveryStatus = "needs_rediscovery"
)

// ValidationMetrics tracks extraction reliability for one source. It is the
// only per-source state mutated from concurrent run workers, always through
// the store's isolated short transaction.
type ValidationMetrics struct {
	StructureHash         string `json:"structure_hash"`
	ConsecutiveFailures   int    `json:"consecutive_failures"`
	TotalExtractions      int    `json:"total_extractions"`
	SuccessfulExtractions int    `json:"successful_extractions"`
}

// SuccessRate returns the trailing extraction success rate, or 1.0 when no
// extractions have been recorded yet.
func (m ValidationMetrics) SuccessRate() float64 {
	if m.TotalExtractions == 0 {
		return 1.0
	}
	return float64(m.SuccessfulExtractions) / float64(m.TotalExtractions)
}

// Source is one monitored auctioneer website.
type Source struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	BaseURL         string          `json:"base_url"`
	DiscoveryStatus DiscoveryStatus `json:"discovery_status"`

	// ScrapeConfig is nil until discovery has completed at least once.
	ScrapeConfig *ScrapeConfig `json:"scrape_config,omitempty"`

	StructureHash   string     `json:"structure_hash,omitempty"`
	LastDiscoveryAt *time.Time `json:"last_discovery_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`

	Metrics ValidationMetrics `json:"validation_metrics"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUsableConfig reports whether the source carries a config that passed
// schema validation and has not expired. Callers still consult
// discovery.NeedsRediscovery before trusting it.
func (s *Source) HasUsableConfig(now time.Time) bool {
	if s.ScrapeConfig == nil {
		return false
	}
	if err := s.ScrapeConfig.Validate(); err != nil {
		return false
	}
	return !s.ScrapeConfig.Expired(now)
}
