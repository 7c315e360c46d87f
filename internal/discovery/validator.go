package discovery

import (
	"time"

	"github.com/leilaodata/harvester/internal/model"
)

// Rediscovery trigger thresholds.
const (
	// maxConsecutiveFailures forces rediscovery after this many extraction
	// runs fail in a row.
	maxConsecutiveFailures = 3

	// minSuccessRate is the floor on the trailing extraction success rate.
	minSuccessRate = 0.5

	// minSampleSize is how many extractions the rate is judged over; below
	// this the rate says nothing.
	minSampleSize = 4
)

// RediscoveryReason names which trigger fired, for logging and the run
// summary.
type RediscoveryReason string

const (
	ReasonNone           RediscoveryReason = ""
	ReasonNoConfig       RediscoveryReason = "no_config"
	ReasonStructureDrift RediscoveryReason = "structure_drift"
	ReasonExpired        RediscoveryReason = "config_expired"
	ReasonFailureStreak  RediscoveryReason = "failure_streak"
	ReasonLowSuccessRate RediscoveryReason = "low_success_rate"
	ReasonFlagged        RediscoveryReason = "flagged"
)

// NeedsRediscovery decides whether a source's config must be regenerated.
// currentHash is the freshly computed structure hash of the source's entry
// page; pass "" when no fresh page is available and hash drift cannot be
// judged. Pure function: no I/O, no clock.
func NeedsRediscovery(source *model.Source, currentHash string, now time.Time) (bool, RediscoveryReason) {
	if source.ScrapeConfig == nil || source.DiscoveryStatus == model.DiscoveryPending {
		return true, ReasonNoConfig
	}
	if source.DiscoveryStatus == model.DiscoveryNeedsRediscovery {
		return true, ReasonFlagged
	}

	// Hash drift wins independently of every other condition: a changed
	// layout invalidates the selectors no matter how healthy the metrics are.
	if currentHash != "" && source.Metrics.StructureHash != "" && currentHash != source.Metrics.StructureHash {
		return true, ReasonStructureDrift
	}

	if source.ScrapeConfig.Expired(now) {
		return true, ReasonExpired
	}
	if source.Metrics.ConsecutiveFailures >= maxConsecutiveFailures {
		return true, ReasonFailureStreak
	}
	if source.Metrics.TotalExtractions >= minSampleSize && source.Metrics.SuccessRate() < minSuccessRate {
		return true, ReasonLowSuccessRate
	}

	return false, ReasonNone
}
