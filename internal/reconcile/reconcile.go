// Package reconcile is the quality gate: it normalizes raw records,
// validates value hierarchies, cleans addresses, and computes dedup
// fingerprints. Validation outcomes are flags on the record, never errors
// and never silent drops.
package reconcile

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/leilaodata/harvester/internal/model"
)

// Reconcile normalizes and validates one raw record. It is pure and
// idempotent: identical input yields an identical ReconciledRecord,
// including an identical dedup key. Duplicate flagging is separate (see
// Deduper) because it depends on run-scoped state.
func Reconcile(raw model.RawRecord) model.ReconciledRecord {
	rec := model.ReconciledRecord{RawRecord: raw}

	rec.NormalizedCategory = NormalizeCategory(raw.Category)

	rec.CleanAddress = CleanAddress(raw.Address)
	rec.InvalidAddress = !ValidateAddress(rec.CleanAddress)

	rec.InvalidValueHierarchy = !hierarchyValid(raw.EvaluationValue, raw.FirstAuctionValue, raw.SecondAuctionValue)

	// Out-of-range discount percentages are cleared, never clamped.
	if raw.DiscountPct != nil && (*raw.DiscountPct < 0 || *raw.DiscountPct > 100) {
		rec.DiscountPct = nil
	}

	rec.DedupKey = dedupKey(rec)
	return rec
}

// hierarchyValid checks evaluation ≥ first auction ≥ second auction across
// the values that are present. A nil value is unknown: it neither violates
// the chain nor gets defaulted, and fewer than two present values means
// there is no chain to violate.
func hierarchyValid(evaluation, first, second *float64) bool {
	if evaluation != nil && first != nil && *evaluation < *first {
		return false
	}
	if first != nil && second != nil && *first < *second {
		return false
	}
	if evaluation != nil && second != nil && *evaluation < *second {
		return false
	}
	return true
}

// priceTierBounds split values into coarse tiers (BRL). Coarse on purpose:
// the tier only has to survive small price drifts between duplicate
// postings of the same property.
var priceTierBounds = []float64{50_000, 100_000, 250_000, 500_000, 1_000_000, 2_500_000, 5_000_000}

// PriceTier buckets a record's reference value. Records with no values at
// all share tier -1.
func PriceTier(rec model.RawRecord) int {
	ref := rec.EvaluationValue
	if ref == nil {
		ref = rec.FirstAuctionValue
	}
	if ref == nil {
		ref = rec.SecondAuctionValue
	}
	if ref == nil {
		return -1
	}
	for tier, bound := range priceTierBounds {
		if *ref < bound {
			return tier
		}
	}
	return len(priceTierBounds)
}

// dedupKey fingerprints normalized address + price tier + category.
func dedupKey(rec model.ReconciledRecord) string {
	payload := fmt.Sprintf("%s|%d|%s",
		normalizeAddressKey(rec.CleanAddress),
		PriceTier(rec.RawRecord),
		rec.NormalizedCategory,
	)
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Deduper flags dedup-key collisions within one run, across all of its
// sources. The later-seen record of a pair gets is_duplicate=true; the first
// keeps false. Both are retained; duplication is an audit flag, not a
// deletion trigger. Safe for concurrent use by source workers.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewDeduper creates a Deduper for one run.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]bool)}
}

// Mark flags the record if its dedup key was already seen this run.
func (d *Deduper) Mark(rec *model.ReconciledRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[rec.DedupKey] {
		rec.IsDuplicate = true
		return
	}
	d.seen[rec.DedupKey] = true
}
