package model

import "time"

// RawRecord is one listing as extracted from a source page, before any
// normalization. Numeric fields are pointers: absence means unknown and is
// never coerced to zero.
type RawRecord struct {
	SourceID   string `json:"source_id"`
	ExternalID string `json:"external_id"`

	Title    string `json:"title"`
	Category string `json:"category"` // free text at ingestion

	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`

	EvaluationValue    *float64 `json:"evaluation_value,omitempty"`
	FirstAuctionValue  *float64 `json:"first_auction_value,omitempty"`
	SecondAuctionValue *float64 `json:"second_auction_value,omitempty"`
	DiscountPct        *float64 `json:"discount_pct,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`

	ExtractedAt time.Time `json:"extracted_at"`
}

// ReconciledRecord is a RawRecord after the quality gate: category mapped
// onto the closed taxonomy, address cleaned, dedup key computed, validation
// outcomes encoded as flags. Duplicates are flagged, never dropped.
type ReconciledRecord struct {
	RawRecord

	NormalizedCategory string `json:"normalized_category"`
	CleanAddress       string `json:"clean_address"`
	DedupKey           string `json:"dedup_key"`

	IsDuplicate           bool `json:"is_duplicate"`
	InvalidValueHierarchy bool `json:"invalid_value_hierarchy"`
	InvalidAddress        bool `json:"invalid_address"`
}

// GeocodeEligible reports whether the record's address may be sent to the
// geocoding provider. Invalid addresses never trigger an external call, and
// records that already carry coordinates are skipped.
func (r *ReconciledRecord) GeocodeEligible() bool {
	if r.InvalidAddress || r.CleanAddress == "" {
		return false
	}
	return r.Latitude == nil || r.Longitude == nil
}
