package model

import "time"

// SourceStatus categorizes the outcome of one source's run.
type SourceStatus string

const (
	SourceStatusSuccess SourceStatus = "success"
	SourceStatusPartial SourceStatus = "partial"
	SourceStatusError   SourceStatus = "error"
)

// SourceResult is the per-source entry in a RunSummary.
type SourceResult struct {
	SourceID   string       `json:"source_id"`
	SourceName string       `json:"source_name"`
	Status     SourceStatus `json:"status"`

	RecordsExtracted int `json:"records_extracted"`
	RecordsPersisted int `json:"records_persisted"`
	Duplicates       int `json:"duplicates"`
	Geocoded         int `json:"geocoded"`

	Rediscovered bool   `json:"rediscovered,omitempty"`
	Error        string `json:"error,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// RunSummary is the aggregate result handed back to the external scheduler.
// A run always completes with a summary; per-source failures never abort it.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SourcesProcessed int `json:"sources_processed"`
	RecordsExtracted int `json:"records_extracted"`
	RecordsPersisted int `json:"records_persisted"`

	Errors  []string       `json:"errors,omitempty"`
	Results []SourceResult `json:"results"`
}

// Add folds a per-source result into the summary totals.
func (s *RunSummary) Add(r SourceResult) {
	s.SourcesProcessed++
	s.RecordsExtracted += r.RecordsExtracted
	s.RecordsPersisted += r.RecordsPersisted
	if r.Error != "" {
		s.Errors = append(s.Errors, r.SourceName+": "+r.Error)
	}
	s.Results = append(s.Results, r)
}
