package extract

import "fmt"

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	KindSelectorMismatch ErrorKind = "selector_mismatch"
	KindPaginationStuck  ErrorKind = "pagination_stuck"
)

// ExtractionError is raised after partial results have been handed back:
// the engine never discards records collected before the failure. It feeds
// the source's consecutive-failure counter, which in turn feeds the
// rediscovery trigger.
type ExtractionError struct {
	Kind ErrorKind
	URL  string
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %s: %s", e.URL, e.Kind)
	if e.Page > 0 {
		msg += fmt.Sprintf(" (page %d)", e.Page)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }
