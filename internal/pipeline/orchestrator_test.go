package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leilaodata/harvester/internal/extract"
	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/pkg/geocode"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu       sync.Mutex
	sources  []model.Source
	listings map[string]model.ReconciledRecord
	outcomes map[string][]bool
	statuses map[string]model.DiscoveryStatus
	geocache map[string]*geocode.Result

	pingErr   error
	upsertErr error
}

func newMemStore(sources ...model.Source) *memStore {
	return &memStore{
		sources:  sources,
		listings: make(map[string]model.ReconciledRecord),
		outcomes: make(map[string][]bool),
		statuses: make(map[string]model.DiscoveryStatus),
		geocache: make(map[string]*geocode.Result),
	}
}

func (s *memStore) Ping(context.Context) error    { return s.pingErr }
func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func (s *memStore) CreateSource(_ context.Context, name, baseURL string) (*model.Source, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) GetSource(_ context.Context, id string) (*model.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sources {
		if s.sources[i].ID == id {
			src := s.sources[i]
			return &src, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memStore) ListSources(context.Context) ([]model.Source, error) {
	return s.sources, nil
}

func (s *memStore) ListDueSources(_ context.Context, limit int) ([]model.Source, error) {
	if limit > 0 && limit < len(s.sources) {
		return s.sources[:limit], nil
	}
	return s.sources, nil
}

func (s *memStore) SaveScrapeConfig(_ context.Context, sourceID string, cfg *model.ScrapeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sourceID] = model.DiscoveryCompleted
	return nil
}

func (s *memStore) UpdateDiscoveryStatus(_ context.Context, sourceID string, status model.DiscoveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sourceID] = status
	return nil
}

func (s *memStore) TouchSourceRun(context.Context, string, time.Time) error { return nil }

func (s *memStore) UpsertListings(_ context.Context, records []model.ReconciledRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	for _, r := range records {
		s.listings[r.SourceID+"/"+r.ExternalID] = r
	}
	return len(records), nil
}

func (s *memStore) RecordExtractionOutcome(_ context.Context, sourceID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[sourceID] = append(s.outcomes[sourceID], success)
	return nil
}

func (s *memStore) GetGeocode(_ context.Context, key string) (*geocode.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.geocache[key]
	return r, ok, nil
}

func (s *memStore) PutGeocode(_ context.Context, key string, result *geocode.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geocache[key] = result
	return nil
}

// fakeProbe serves an empty page for drift probes.
type fakeProbe struct{}

func (fakeProbe) Fetch(_ context.Context, url string, _ fetch.Hints) (*fetch.Result, error) {
	return &fetch.Result{Body: []byte("<html><body><div class=\"card\"></div></body></html>"), FinalURL: url}, nil
}

// fakeDiscoverer returns a minimal valid config.
type fakeDiscoverer struct {
	err   error
	calls int
}

func (d *fakeDiscoverer) Discover(_ context.Context, source *model.Source) (*model.ScrapeConfig, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &model.ScrapeConfig{
		Version:     1,
		FallbackURL: source.BaseURL,
		Pagination:  model.Pagination{Type: model.PaginationNone},
		Selectors:   model.Selectors{ListingContainer: "div.card", Link: "a"},
		ExpiresAt:   time.Now().Add(30 * 24 * time.Hour),
	}, nil
}

// fakeExtractor yields scripted records per source, with optional failures.
type fakeExtractor struct {
	perSource map[string][]model.RawRecord
	errs      map[string]error
}

func (e *fakeExtractor) Extract(_ context.Context, source *model.Source, _ *model.ScrapeConfig) ([]model.RawRecord, error) {
	return e.perSource[source.ID], e.errs[source.ID]
}

func pendingSource(i int) model.Source {
	return model.Source{
		ID:              fmt.Sprintf("src-%d", i),
		Name:            fmt.Sprintf("Leiloeira %d", i),
		BaseURL:         fmt.Sprintf("https://leiloeira%d.example/", i),
		DiscoveryStatus: model.DiscoveryPending,
	}
}

func someRecords(sourceID string, n int) []model.RawRecord {
	recs := make([]model.RawRecord, n)
	for i := range recs {
		recs[i] = model.RawRecord{
			SourceID:    sourceID,
			ExternalID:  fmt.Sprintf("%s-%d", sourceID, i),
			Title:       "Imóvel",
			Category:    "Casa",
			Address:     fmt.Sprintf("Rua das Acácias, %d, Centro, %s", 100+i, sourceID),
			URL:         fmt.Sprintf("https://x.example/%s/%d", sourceID, i),
			ExtractedAt: time.Now(),
		}
	}
	return recs
}

func TestRunIsolatesFailingSource(t *testing.T) {
	var sources []model.Source
	ext := &fakeExtractor{perSource: map[string][]model.RawRecord{}, errs: map[string]error{}}
	for i := 1; i <= 10; i++ {
		src := pendingSource(i)
		sources = append(sources, src)
		ext.perSource[src.ID] = someRecords(src.ID, 3)
	}
	// Source 4 dies mid-extraction with nothing to show.
	ext.perSource["src-4"] = nil
	ext.errs["src-4"] = &extract.ExtractionError{Kind: extract.KindPaginationStuck, URL: "https://leiloeira4.example/"}

	st := newMemStore(sources...)
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, ext, WithConcurrency(3))

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.SourcesProcessed)
	assert.Equal(t, 27, summary.RecordsExtracted)
	assert.Equal(t, 27, summary.RecordsPersisted)
	require.Len(t, summary.Results, 10)

	byID := map[string]model.SourceResult{}
	for _, r := range summary.Results {
		byID[r.SourceID] = r
	}
	assert.Equal(t, model.SourceStatusError, byID["src-4"].Status)
	assert.NotEmpty(t, byID["src-4"].Error)
	for i := 1; i <= 10; i++ {
		if i == 4 {
			continue
		}
		assert.Equal(t, model.SourceStatusSuccess, byID[fmt.Sprintf("src-%d", i)].Status)
	}

	// The failure fed the source's metrics.
	assert.Equal(t, []bool{false}, st.outcomes["src-4"])
	assert.Equal(t, []bool{true}, st.outcomes["src-1"])
}

func TestRunPartialResultsPersisted(t *testing.T) {
	src := pendingSource(1)
	ext := &fakeExtractor{
		perSource: map[string][]model.RawRecord{"src-1": someRecords("src-1", 5)},
		errs: map[string]error{"src-1": &extract.ExtractionError{
			Kind: extract.KindPaginationStuck, URL: src.BaseURL, Page: 3,
		}},
	}
	st := newMemStore(src)
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, ext)

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.Equal(t, model.SourceStatusPartial, res.Status)
	assert.Equal(t, 5, res.RecordsExtracted)
	assert.Equal(t, 5, res.RecordsPersisted)
	assert.Len(t, st.listings, 5)
	// Partial still counts as a failed extraction for the metrics.
	assert.Equal(t, []bool{false}, st.outcomes["src-1"])
}

func TestRunStoreUnavailableAborts(t *testing.T) {
	st := newMemStore(pendingSource(1))
	st.pingErr = errors.New("connection refused")
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, &fakeExtractor{})

	_, err := orch.Run(context.Background(), Options{})
	require.Error(t, err)
}

func TestRunDiscoveryFailureIsolated(t *testing.T) {
	src := pendingSource(1)
	st := newMemStore(src)
	disc := &fakeDiscoverer{err: errors.New("no listing structure detected")}
	orch := NewOrchestrator(st, fakeProbe{}, disc, &fakeExtractor{})

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, model.SourceStatusError, summary.Results[0].Status)
	assert.Equal(t, model.DiscoveryFailed, st.statuses["src-1"])
}

func TestRunPendingSourceTriggersDiscovery(t *testing.T) {
	src := pendingSource(1)
	st := newMemStore(src)
	disc := &fakeDiscoverer{}
	ext := &fakeExtractor{perSource: map[string][]model.RawRecord{"src-1": someRecords("src-1", 2)}}
	orch := NewOrchestrator(st, fakeProbe{}, disc, ext)

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	assert.Equal(t, 1, disc.calls)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Rediscovered)
	assert.Equal(t, model.DiscoveryCompleted, st.statuses["src-1"])
}

func TestRunDuplicatesFlaggedWithinRun(t *testing.T) {
	src := pendingSource(1)
	recs := someRecords("src-1", 2)
	recs[1].Address = recs[0].Address // same dedup key
	ext := &fakeExtractor{perSource: map[string][]model.RawRecord{"src-1": recs}}
	st := newMemStore(src)
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, ext)

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Duplicates)
	// Both records persisted; the duplicate carries the flag.
	assert.Len(t, st.listings, 2)
	assert.False(t, st.listings["src-1/src-1-0"].IsDuplicate)
	assert.True(t, st.listings["src-1/src-1-1"].IsDuplicate)
}

func TestRunDuplicatesFlaggedAcrossSources(t *testing.T) {
	// The same property listed by two auctioneers: identical address,
	// category, and tier, different source and external ids.
	src1, src2 := pendingSource(1), pendingSource(2)
	recs1 := someRecords("src-1", 1)
	recs2 := someRecords("src-2", 1)
	recs2[0].Address = recs1[0].Address

	ext := &fakeExtractor{perSource: map[string][]model.RawRecord{
		"src-1": recs1,
		"src-2": recs2,
	}}
	st := newMemStore(src1, src2)
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, ext, WithConcurrency(1))

	summary, err := orch.Run(context.Background(), Options{SkipGeocoding: true})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RecordsPersisted)
	require.Len(t, st.listings, 2)
	assert.False(t, st.listings["src-1/src-1-0"].IsDuplicate)
	assert.True(t, st.listings["src-2/src-2-0"].IsDuplicate)

	flagged := 0
	for _, r := range summary.Results {
		flagged += r.Duplicates
	}
	assert.Equal(t, 1, flagged)
}

// staticGeocoder resolves every address to a fixed point.
type staticGeocoder struct{ calls int }

func (g *staticGeocoder) Geocode(context.Context, string) (*geocode.Result, error) {
	g.calls++
	return &geocode.Result{Latitude: -23.55, Longitude: -46.63, Matched: true}, nil
}

func TestRunGeocodesEligibleRecords(t *testing.T) {
	src := pendingSource(1)
	recs := someRecords("src-1", 2)
	recs[1].Address = "x" // cleans to an invalid address, never geocoded
	ext := &fakeExtractor{perSource: map[string][]model.RawRecord{"src-1": recs}}
	st := newMemStore(src)
	geo := &staticGeocoder{}
	orch := NewOrchestrator(st, fakeProbe{}, &fakeDiscoverer{}, ext, WithGeocoder(geo))

	summary, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Geocoded)
	assert.Equal(t, 1, geo.calls)

	persisted := st.listings["src-1/src-1-0"]
	require.NotNil(t, persisted.Latitude)
	assert.InDelta(t, -23.55, *persisted.Latitude, 0.001)
}
