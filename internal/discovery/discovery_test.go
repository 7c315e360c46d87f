package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
)

// fakeGateway serves canned pages by URL.
type fakeGateway struct {
	pages map[string]string
	calls []string
}

func (f *fakeGateway) Fetch(_ context.Context, url string, _ fetch.Hints) (*fetch.Result, error) {
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, &fetch.FetchError{Kind: fetch.KindDNSFailure, URL: url}
	}
	return &fetch.Result{Body: []byte(body), StatusCode: 200, FinalURL: url}, nil
}

func TestDiscoverGeneratesConfig(t *testing.T) {
	gw := &fakeGateway{pages: map[string]string{
		"https://leiloeira.example/": listingPageHTML,
		"https://leiloeira.example/imoveis/apartamentos?pagina=1": listingPageHTML,
		"https://leiloeira.example/imoveis/casas?pagina=1":        listingPageHTML,
		"https://leiloeira.example/imoveis/terrenos?pagina=1":     `<html><body><h1>Em breve</h1></body></html>`,
	}}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(gw, HeuristicDiscoverer{}, WithClock(func() time.Time { return now }))

	src := &model.Source{Name: "Leiloeira", BaseURL: "https://leiloeira.example/"}
	cfg, err := svc.Discover(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, now, cfg.DiscoveredAt)
	assert.Equal(t, now.Add(30*24*time.Hour), cfg.ExpiresAt)
	assert.Equal(t, model.PaginationQueryParam, cfg.Pagination.Type)
	assert.Equal(t, "div.card.imovel", cfg.Selectors.ListingContainer)
	assert.NotEmpty(t, cfg.Validation.StructureHash)
	require.NoError(t, cfg.Validate())

	// The two filter pages carrying listings validate; the empty one stays.
	byURL := map[string]bool{}
	for _, f := range cfg.Filters {
		byURL[f.URL] = f.Validated
	}
	assert.True(t, byURL["https://leiloeira.example/imoveis/apartamentos?pagina=1"])
	assert.False(t, byURL["https://leiloeira.example/imoveis/terrenos?pagina=1"])
}

func TestDiscoverVersionIncrements(t *testing.T) {
	gw := &fakeGateway{pages: map[string]string{
		"https://leiloeira.example/": listingPageHTML,
		"https://leiloeira.example/imoveis/apartamentos?pagina=1": listingPageHTML,
		"https://leiloeira.example/imoveis/casas?pagina=1":        listingPageHTML,
		"https://leiloeira.example/imoveis/terrenos?pagina=1":     listingPageHTML,
	}}
	svc := NewService(gw, HeuristicDiscoverer{})

	src := &model.Source{
		Name:         "Leiloeira",
		BaseURL:      "https://leiloeira.example/",
		ScrapeConfig: &model.ScrapeConfig{Version: 3},
	}
	cfg, err := svc.Discover(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Version)
}

func TestDiscoverUnreachable(t *testing.T) {
	gw := &fakeGateway{pages: map[string]string{}}
	svc := NewService(gw, HeuristicDiscoverer{})

	src := &model.Source{Name: "Down", BaseURL: "https://down.example/"}
	_, err := svc.Discover(context.Background(), src)
	require.Error(t, err)

	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindUnreachable, derr.Kind)
}

func TestDiscoverNoListingFound(t *testing.T) {
	gw := &fakeGateway{pages: map[string]string{
		"https://blog.example/": `<html><body><article><p>Um texto qualquer sobre nada.</p></article></body></html>`,
	}}
	svc := NewService(gw, HeuristicDiscoverer{})

	src := &model.Source{Name: "Blog", BaseURL: "https://blog.example/"}
	_, err := svc.Discover(context.Background(), src)
	require.Error(t, err)

	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindNoListingFound, derr.Kind)
}

func TestDiscoverProbeBudget(t *testing.T) {
	gw := &fakeGateway{pages: map[string]string{
		"https://leiloeira.example/": listingPageHTML,
	}}
	svc := NewService(gw, HeuristicDiscoverer{}, WithMaxFilterProbes(1))

	src := &model.Source{Name: "Leiloeira", BaseURL: "https://leiloeira.example/"}
	cfg, err := svc.Discover(context.Background(), src)
	require.NoError(t, err)

	// Entry page plus exactly one probe.
	assert.Len(t, gw.calls, 2)
	// Unprobed filters are kept, unvalidated.
	assert.GreaterOrEqual(t, len(cfg.Filters), 2)
	for _, f := range cfg.Filters[1:] {
		assert.False(t, f.Validated)
	}
}
