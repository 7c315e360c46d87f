package extract

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leilaodata/harvester/internal/model"
)

func TestParseBRL(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"R$ 1.234.567,89", 1234567.89},
		{"R$450.000,00", 450000},
		{"Lance inicial: R$ 82.500,50", 82500.50},
		{"1.000", 1000},
	}
	for _, c := range cases {
		got := parseBRL(c.in)
		require.NotNil(t, got, c.in)
		assert.InDelta(t, c.want, *got, 0.001, c.in)
	}
}

func TestParseBRLUnparseable(t *testing.T) {
	assert.Nil(t, parseBRL(""))
	assert.Nil(t, parseBRL("consulte o edital"))
	assert.Nil(t, parseBRL("R$ 0,00"))
}

func TestCanonicalURL(t *testing.T) {
	base, _ := url.Parse("https://leiloeira.example/imoveis?pagina=2")

	got := canonicalURL(base, "/imovel/104?utm_source=home&utm_campaign=x#fotos")
	assert.Equal(t, "https://leiloeira.example/imovel/104", got)

	got = canonicalURL(base, "detalhe/55")
	assert.Equal(t, "https://leiloeira.example/detalhe/55", got)

	assert.Empty(t, canonicalURL(base, "javascript:void(0)"))
	assert.Empty(t, canonicalURL(base, "#topo"))
	assert.Empty(t, canonicalURL(base, ""))
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "104523", externalID("https://x.example/imovel/104523"))
	assert.Equal(t, "104523", externalID("https://x.example/lote/104523/casa-em-pinheiros"))
	assert.Equal(t, "casa-centro", externalID("https://x.example/imoveis/casa-centro"))
	// No path at all falls back to a hash.
	assert.Len(t, externalID("https://x.example/"), 16)
}

func testParseConfig() *model.ScrapeConfig {
	return &model.ScrapeConfig{
		Version:     1,
		FallbackURL: "https://x.example/imoveis",
		Pagination:  model.Pagination{Type: model.PaginationNone},
		Selectors: model.Selectors{
			ListingContainer: "div.card",
			Link:             "a",
			Title:            "h2",
			Category:         ".categoria",
			Address:          ".endereco",
			EvaluationValue:  ".avaliacao",
			FirstAuction:     ".primeira-praca",
			SecondAuction:    ".segunda-praca",
			Image:            "img",
		},
	}
}

func TestParseListingPage(t *testing.T) {
	html := `<html><body>
	<div class="card">
		<a href="/imovel/101?utm_source=lista">ver</a>
		<h2>Casa em Pinheiros</h2>
		<span class="categoria">Casa</span>
		<span class="endereco">Rua dos Pinheiros, 100 - Pinheiros, São Paulo</span>
		<span class="avaliacao">R$ 450.000,00</span>
		<span class="primeira-praca">R$ 450.000,00</span>
		<span class="segunda-praca">R$ 225.000,00</span>
		<img data-src="/fotos/101.jpg"/>
	</div>
	<div class="card">
		<a href="/imovel/102">ver</a>
		<h2>Terreno sem valores</h2>
	</div>
	</body></html>`

	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	parsed, err := parseListingPage([]byte(html), testParseConfig(), "src-1", "https://x.example/imoveis", now)
	require.NoError(t, err)

	assert.Equal(t, 2, parsed.containers)
	require.Len(t, parsed.records, 2)

	first := parsed.records[0]
	assert.Equal(t, "src-1", first.SourceID)
	assert.Equal(t, "101", first.ExternalID)
	assert.Equal(t, "https://x.example/imovel/101", first.URL)
	assert.Equal(t, "Casa em Pinheiros", first.Title)
	assert.Equal(t, "Casa", first.Category)
	require.NotNil(t, first.EvaluationValue)
	assert.InDelta(t, 450000, *first.EvaluationValue, 0.001)
	require.NotNil(t, first.SecondAuctionValue)
	assert.InDelta(t, 225000, *first.SecondAuctionValue, 0.001)
	assert.Equal(t, "https://x.example/fotos/101.jpg", first.ImageURL)
	assert.Equal(t, now, first.ExtractedAt)

	// Missing values stay nil, never zero.
	second := parsed.records[1]
	assert.Nil(t, second.EvaluationValue)
	assert.Nil(t, second.FirstAuctionValue)
	assert.Nil(t, second.SecondAuctionValue)
}

func TestParseListingPageSkipsCardsWithoutLink(t *testing.T) {
	html := `<html><body>
	<div class="card"><h2>Banner promocional</h2></div>
	<div class="card"><a href="/imovel/7001">ver</a><h2>Apartamento</h2></div>
	</body></html>`

	parsed, err := parseListingPage([]byte(html), testParseConfig(), "src-1", "https://x.example/", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, parsed.containers)
	require.Len(t, parsed.records, 1)
	assert.Equal(t, "7001", parsed.records[0].ExternalID)
}
