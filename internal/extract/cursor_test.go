package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leilaodata/harvester/internal/model"
)

func cursorConfig() *model.ScrapeConfig {
	cfg := queryParamConfig()
	cfg.Filters = []model.PropertyFilter{
		{Name: "API", URL: "https://api.x.example/lotes", Validated: true},
	}
	cfg.Pagination = model.Pagination{Type: model.PaginationCursor, CursorField: "next_cursor"}
	return cfg
}

func TestCursorPaginationFollowsUntilAbsent(t *testing.T) {
	gw := &pagedGateway{pages: map[string]string{
		"https://api.x.example/lotes": `{
			"data": [{"id": "1", "url": "https://x.example/lote/1", "titulo": "Casa", "valor_avaliacao": 450000}],
			"next_cursor": "abc"
		}`,
		"https://api.x.example/lotes?cursor=abc": `{
			"data": [{"id": "2", "url": "https://x.example/lote/2", "titulo": "Terreno"}]
		}`,
	}}
	engine := NewEngine(gw, nil)

	records, err := engine.Extract(context.Background(), testSource(), cursorConfig())
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ExternalID)
	require.NotNil(t, records[0].EvaluationValue)
	assert.InDelta(t, 450000, *records[0].EvaluationValue, 0.001)
	assert.Equal(t, "Terreno", records[1].Title)
}

func TestCursorRepeatedCursorIsStuck(t *testing.T) {
	gw := &pagedGateway{pages: map[string]string{
		"https://api.x.example/lotes": `{
			"data": [{"id": "1", "url": "https://x.example/lote/1"}],
			"next_cursor": "loop"
		}`,
		"https://api.x.example/lotes?cursor=loop": `{
			"data": [{"id": "2", "url": "https://x.example/lote/2"}],
			"next_cursor": "loop"
		}`,
	}}
	engine := NewEngine(gw, nil)

	records, err := engine.Extract(context.Background(), testSource(), cursorConfig())
	require.Error(t, err)
	// Records fetched before the loop was detected are kept.
	assert.Len(t, records, 2)

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, KindPaginationStuck, xerr.Kind)
}

func TestCursorNonJSONIsSelectorMismatch(t *testing.T) {
	gw := &pagedGateway{pages: map[string]string{
		"https://api.x.example/lotes": `<html>not json</html>`,
	}}
	engine := NewEngine(gw, nil)

	_, err := engine.Extract(context.Background(), testSource(), cursorConfig())
	require.Error(t, err)

	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, KindSelectorMismatch, xerr.Kind)
}

func TestParseCursorPagePortugueseKeys(t *testing.T) {
	body := []byte(`{
		"imoveis": [{
			"codigo": "8841",
			"link": "https://x.example/imovel/8841",
			"tipo": "Apartamento",
			"endereco": "Avenida Paulista, 900",
			"cidade": "São Paulo",
			"uf": "SP",
			"valor_primeira_praca": "R$ 820.000,00"
		}],
		"meta": {"proximo": "x1"}
	}`)

	records, cursor, err := parseCursorPage(body, "meta.proximo", "src-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "x1", cursor)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "8841", rec.ExternalID)
	assert.Equal(t, "Apartamento", rec.Category)
	assert.Equal(t, "São Paulo", rec.City)
	assert.Equal(t, "SP", rec.State)
	require.NotNil(t, rec.FirstAuctionValue)
	assert.InDelta(t, 820000, *rec.FirstAuctionValue, 0.001)
}
