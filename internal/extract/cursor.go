package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/model"
)

var errNoBrowser = errors.New("no headless browser configured")

// maxCursorPages is a hard safety bound on cursor pagination; a well-behaved
// API ends by omitting the cursor long before this.
const maxCursorPages = 500

// paginateCursor follows an API-style next-cursor field until it is absent.
// A repeating cursor is treated as stuck pagination rather than looping
// forever.
func (e *Engine) paginateCursor(ctx context.Context, source *model.Source, cfg *model.ScrapeConfig, filterURL string, seen map[string]bool) ([]model.RawRecord, error) {
	var records []model.RawRecord

	pageURL := filterURL
	lastCursor := ""

	for page := 1; page <= maxCursorPages; page++ {
		if ctx.Err() != nil {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: pageURL, Page: page, Err: ctx.Err()}
		}

		result, err := e.gateway.Fetch(ctx, pageURL, fetch.Hints{})
		if err != nil {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: pageURL, Page: page, Err: err}
		}

		items, cursor, err := parseCursorPage(result.Body, cfg.Pagination.CursorField, source.ID, e.now())
		if err != nil {
			return records, &ExtractionError{Kind: KindSelectorMismatch, URL: pageURL, Page: page, Err: err}
		}

		appendNew(&records, items, seen)

		if cursor == "" {
			return records, nil
		}
		if cursor == lastCursor {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: pageURL, Page: page,
				Err: fmt.Errorf("cursor %q repeated", cursor)}
		}
		lastCursor = cursor

		param := cfg.Pagination.Param
		if param == "" {
			param = "cursor"
		}
		pageURL, err = withQueryParam(filterURL, param, cursor)
		if err != nil {
			return records, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Page: page, Err: err}
		}
	}

	return records, &ExtractionError{Kind: KindPaginationStuck, URL: filterURL, Page: maxCursorPages,
		Err: errors.New("cursor pagination exceeded page bound")}
}

// itemArrayKeys are the response keys tried, in order, when looking for the
// listing array in a cursor API response.
var itemArrayKeys = []string{"data", "items", "results", "listings", "imoveis", "lotes"}

// parseCursorPage decodes one JSON page into raw records plus the next
// cursor (empty when absent).
func parseCursorPage(body []byte, cursorField, sourceID string, now time.Time) ([]model.RawRecord, string, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, "", err
	}

	var items []any
	cursor := ""

	switch v := root.(type) {
	case []any:
		items = v
	case map[string]any:
		cursor = stringAtPath(v, cursorField)
		for _, key := range itemArrayKeys {
			if arr, ok := v[key].([]any); ok {
				items = arr
				break
			}
		}
	default:
		return nil, "", errors.New("unexpected JSON shape")
	}

	var records []model.RawRecord
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := recordFromItem(obj, sourceID, now)
		if rec.URL == "" && rec.ExternalID == "" {
			continue
		}
		if rec.ExternalID == "" {
			rec.ExternalID = externalID(rec.URL)
		}
		records = append(records, rec)
	}
	return records, cursor, nil
}

// recordFromItem maps one API object onto a RawRecord, tolerating the usual
// Portuguese and English key spellings.
func recordFromItem(obj map[string]any, sourceID string, now time.Time) model.RawRecord {
	rec := model.RawRecord{
		SourceID:    sourceID,
		ExtractedAt: now,
	}
	rec.ExternalID = firstString(obj, "external_id", "id", "codigo")
	rec.Title = firstString(obj, "title", "titulo", "nome", "descricao")
	rec.Category = firstString(obj, "category", "categoria", "tipo", "tipo_imovel")
	rec.Address = firstString(obj, "address", "endereco", "localizacao")
	rec.City = firstString(obj, "city", "cidade")
	rec.State = firstString(obj, "state", "uf", "estado")
	rec.URL = firstString(obj, "url", "link", "permalink")
	rec.ImageURL = firstString(obj, "image_url", "imagem", "image", "foto")

	rec.EvaluationValue = firstNumber(obj, "evaluation_value", "valor_avaliacao", "avaliacao")
	rec.FirstAuctionValue = firstNumber(obj, "first_auction_value", "valor_primeira_praca", "primeira_praca")
	rec.SecondAuctionValue = firstNumber(obj, "second_auction_value", "valor_segunda_praca", "segunda_praca")
	rec.Latitude = firstNumber(obj, "latitude", "lat")
	rec.Longitude = firstNumber(obj, "longitude", "lng", "lon")
	return rec
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		}
	}
	return ""
}

func firstNumber(obj map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case float64:
			if v > 0 {
				f := v
				return &f
			}
		case string:
			if f := parseBRL(v); f != nil {
				return f
			}
		}
	}
	return nil
}

// stringAtPath walks a dot path ("meta.next_cursor") through nested maps.
func stringAtPath(obj map[string]any, path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, ".")
	current := any(obj)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[part]
	}
	switch v := current.(type) {
	case string:
		return v
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	default:
		return ""
	}
}
