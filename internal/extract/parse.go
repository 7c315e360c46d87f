package extract

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/leilaodata/harvester/internal/model"
)

// pageRecords is the result of parsing one listing page.
type pageRecords struct {
	records    []model.RawRecord
	containers int
}

// parseListingPage pulls raw records out of a page using the config's
// selectors. Selectors are plain data validated on config load; nothing
// here interprets them as anything but CSS.
func parseListingPage(body []byte, cfg *model.ScrapeConfig, sourceID, pageURL string, now time.Time) (*pageRecords, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	out := &pageRecords{}

	doc.Find(cfg.Selectors.ListingContainer).Each(func(_ int, sel *goquery.Selection) {
		out.containers++

		href, _ := sel.Find(cfg.Selectors.Link).First().Attr("href")
		link := canonicalURL(base, href)
		if link == "" {
			return
		}

		rec := model.RawRecord{
			SourceID:    sourceID,
			ExternalID:  externalID(link),
			URL:         link,
			Title:       selText(sel, cfg.Selectors.Title),
			Category:    selText(sel, cfg.Selectors.Category),
			Address:     selText(sel, cfg.Selectors.Address),
			ExtractedAt: now,
		}
		if rec.Title == "" {
			rec.Title = strings.TrimSpace(sel.Find(cfg.Selectors.Link).First().Text())
		}

		rec.EvaluationValue = parseBRL(selText(sel, cfg.Selectors.EvaluationValue))
		rec.FirstAuctionValue = parseBRL(selText(sel, cfg.Selectors.FirstAuction))
		rec.SecondAuctionValue = parseBRL(selText(sel, cfg.Selectors.SecondAuction))

		if cfg.Selectors.Image != "" {
			img := sel.Find(cfg.Selectors.Image).First()
			src, ok := img.Attr("src")
			if !ok || src == "" {
				src, _ = img.Attr("data-src") // lazy-loaded images
			}
			rec.ImageURL = canonicalURL(base, src)
		}

		out.records = append(out.records, rec)
	})

	return out, nil
}

func selText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// canonicalURL resolves href against the page URL and strips fragments and
// tracking noise so the same listing always maps to one canonical link.
func canonicalURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return ""
	}
	ref.Fragment = ""

	q := ref.Query()
	for param := range q {
		if strings.HasPrefix(param, "utm_") || param == "fbclid" || param == "gclid" {
			q.Del(param)
		}
	}
	ref.RawQuery = q.Encode()
	return ref.String()
}

var idSegmentRe = regexp.MustCompile(`\d{3,}`)

// externalID derives a stable per-source listing id from the canonical URL:
// the first long numeric run in the path if there is one, otherwise the last
// path segment, otherwise a hash of the whole URL.
func externalID(canonical string) string {
	u, err := url.Parse(canonical)
	if err == nil {
		if m := idSegmentRe.FindString(u.Path); m != "" {
			return m
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := segments[len(segments)-1]; last != "" {
			return last
		}
	}
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

var brlDigitsRe = regexp.MustCompile(`[\d.,]+`)

// parseBRL parses Brazilian currency text ("R$ 1.234.567,89") into a float.
// Returns nil for anything unparseable: absent values stay unknown, never
// zero.
func parseBRL(text string) *float64 {
	m := brlDigitsRe.FindString(text)
	if m == "" {
		return nil
	}
	// thousands "." out, decimal "," in.
	normalized := strings.ReplaceAll(m, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")

	v, err := strconv.ParseFloat(strings.Trim(normalized, "."), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}
