package discovery

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Analysis is the heuristic pass over a source's entry page. It narrows the
// search space before the single inference call and doubles as the input to
// the deterministic fallback discoverer.
type Analysis struct {
	Containers       []ContainerCandidate
	FilterLinks      []FilterLink
	PageParam        string
	LoadMoreSelector string
	RequiresJS       bool
}

// ContainerCandidate is a repeated card-like structure that may hold
// listings.
type ContainerCandidate struct {
	Selector string
	Count    int
	HasLink  bool
	HasPrice bool
}

// FilterLink is a category/filter link found on the page.
type FilterLink struct {
	Name string
	URL  string
}

var (
	priceTokenRe = regexp.MustCompile(`R\$\s?[\d.,]+`)

	// filterPathRe matches hrefs that look like property category listings.
	filterPathRe = regexp.MustCompile(`(?i)(imove|imóve|apartamento|casa|terreno|comercial|rural|galpao|galpão|leil[aã]o|lote|busca|categoria)`)

	pageParamNames = []string{"pagina", "page", "pag", "p"}

	loadMoreTextRe = regexp.MustCompile(`(?i)(carregar mais|ver mais|mostrar mais|load more|mais im[oó]veis)`)
)

// Analyze runs the heuristic pass over an entry page.
func Analyze(baseURL string, body []byte) (*Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)

	a := &Analysis{
		Containers:  candidateContainers(doc),
		FilterLinks: filterLinks(doc, base),
		RequiresJS:  looksJSRendered(doc, body),
	}
	a.PageParam = detectPageParam(doc)
	a.LoadMoreSelector = detectLoadMore(doc)
	return a, nil
}

// candidateContainers groups elements by tag+class signature and keeps the
// repeated ones that contain a link, ordered by how listing-like they are.
func candidateContainers(doc *goquery.Document) []ContainerCandidate {
	type group struct {
		count    int
		hasLink  bool
		hasPrice bool
	}
	groups := make(map[string]*group)

	doc.Find("div, li, article, section").Each(func(_ int, sel *goquery.Selection) {
		class, ok := sel.Attr("class")
		if !ok || strings.TrimSpace(class) == "" {
			return
		}
		classes := strings.Fields(class)
		sort.Strings(classes)
		key := goquery.NodeName(sel) + "." + strings.Join(classes, ".")

		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.count++
		if !g.hasLink && sel.Find("a[href]").Length() > 0 {
			g.hasLink = true
		}
		if !g.hasPrice && priceTokenRe.MatchString(sel.Text()) {
			g.hasPrice = true
		}
	})

	var out []ContainerCandidate
	for key, g := range groups {
		if g.count < 3 || !g.hasLink {
			continue
		}
		out = append(out, ContainerCandidate{
			Selector: key,
			Count:    g.count,
			HasLink:  g.hasLink,
			HasPrice: g.hasPrice,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HasPrice != out[j].HasPrice {
			return out[i].HasPrice
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		// Selector tiebreak keeps the ranking stable across runs.
		return out[i].Selector < out[j].Selector
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func filterLinks(doc *goquery.Document, base *url.URL) []FilterLink {
	seen := make(map[string]bool)
	var links []FilterLink

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		name := strings.TrimSpace(sel.Text())
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		if !filterPathRe.MatchString(href) && !filterPathRe.MatchString(name) {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		if name == "" {
			name = abs
		}
		links = append(links, FilterLink{Name: name, URL: abs})
	})

	if len(links) > 20 {
		links = links[:20]
	}
	return links
}

func detectPageParam(doc *goquery.Document) string {
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		q := u.Query()
		for _, name := range pageParamNames {
			if q.Has(name) {
				found = name
				return false
			}
		}
		return true
	})
	return found
}

func detectLoadMore(doc *goquery.Document) string {
	selector := ""
	doc.Find("button, a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !loadMoreTextRe.MatchString(sel.Text()) {
			return true
		}
		if id, ok := sel.Attr("id"); ok && id != "" {
			selector = "#" + id
			return false
		}
		if class, ok := sel.Attr("class"); ok && class != "" {
			first := strings.Fields(class)[0]
			selector = goquery.NodeName(sel) + "." + first
			return false
		}
		return true
	})
	return selector
}

// looksJSRendered flags pages whose visible markup is tiny relative to their
// script payload, the signature of a client-side rendered site.
func looksJSRendered(doc *goquery.Document, body []byte) bool {
	text := strings.TrimSpace(doc.Find("body").Text())
	if len(text) > 500 {
		return false
	}
	return bytes.Count(body, []byte("<script")) >= 5 || len(text) < 100
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}
