package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/pkg/claude"
)

// Proposal is a discoverer's suggested extraction structure for a source.
// The service turns it into a ScrapeConfig after validating filters.
type Proposal struct {
	SiteType    string           `json:"site_type"`
	Filters     []ProposalFilter `json:"property_filters"`
	Pagination  model.Pagination `json:"pagination"`
	Selectors   model.Selectors  `json:"selectors"`
	FallbackURL string           `json:"fallback_url,omitempty"`
	RequiresJS  bool             `json:"requires_js"`
}

// ProposalFilter is a filter suggestion, not yet validated.
type ProposalFilter struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProposalInput is everything a discoverer gets to work with: the entry
// page and the heuristic analysis of it.
type ProposalInput struct {
	BaseURL  string
	HTML     []byte
	Analysis *Analysis
}

// Discoverer proposes an extraction structure for a source. The Claude
// implementation makes one bounded inference call; HeuristicDiscoverer is
// the deterministic fallback so everything downstream is testable without
// an external inference service.
type Discoverer interface {
	Propose(ctx context.Context, input ProposalInput) (*Proposal, error)
}

// maxPromptHTML caps how much page markup goes into the inference call.
const maxPromptHTML = 60_000

// ClaudeDiscoverer proposes structures with a single completion call.
type ClaudeDiscoverer struct {
	client claude.Client
	model  string
}

// NewClaudeDiscoverer creates a ClaudeDiscoverer using the given model.
func NewClaudeDiscoverer(client claude.Client, modelID string) *ClaudeDiscoverer {
	return &ClaudeDiscoverer{client: client, model: modelID}
}

const discoverSystem = `You analyze Brazilian property-auction websites. Given a page's HTML and heuristic hints, respond with a single JSON object describing how to extract auction listings. Respond with JSON only, no prose, matching this shape:
{"site_type": "...", "property_filters": [{"name": "...", "url": "..."}], "pagination": {"type": "query_param|load_more|cursor|none", "param": "...", "selector": "...", "cursor_field": "...", "start": 1, "max": 50, "max_clicks": 20}, "selectors": {"listing_container": "...", "link": "...", "title": "...", "address": "...", "evaluation_value": "...", "first_auction": "...", "second_auction": "...", "image": "...", "next_page": "..."}, "fallback_url": "...", "requires_js": false}`

// Propose implements Discoverer with one bounded inference call.
func (d *ClaudeDiscoverer) Propose(ctx context.Context, input ProposalInput) (*Proposal, error) {
	resp, err := d.client.Complete(ctx, claude.Request{
		Model:     d.model,
		MaxTokens: 2048,
		System:    discoverSystem,
		Prompt:    buildPrompt(input),
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: inference call")
	}
	resp.Usage.Log(d.model, "structure_discovery")

	proposal, err := parseProposal(resp.Text)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse proposal")
	}
	return proposal, nil
}

func buildPrompt(input ProposalInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Site: %s\n\n", input.BaseURL)

	if a := input.Analysis; a != nil {
		sb.WriteString("Heuristic hints:\n")
		for _, c := range a.Containers {
			fmt.Fprintf(&sb, "- repeated container %s (count=%d, price=%v)\n", c.Selector, c.Count, c.HasPrice)
		}
		for _, f := range a.FilterLinks {
			fmt.Fprintf(&sb, "- filter link %q -> %s\n", f.Name, f.URL)
		}
		if a.PageParam != "" {
			fmt.Fprintf(&sb, "- pagination query parameter: %s\n", a.PageParam)
		}
		if a.LoadMoreSelector != "" {
			fmt.Fprintf(&sb, "- load-more trigger: %s\n", a.LoadMoreSelector)
		}
		fmt.Fprintf(&sb, "- requires_js guess: %v\n", a.RequiresJS)
	}

	html := input.HTML
	if len(html) > maxPromptHTML {
		html = html[:maxPromptHTML]
	}
	sb.WriteString("\nPage HTML:\n")
	sb.Write(html)
	return sb.String()
}

// parseProposal decodes the model's JSON, tolerating a fenced code block.
func parseProposal(text string) (*Proposal, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}

	var p Proposal
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, eris.Wrap(err, "unmarshal proposal")
	}
	return &p, nil
}

// HeuristicDiscoverer builds a proposal from the analysis alone. Used when
// no inference client is configured and throughout the test suite.
type HeuristicDiscoverer struct{}

// Propose implements Discoverer deterministically.
func (HeuristicDiscoverer) Propose(_ context.Context, input ProposalInput) (*Proposal, error) {
	a := input.Analysis
	if a == nil || (len(a.Containers) == 0 && len(a.FilterLinks) == 0) {
		return nil, eris.New("discovery: no listing structure detected")
	}

	p := &Proposal{
		SiteType:   "auction_site",
		RequiresJS: a.RequiresJS,
	}

	for _, f := range a.FilterLinks {
		p.Filters = append(p.Filters, ProposalFilter{Name: f.Name, URL: f.URL})
	}
	if len(p.Filters) == 0 {
		p.FallbackURL = input.BaseURL
	}

	if len(a.Containers) > 0 {
		p.Selectors = model.Selectors{
			ListingContainer: a.Containers[0].Selector,
			Link:             "a[href]",
		}
	}

	switch {
	case a.PageParam != "":
		p.Pagination = model.Pagination{
			Type: model.PaginationQueryParam, Param: a.PageParam, Start: 1, Max: 50,
		}
	case a.LoadMoreSelector != "":
		p.Pagination = model.Pagination{
			Type: model.PaginationLoadMore, Selector: a.LoadMoreSelector, MaxClicks: 20,
		}
	default:
		p.Pagination = model.Pagination{Type: model.PaginationNone}
	}

	return p, nil
}
