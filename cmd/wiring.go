package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leilaodata/harvester/internal/discovery"
	"github.com/leilaodata/harvester/internal/extract"
	"github.com/leilaodata/harvester/internal/fetch"
	"github.com/leilaodata/harvester/internal/store"
	"github.com/leilaodata/harvester/pkg/claude"
	"github.com/leilaodata/harvester/pkg/firecrawl"
	"github.com/leilaodata/harvester/pkg/headless"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.Store.Path)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// harvester bundles the fetch ladder, discovery service, and extraction
// engine behind a single close handle.
type harvester struct {
	gateway   *fetch.Gateway
	discovery *discovery.Service
	engine    *extract.Engine
	session   *headless.Session
}

func (h *harvester) Close() {
	if h.session != nil {
		h.session.Close()
	}
}

func buildHarvester() *harvester {
	gwCfg := fetch.DefaultGatewayConfig()
	gwCfg.DirectTimeout = time.Duration(cfg.Fetch.DirectTimeoutSecs) * time.Second
	gwCfg.GatewayTimeout = time.Duration(cfg.Fetch.GatewayTimeoutSecs) * time.Second
	gwCfg.HeadlessTimeout = time.Duration(cfg.Fetch.HeadlessTimeoutSecs) * time.Second
	gwCfg.HostBaseDelay = time.Duration(cfg.Fetch.HostDelaySecs) * time.Second
	gwCfg.HostMaxDelay = time.Duration(cfg.Fetch.HostMaxDelaySecs) * time.Second
	gwCfg.BackoffFactor = cfg.Fetch.BackoffFactor

	fetchers := []fetch.Fetcher{fetch.NewDirectFetcher(gwCfg.DirectTimeout)}
	if cfg.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		fetchers = append(fetchers, fetch.NewRenderFetcher(fc, cfg.Firecrawl.WaitMS))
	}

	var session *headless.Session
	if cfg.Headless.Enabled {
		opts := headless.DefaultOptions()
		opts.ExecPath = cfg.Headless.ExecPath
		session = headless.NewSession(opts)
		fetchers = append(fetchers, fetch.NewHeadlessFetcher(session))
	}

	gateway := fetch.NewGateway(gwCfg, fetchers...)

	var discoverer discovery.Discoverer = discovery.HeuristicDiscoverer{}
	if cfg.Anthropic.Key != "" {
		discoverer = discovery.NewClaudeDiscoverer(
			claude.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	}
	svc := discovery.NewService(gateway, discoverer,
		discovery.WithExpiryHorizon(time.Duration(cfg.Discovery.ExpiryDays)*24*time.Hour),
		discovery.WithMaxFilterProbes(cfg.Discovery.MaxFilterProbes))

	var browser extract.Browser
	if session != nil {
		browser = extract.NewHeadlessBrowser(session)
	}
	engine := extract.NewEngine(gateway, browser)

	return &harvester{
		gateway:   gateway,
		discovery: svc,
		engine:    engine,
		session:   session,
	}
}
