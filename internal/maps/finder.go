// Package maps discovers businesses from a Google Maps search.
package maps

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/llm"
)

const (
	initStateMarker      = "APP_INITIALIZATION_STATE="
	defaultSearchURL     = "https://www.google.com/maps/search/"
	defaultFragmentLimit = 60000
)

// BusinessExtractor is the LLM collaborator.
type BusinessExtractor interface {
	ExtractBusinesses(ctx context.Context, req llm.BusinessRequest) ([]leads.Business, error)
}

// Config controls the finder.
type Config struct {
	SearchURL     string
	FragmentLimit int
}

// Finder implements leads.BusinessFinder by rendering the maps results page
// and handing the embedded payload to the model.
type Finder struct {
	cfg       Config
	renderer  leads.Fetcher
	extractor BusinessExtractor
	logger    *zap.Logger
}

// New builds a Finder. renderer should execute JavaScript.
func New(cfg Config, renderer leads.Fetcher, extractor BusinessExtractor, logger *zap.Logger) *Finder {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.FragmentLimit <= 0 {
		cfg.FragmentLimit = defaultFragmentLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{cfg: cfg, renderer: renderer, extractor: extractor, logger: logger.Named("maps")}
}

// FindBusinesses runs the search for query. Every returned business carries
// the query it was found by.
func (f *Finder) FindBusinesses(ctx context.Context, query string) ([]leads.Business, error) {
	searchURL := SearchURL(f.cfg.SearchURL, query)
	resp, err := f.renderer.Fetch(ctx, leads.FetchRequest{URL: searchURL})
	if err != nil {
		return nil, fmt.Errorf("render maps search: %w", err)
	}

	fragment := PayloadFragment(string(resp.Body), f.cfg.FragmentLimit)
	if fragment == "" {
		f.logger.Warn("maps search returned an empty page", zap.String("query", query))
		return nil, nil
	}

	businesses, err := f.extractor.ExtractBusinesses(ctx, llm.BusinessRequest{Query: query, Fragment: fragment})
	if err != nil {
		return nil, fmt.Errorf("extract businesses: %w", err)
	}
	for i := range businesses {
		businesses[i].Query = query
	}
	f.logger.Info("maps search complete",
		zap.String("query", query),
		zap.Int("businesses", len(businesses)),
	)
	return businesses, nil
}

// SearchURL builds the maps search URL for query.
func SearchURL(base, query string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.QueryEscape(query)
}

// PayloadFragment returns the part of the page around the embedded
// initialization state, capped at limit bytes. Pages without the marker fall
// back to their leading slice.
func PayloadFragment(html string, limit int) string {
	if html == "" {
		return ""
	}
	start := strings.Index(html, initStateMarker)
	if start == -1 {
		return truncate(html, limit)
	}
	end := start + limit
	if rel := strings.Index(html[start:], "</script>"); rel != -1 {
		end = start + rel
	}
	if end > len(html) {
		end = len(html)
	}
	return truncate(html[start:end], limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
