package detector

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Fetcher fetches statically first and re-fetches through a headless
// renderer when the Heuristic says the page is a client-rendered shell.
type Fetcher struct {
	static    leads.Fetcher
	renderer  leads.Fetcher
	heuristic *Heuristic
	logger    *zap.Logger
}

// NewFetcher wraps static with a headless fallback.
func NewFetcher(static, renderer leads.Fetcher, heuristic *Heuristic, logger *zap.Logger) *Fetcher {
	if heuristic == nil {
		heuristic = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{static: static, renderer: renderer, heuristic: heuristic, logger: logger.Named("detector")}
}

// Fetch implements leads.Fetcher. A failed render falls back to the static
// response.
func (f *Fetcher) Fetch(ctx context.Context, request leads.FetchRequest) (leads.FetchResponse, error) {
	resp, err := f.static.Fetch(ctx, request)
	if err != nil || f.renderer == nil || !f.heuristic.ShouldPromote(resp) {
		return resp, err
	}
	rendered, rerr := f.renderer.Fetch(ctx, request)
	if rerr != nil {
		f.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(rerr))
		return resp, nil
	}
	if len(rendered.Links) == 0 {
		rendered.Links = resp.Links
	}
	rendered.UsedHeadless = true
	f.logger.Debug("page promoted to headless", zap.String("url", request.URL))
	return rendered, nil
}
