// Package collyfetcher implements leads.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/metrics"
)

// Limiter throttles requests per domain.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Limiter       Limiter
	Logger        *zap.Logger
}

// Fetcher implements leads.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("colly"),
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly and collects the page's anchors.
func (f *Fetcher) Fetch(ctx context.Context, request leads.FetchRequest) (leads.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return leads.FetchResponse{}, fmt.Errorf("colly fetch throttled: %w", err)
		}
	}

	var (
		result   leads.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector, robotsState := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		status := "error"
		if result.StatusCode > 0 {
			status = strconv.Itoa(result.StatusCode)
		}
		metrics.ObserveFetch(request.URL, status, 0)
		return leads.FetchResponse{}, err
	}
	if robotsState != nil && robotsState.indeterminate {
		f.logger.Warn("robots.txt unreachable, assumed allow-all",
			zap.String("url", request.URL),
			zap.String("reason", robotsState.reason),
		)
	}
	metrics.ObserveFetch(request.URL, strconv.Itoa(result.StatusCode), len(result.Body))
	return result, nil
}

func (f *Fetcher) buildCollector(
	request leads.FetchRequest,
	start time.Time,
	result *leads.FetchResponse,
	fetchErr *error,
) (*colly.Collector, *robotsProbeState) {
	collector := f.baseCollector.Clone()
	// clones share the visited store; every Fetch is an explicit request
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var robotsState *robotsProbeState
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if f.cfg.RespectRobots {
		robotsState = newRobotsProbeState()
		collector.WithTransport(&robotsAwareTransport{
			base:  baseTransport,
			state: robotsState,
		})
	} else {
		collector.WithTransport(baseTransport)
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector, robotsState
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request leads.FetchRequest,
	start time.Time,
	result *leads.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Headers = r.Headers.Clone()
		result.Body = append([]byte(nil), r.Body...)
		result.Duration = time.Since(start)
		result.UsedHeadless = false
	})

	// OnHTML callbacks fire after OnResponse for the same page.
	seen := make(map[string]struct{})
	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		result.Links = append(result.Links, leads.Link{
			URL:  abs,
			Text: strings.Join(strings.Fields(e.Text), " "),
		})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request leads.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
