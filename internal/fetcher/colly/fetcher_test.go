package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/metrics"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: false, Timeout: time.Second})
	req := leads.FetchRequest{URL: "https://example.com", Headers: http.Header{"X-Trace": {"yes"}}}

	collector, state := f.buildCollector(req, time.Unix(0, 0), &leads.FetchResponse{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.Nil(t, state)

	f = New(Config{RespectRobots: true})
	collector, state = f.buildCollector(req, time.Unix(0, 0), &leads.FetchResponse{}, new(error))
	require.False(t, collector.IgnoreRobotsTxt)
	require.NotNil(t, state)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := leads.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result leads.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)
	require.Equal(t, "a[href]", hooks.htmlSelector)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetchCollectsLinks(t *testing.T) {
	t.Parallel()
	metrics.Init()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "yes" {
			http.Error(w, "missing trace header", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
			<a href="/team">Our  Team</a>
			<a href="/team">duplicate</a>
			<a href="#top">skip</a>
			<a href="%s/contact">Contact us</a>
			<a href="https://linkedin.com/company/acme">LinkedIn</a>
		</body></html>`, server.URL)
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	f := New(Config{Timeout: 2 * time.Second, Limiter: limiter})
	resp, err := f.Fetch(context.Background(), leads.FetchRequest{
		URL:     server.URL,
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, limiter.calls)
	require.Equal(t, []leads.Link{
		{URL: server.URL + "/team", Text: "Our Team"},
		{URL: server.URL + "/contact", Text: "Contact us"},
		{URL: "https://linkedin.com/company/acme", Text: "LinkedIn"},
	}, resp.Links)
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()
	metrics.Init()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), leads.FetchRequest{URL: server.URL})
	require.Error(t, err)
}

func TestFetchStopsWhenThrottleFails(t *testing.T) {
	t.Parallel()

	f := New(Config{Limiter: &countingLimiter{err: context.Canceled}})
	_, err := f.Fetch(context.Background(), leads.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(leads.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type countingLimiter struct {
	calls int
	err   error
}

func (c *countingLimiter) Wait(context.Context, string) error {
	c.calls++
	return c.err
}

type stubHooks struct {
	onRequest    colly.RequestCallback
	onResponse   colly.ResponseCallback
	onHTML       colly.HTMLCallback
	htmlSelector string
	onError      colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.htmlSelector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
