// Package cache memoizes page fetches so repeated runs over the same sites
// do not refetch unchanged pages.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/metrics"
)

// Fetcher wraps another leads.Fetcher with an in-process TTL cache. Only
// successful (2xx) responses are stored.
type Fetcher struct {
	next   leads.Fetcher
	store  *gocache.Cache
	logger *zap.Logger
}

// New builds a caching fetcher. A non-positive ttl keeps entries for an hour.
func New(next leads.Fetcher, ttl time.Duration, logger *zap.Logger) *Fetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		store:  gocache.New(ttl, 2*ttl),
		logger: logger.Named("cache"),
	}
}

// Fetch returns a cached response when one exists, else delegates.
func (f *Fetcher) Fetch(ctx context.Context, request leads.FetchRequest) (leads.FetchResponse, error) {
	key := Key(request)
	if cached, ok := f.store.Get(key); ok {
		metrics.ObserveCacheLookup(true)
		f.logger.Debug("cache hit", zap.String("url", request.URL))
		return cached.(leads.FetchResponse), nil
	}
	metrics.ObserveCacheLookup(false)

	resp, err := f.next.Fetch(ctx, request)
	if err != nil {
		return leads.FetchResponse{}, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		f.store.SetDefault(key, resp)
	}
	return resp, nil
}

// Len reports the number of cached pages, expired entries included.
func (f *Fetcher) Len() int {
	return f.store.ItemCount()
}

// Key derives a stable cache key from the URL and request headers.
func Key(request leads.FetchRequest) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(request.URL)))
	writeHeaders(h, request.Headers)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHeaders(h interface{ Write([]byte) (int, error) }, headers http.Header) {
	canonical := make(map[string][]string, len(headers))
	for k, values := range headers {
		ck := http.CanonicalHeaderKey(k)
		canonical[ck] = append(canonical[ck], values...)
	}
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		for _, v := range canonical[k] {
			h.Write([]byte{1})
			h.Write([]byte(v))
		}
	}
}
