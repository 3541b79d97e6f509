// Package wayback lists archived snapshots of a website through the Wayback
// Machine CDX API.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

const (
	defaultCDXURL = "https://web.archive.org/cdx/search/cdx"
	snapshotBase  = "https://web.archive.org/web/"
)

// Config controls snapshot discovery.
type Config struct {
	CDXURL    string
	Limit     int
	YearsBack int
}

// Finder implements leads.SnapshotFinder.
type Finder struct {
	cfg     Config
	fetcher leads.Fetcher
	clock   leads.Clock
	logger  *zap.Logger
}

// New builds a Finder. Requests go through fetcher so they share its rate
// limiting and cache.
func New(cfg Config, fetcher leads.Fetcher, clock leads.Clock, logger *zap.Logger) *Finder {
	if cfg.CDXURL == "" {
		cfg.CDXURL = defaultCDXURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{cfg: cfg, fetcher: fetcher, clock: clock, logger: logger.Named("wayback")}
}

// FindSnapshots returns up to Limit successful captures of siteURL taken in
// the last YearsBack years, evenly spaced and in ascending timestamp order.
func (f *Finder) FindSnapshots(ctx context.Context, siteURL string) ([]leads.Snapshot, error) {
	if f.cfg.Limit <= 0 || siteURL == "" {
		return nil, nil
	}
	resp, err := f.fetcher.Fetch(ctx, leads.FetchRequest{URL: f.queryURL(siteURL)})
	if err != nil {
		return nil, fmt.Errorf("query cdx for %s: %w", siteURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query cdx for %s: status %d", siteURL, resp.StatusCode)
	}
	snapshots, err := ParseCDX(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse cdx for %s: %w", siteURL, err)
	}
	sampled := Sample(snapshots, f.cfg.Limit)
	f.logger.Debug("snapshots found",
		zap.String("site", siteURL),
		zap.Int("captures", len(snapshots)),
		zap.Int("selected", len(sampled)),
	)
	return sampled, nil
}

func (f *Finder) queryURL(siteURL string) string {
	q := url.Values{}
	q.Set("url", siteURL)
	q.Set("output", "json")
	q.Set("fl", "timestamp,original,statuscode")
	q.Set("filter", "statuscode:200")
	// one capture per month
	q.Set("collapse", "timestamp:6")
	if f.cfg.YearsBack > 0 && f.clock != nil {
		q.Set("from", strconv.Itoa(f.clock.Now().Year()-f.cfg.YearsBack))
	}
	return f.cfg.CDXURL + "?" + q.Encode()
}

// ParseCDX decodes a CDX JSON response (header row first) into snapshots
// sorted by timestamp.
func ParseCDX(body []byte) ([]leads.Snapshot, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	tsCol, origCol := -1, -1
	for i, name := range rows[0] {
		switch name {
		case "timestamp":
			tsCol = i
		case "original":
			origCol = i
		}
	}
	if tsCol == -1 || origCol == -1 {
		return nil, fmt.Errorf("cdx header lacks timestamp/original: %v", rows[0])
	}

	out := make([]leads.Snapshot, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= tsCol || len(row) <= origCol {
			continue
		}
		out = append(out, leads.Snapshot{
			OriginalURL: row[origCol],
			SnapshotURL: SnapshotURL(row[tsCol], row[origCol]),
			Timestamp:   row[tsCol],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Sample picks up to limit snapshots spread evenly across the input,
// always including the first and last when limit > 1.
func Sample(snapshots []leads.Snapshot, limit int) []leads.Snapshot {
	n := len(snapshots)
	if limit <= 0 || n == 0 {
		return nil
	}
	if n <= limit {
		return append([]leads.Snapshot(nil), snapshots...)
	}
	if limit == 1 {
		return []leads.Snapshot{snapshots[n-1]}
	}
	out := make([]leads.Snapshot, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, snapshots[i*(n-1)/(limit-1)])
	}
	return out
}

// SnapshotURL is the canonical archive URL of a capture.
func SnapshotURL(timestamp, original string) string {
	return snapshotBase + timestamp + "/" + original
}
