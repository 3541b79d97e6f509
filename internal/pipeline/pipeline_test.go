package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/clock/system"
	"github.com/JakeFAU/leadharvest/internal/export"
	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/merge"
	"github.com/JakeFAU/leadharvest/internal/metrics"
	pubmemory "github.com/JakeFAU/leadharvest/internal/publisher/memory"
	"github.com/JakeFAU/leadharvest/internal/storage/memory"
)

type fakeFinder struct {
	businesses []leads.Business
	err        error
}

func (f *fakeFinder) FindBusinesses(context.Context, string) ([]leads.Business, error) {
	return f.businesses, f.err
}

type fakePages struct {
	mu      sync.Mutex
	pages   map[string]leads.PageResult
	errs    map[string]error
	delays  map[string]time.Duration
	visited []string
}

func (f *fakePages) ExtractPage(ctx context.Context, req leads.PageRequest) (leads.PageResult, error) {
	f.mu.Lock()
	f.visited = append(f.visited, req.URL)
	delay := f.delays[req.URL]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return leads.PageResult{}, ctx.Err()
		}
	}
	if err := f.errs[req.URL]; err != nil {
		return leads.PageResult{}, err
	}
	page := f.pages[req.URL]
	out := leads.PageResult{Links: page.Links}
	for _, obs := range page.Observations {
		obs.BusinessName = req.Business.Name
		obs.SourceURL = req.URL
		obs.SourceKind = req.Kind
		obs.SnapshotTimestamp = req.SnapshotTimestamp
		out.Observations = append(out.Observations, obs)
	}
	return out, nil
}

func (f *fakePages) seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.visited {
		if v == url {
			return true
		}
	}
	return false
}

type fakeSnapshots struct {
	snapshots []leads.Snapshot
	err       error
}

func (f *fakeSnapshots) FindSnapshots(context.Context, string) ([]leads.Snapshot, error) {
	return f.snapshots, f.err
}

type harness struct {
	pipeline   *Pipeline
	contacts   *memory.ContactStore
	businesses *memory.BusinessStore
	publisher  *pubmemory.Publisher
	pages      *fakePages
}

func newHarness(t *testing.T, finder leads.BusinessFinder, pages *fakePages, snapshots leads.SnapshotFinder) *harness {
	t.Helper()
	metrics.Init()
	clock := system.Fixed{At: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		contacts:   memory.NewContactStore(clock),
		businesses: memory.NewBusinessStore(),
		publisher:  pubmemory.New(),
		pages:      pages,
	}
	deps := Deps{
		Finder:     finder,
		Pages:      pages,
		Businesses: h.businesses,
		Contacts:   h.contacts,
		Publisher:  h.publisher,
		Engine:     merge.New(merge.Policy{}),
		Clock:      clock,
	}
	if snapshots != nil {
		deps.Snapshots = snapshots
	}
	p, err := New(deps, Config{
		MaxInternalLinks:   2,
		MaxExternalLinks:   1,
		LinkScoreThreshold: 1,
		LinkConcurrency:    3,
		Topic:              "harvests",
	}, zap.NewNop())
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func acmeSite() *fakePages {
	return &fakePages{
		pages: map[string]leads.PageResult{
			"https://acme.example": {
				Observations: []leads.ContactObservation{
					{PersonName: "Jane Doe", Position: "Partner", Emails: []string{"jane@acme.example"}},
				},
				Links: []leads.ScoredLink{
					{URL: "https://acme.example/team", Score: 2},
					{URL: "https://www.linkedin.com/in/janedoe", Score: 1},
					{URL: "https://acme.example/blog", Score: 0},
				},
			},
			"https://acme.example/team": {
				Observations: []leads.ContactObservation{
					{PersonName: "Jane Doe", Position: "Partner", Emails: []string{"JANE@acme.example", "j.doe@acme.example"},
						Location: "Austin"},
				},
			},
			"https://www.linkedin.com/in/janedoe": {
				Observations: []leads.ContactObservation{
					{PersonName: "Jane Doe", SocialLinks: []string{"https://www.linkedin.com/in/janedoe"}},
				},
			},
			"https://web.archive.org/web/20190101000000/https://acme.example": {
				Observations: []leads.ContactObservation{{PersonName: "Jane Doe", Emails: []string{"jane@old-acme.example"}}},
			},
			"https://web.archive.org/web/20210101000000/https://acme.example": {
				Observations: []leads.ContactObservation{{PersonName: "Jane Doe", Emails: []string{"jane@acme.example"}}},
			},
		},
	}
}

func acmeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{snapshots: []leads.Snapshot{
		{OriginalURL: "https://acme.example", Timestamp: "20190101000000",
			SnapshotURL: "https://web.archive.org/web/20190101000000/https://acme.example"},
		{OriginalURL: "https://acme.example", Timestamp: "20210101000000"},
	}}
}

func TestRunHarvestsMergesAndPersists(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{
		{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example", MapsURL: "https://maps/acme"},
		{Name: "No Site Co", Query: "lawyers"},
	}}
	h := newHarness(t, finder, acmeSite(), acmeSnapshots())

	result, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.Len(t, result.Businesses, 2)
	require.Len(t, h.businesses.List(), 2)
	require.False(t, h.pages.seen("https://acme.example/blog"))

	acme := result.Contacts["Acme Law"]
	require.Len(t, acme, 4)
	internal := acme[0]
	require.Equal(t, leads.SourceInternal, internal.SourceKind)
	require.Equal(t, []string{"jane@acme.example", "j.doe@acme.example"}, internal.Emails)
	require.Equal(t, "Austin", internal.Location)
	require.Equal(t, "https://acme.example", internal.SourceURL)
	require.Equal(t, leads.SourceExternal, acme[1].SourceKind)
	require.Equal(t, "20190101000000", acme[2].SnapshotTimestamp)
	require.Equal(t, "20210101000000", acme[3].SnapshotTimestamp)

	require.NotNil(t, result.Contacts["No Site Co"])
	require.Empty(t, result.Contacts["No Site Co"])

	require.Equal(t, 2, result.Counters.Businesses)
	require.Equal(t, 5, result.Counters.Observations)
	require.Equal(t, 4, result.Counters.Inserted)
	require.Zero(t, result.Counters.Updated)

	stored, err := h.contacts.ListContacts(context.Background(), "Acme Law")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	require.Len(t, h.publisher.Messages(), 2)
	require.Equal(t, "harvests", h.publisher.Messages()[0].Topic)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"}}}
	h := newHarness(t, finder, acmeSite(), acmeSnapshots())

	_, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	again, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.Zero(t, again.Counters.Inserted)
	require.Zero(t, again.Counters.Updated)
}

func TestRunUpdatesWhenNewDetailsAppear(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"}}}
	pages := acmeSite()
	h := newHarness(t, finder, pages, nil)

	_, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)

	pages.mu.Lock()
	team := pages.pages["https://acme.example/team"]
	team.Observations[0].PhoneNumbers = []string{"+1 (512) 555-0100"}
	pages.pages["https://acme.example/team"] = team
	pages.mu.Unlock()

	second, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.Equal(t, 1, second.Counters.Updated)
	require.Zero(t, second.Counters.Inserted)

	rec, err := h.contacts.GetContact(context.Background(), leads.IdentityKey{
		BusinessName: "Acme Law", PersonName: "Jane Doe", Position: "Partner", SourceKind: leads.SourceInternal,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"jane@acme.example", "j.doe@acme.example"}, rec.Emails)
	require.Equal(t, []string{"+1 (512) 555-0100"}, rec.PhoneNumbers)
}

func TestRunSurvivesPageAndSnapshotFailures(t *testing.T) {
	t.Parallel()

	pages := acmeSite()
	pages.errs = map[string]error{"https://acme.example/team": errors.New("timeout")}
	finder := &fakeFinder{businesses: []leads.Business{
		{Name: "Broken", Query: "lawyers", Website: "https://broken.example"},
		{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"},
	}}
	pages.errs["https://broken.example"] = errors.New("dns failure")
	h := newHarness(t, finder, pages, &fakeSnapshots{err: errors.New("cdx down")})

	result, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.Empty(t, result.Contacts["Broken"])
	acme := result.Contacts["Acme Law"]
	require.Len(t, acme, 2)
	require.Equal(t, []string{"jane@acme.example"}, acme[0].Emails)
}

func TestRunTruncatesBusinessesAndCountsRejections(t *testing.T) {
	t.Parallel()

	pages := &fakePages{pages: map[string]leads.PageResult{
		"https://a.example": {Observations: []leads.ContactObservation{
			{PersonName: "Ann", Emails: []string{"ann@a.example"}},
			{PersonName: "  ", Emails: []string{"ghost@a.example"}},
		}},
	}}
	finder := &fakeFinder{businesses: []leads.Business{
		{Name: "A", Query: "q", Website: "https://a.example"},
		{Name: "B", Query: "q", Website: "https://b.example"},
	}}
	h := newHarness(t, finder, pages, nil)

	result, err := h.pipeline.Run(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, result.Businesses, 1)
	require.Equal(t, 1, result.Counters.Rejected)
	require.Equal(t, 1, result.Counters.Inserted)
	require.False(t, pages.seen("https://b.example"))
}

func TestRunPreservesTaskOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	pages := &fakePages{
		pages: map[string]leads.PageResult{
			"https://acme.example": {
				Links: []leads.ScoredLink{
					{URL: "https://acme.example/contact", Score: 3},
					{URL: "https://acme.example/team", Score: 2},
				},
			},
			"https://acme.example/contact": {Observations: []leads.ContactObservation{{PersonName: "Jane", Location: "Dallas"}}},
			"https://acme.example/team":    {Observations: []leads.ContactObservation{{PersonName: "Jane", Location: "Austin"}}},
		},
		delays: map[string]time.Duration{"https://acme.example/contact": 50 * time.Millisecond},
	}
	finder := &fakeFinder{businesses: []leads.Business{{Name: "Acme", Query: "q", Website: "https://acme.example"}}}
	h := newHarness(t, finder, pages, nil)

	result, err := h.pipeline.Run(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, result.Contacts["Acme"], 1)
	require.Equal(t, "Austin", result.Contacts["Acme"][0].Location)
	require.Equal(t, "https://acme.example/contact", result.Contacts["Acme"][0].SourceURL)
}

func TestRunAbortsWhenDiscoveryFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFinder{err: errors.New("maps blocked")}, &fakePages{}, nil)
	_, err := h.pipeline.Run(context.Background(), "q", 0)
	require.ErrorContains(t, err, "maps blocked")
}

func TestRunIgnoresPublishFailures(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"}}}
	h := newHarness(t, finder, acmeSite(), nil)
	h.publisher.FailWith(errors.New("pubsub unavailable"))

	result, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.Equal(t, 2, result.Counters.Inserted)
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"}}}
	h := newHarness(t, finder, acmeSite(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.Run(ctx, "lawyers", 0)
	require.ErrorIs(t, err, context.Canceled)
}

// racingStore simulates another writer inserting the same identity key
// between reconcile and insert.
type racingStore struct {
	*memory.ContactStore
	once sync.Once
}

func (s *racingStore) InsertContact(ctx context.Context, rec leads.ContactRecord) (leads.ContactRecord, error) {
	var raced bool
	s.once.Do(func() {
		other := rec.Clone()
		other.Emails = []string{"jane@other-run.example"}
		other.Location = "Houston"
		_, _ = s.ContactStore.InsertContact(ctx, other)
		raced = true
	})
	if raced {
		return leads.ContactRecord{}, leads.ErrDuplicateKey
	}
	return s.ContactStore.InsertContact(ctx, rec)
}

func TestApplyRetriesDuplicateInsertAsUpdate(t *testing.T) {
	t.Parallel()
	metrics.Init()

	store := &racingStore{ContactStore: memory.NewContactStore(nil)}
	p, err := New(Deps{
		Businesses: memory.NewBusinessStore(),
		Contacts:   store,
		Engine:     merge.New(merge.Policy{}),
	}, Config{}, nil)
	require.NoError(t, err)

	rec := leads.ContactRecord{
		BusinessName: "Acme",
		PersonName:   "Jane",
		Emails:       []string{"jane@acme.example"},
		SourceURL:    "https://acme.example",
		SourceKind:   leads.SourceInternal,
	}
	counters := p.apply(context.Background(), merge.Plan{Inserts: []leads.ContactRecord{rec}})
	require.Equal(t, 1, counters.Updated)
	require.Zero(t, counters.Failed)

	got, err := store.GetContact(context.Background(), rec.Key())
	require.NoError(t, err)
	require.Equal(t, []string{"jane@other-run.example", "jane@acme.example"}, got.Emails)
	require.Equal(t, "Houston", got.Location)
}

func TestNewRequiresStores(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)

	p, err := New(Deps{
		Businesses: memory.NewBusinessStore(),
		Contacts:   memory.NewContactStore(nil),
		Engine:     merge.New(merge.Policy{}),
	}, Config{}, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), "q", 0)
	require.ErrorContains(t, err, "not configured")
}

func TestImportBackfillsThroughMerge(t *testing.T) {
	t.Parallel()
	metrics.Init()

	contacts := memory.NewContactStore(nil)
	businesses := memory.NewBusinessStore()
	p, err := New(Deps{Businesses: businesses, Contacts: contacts, Engine: merge.New(merge.Policy{})}, Config{}, nil)
	require.NoError(t, err)

	input := `{
  "Acme Law": [
    {"person_name": "Jane Doe", "emails": ["jane@acme.example"], "source_url": "https://acme.example", "source_type": "internal"},
    {"person_name": "Jane Doe", "emails": ["JANE@acme.example", "jd@acme.example"], "source_url": "https://acme.example/team", "source_type": "internal"},
    {"person_name": "Jane Doe", "source_url": "https://x.example", "source_type": "directory"},
    {"person_name": "", "source_url": "https://acme.example"}
  ],
  "Corner Cafe": []
}`
	backfill, err := export.Read(strings.NewReader(input), nil)
	require.NoError(t, err)

	counters, err := p.Import(context.Background(), backfill, "lawyers in austin")
	require.NoError(t, err)
	require.Equal(t, 2, counters.Businesses)
	require.Equal(t, 1, counters.Inserted)
	require.Equal(t, 1, counters.Rejected)

	stored, err := contacts.ListContacts(context.Background(), "Acme Law")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, []string{"jane@acme.example", "jd@acme.example"}, stored[0].Emails)
	require.Equal(t, "https://acme.example", stored[0].SourceURL)

	list := businesses.List()
	require.Len(t, list, 2)
	require.Equal(t, "lawyers in austin", list[0].Query)

	again, err := p.Import(context.Background(), backfill, "lawyers in austin")
	require.NoError(t, err)
	require.Zero(t, again.Inserted)
	require.Zero(t, again.Updated)
}

type countingContacts struct {
	*memory.ContactStore
	mu      sync.Mutex
	inserts int
}

func (c *countingContacts) InsertContact(ctx context.Context, rec leads.ContactRecord) (leads.ContactRecord, error) {
	c.mu.Lock()
	c.inserts++
	c.mu.Unlock()
	return c.ContactStore.InsertContact(ctx, rec)
}

func TestImportMatchesPaddedBusinessNames(t *testing.T) {
	t.Parallel()
	metrics.Init()

	contacts := &countingContacts{ContactStore: memory.NewContactStore(nil)}
	p, err := New(Deps{
		Businesses: memory.NewBusinessStore(),
		Contacts:   contacts,
		Engine:     merge.New(merge.Policy{}),
	}, Config{}, nil)
	require.NoError(t, err)

	input := `{
  " Acme Law ": [
    {"person_name": "Jane Doe", "emails": ["jane@acme.example"], "source_url": "https://acme.example"}
  ]
}`
	backfill, err := export.Read(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Acme Law"}, backfill.Businesses)

	_, err = p.Import(context.Background(), backfill, "lawyers")
	require.NoError(t, err)
	again, err := p.Import(context.Background(), backfill, "lawyers")
	require.NoError(t, err)
	require.Zero(t, again.Inserted)
	require.Zero(t, again.Failed)
	// the second import finds the stored row and never attempts an insert
	require.Equal(t, 1, contacts.inserts)
}

func TestRunSkipsBlockedDomains(t *testing.T) {
	t.Parallel()

	finder := &fakeFinder{businesses: []leads.Business{
		{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"},
	}}
	pages := acmeSite()
	h := newHarness(t, finder, pages, nil)
	cfg := h.pipeline.cfg
	cfg.BlockedDomains = []string{"*.linkedin.com"}
	p, err := New(h.pipeline.deps, cfg, zap.NewNop())
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)
	require.True(t, pages.seen("https://acme.example/team"))
	require.False(t, pages.seen("https://www.linkedin.com/in/janedoe"))
	for _, rec := range result.Contacts["Acme Law"] {
		require.Empty(t, rec.SocialLinks)
	}
}

func TestRunRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	finder := &fakeFinder{businesses: []leads.Business{
		{Name: "Acme Law", Query: "lawyers", Website: "https://acme.example"},
	}}
	h := newHarness(t, finder, acmeSite(), nil)
	_, err := h.pipeline.Run(context.Background(), "lawyers", 0)
	require.NoError(t, err)

	failing := newHarness(t, &fakeFinder{err: errors.New("maps down")}, acmeSite(), nil)
	_, err = failing.pipeline.Run(context.Background(), "lawyers", 0)
	require.Error(t, err)

	var runs, businesses int
	var failed bool
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "pipeline.Run":
			runs++
			if span.Status().Code == codes.Error {
				failed = true
			}
		case "pipeline.harvestBusiness":
			businesses++
			require.True(t, span.Parent().SpanID().IsValid())
		}
	}
	require.Equal(t, 2, runs)
	require.Equal(t, 1, businesses)
	require.True(t, failed)
}
