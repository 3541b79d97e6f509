// Package pipeline orchestrates a harvest: maps discovery, per-business page
// extraction, merging and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/leadharvest/internal/extract"
	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/merge"
	"github.com/JakeFAU/leadharvest/internal/metrics"
	"github.com/JakeFAU/leadharvest/internal/telemetry"
	"github.com/JakeFAU/leadharvest/internal/wayback"
)

// Config controls link following and notifications.
type Config struct {
	MaxInternalLinks   int
	MaxExternalLinks   int
	LinkScoreThreshold float64
	LinkConcurrency    int
	// BlockedDomains are host patterns ("example.com", "*.example.com")
	// never followed from a homepage.
	BlockedDomains []string
	Topic          string
}

// Deps are the pipeline's collaborators. Snapshots and Publisher are optional.
type Deps struct {
	Finder     leads.BusinessFinder
	Pages      leads.PageExtractor
	Snapshots  leads.SnapshotFinder
	Businesses leads.BusinessStore
	Contacts   leads.ContactStore
	Publisher  leads.Publisher
	Engine     *merge.Engine
	Clock      leads.Clock
}

// Pipeline runs harvests.
type Pipeline struct {
	deps    Deps
	cfg     Config
	blocked *extract.Blocklist
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Businesses == nil:
		return nil, errors.New("business store is required")
	case deps.Contacts == nil:
		return nil, errors.New("contact store is required")
	case deps.Engine == nil:
		return nil, errors.New("merge engine is required")
	}
	if cfg.LinkConcurrency <= 0 {
		cfg.LinkConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:    deps,
		cfg:     cfg,
		blocked: extract.NewBlocklist(cfg.BlockedDomains),
		tracer:  telemetry.Tracer("pipeline"),
		logger:  logger.Named("pipeline"),
	}, nil
}

type pageTask struct {
	url       string
	kind      leads.SourceKind
	timestamp string
}

// Run harvests contacts for every business the maps search returns for
// query, limited to maxBusinesses when positive. Failures scoped to a single
// business are logged and counted; only discovery failures and cancellation
// abort the run.
func (p *Pipeline) Run(ctx context.Context, query string, maxBusinesses int) (result leads.HarvestResult, err error) {
	if p.deps.Finder == nil || p.deps.Pages == nil {
		return leads.HarvestResult{}, errors.New("pipeline is not configured for crawling")
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("leads.query", query),
		attribute.Int("leads.max_businesses", maxBusinesses),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("leads.businesses", result.Counters.Businesses),
			attribute.Int("leads.inserted", result.Counters.Inserted),
			attribute.Int("leads.updated", result.Counters.Updated),
		)
		endSpan(span, err)
	}()
	result = leads.HarvestResult{Query: query, Contacts: make(map[string][]leads.ContactRecord)}

	businesses, err := p.deps.Finder.FindBusinesses(ctx, query)
	if err != nil {
		return result, fmt.Errorf("find businesses for %q: %w", query, err)
	}
	if maxBusinesses > 0 && len(businesses) > maxBusinesses {
		businesses = businesses[:maxBusinesses]
	}
	result.Businesses = businesses
	result.Counters.Businesses = len(businesses)
	metrics.ObserveBusinesses(len(businesses))
	p.logger.Info("businesses discovered", zap.String("query", query), zap.Int("count", len(businesses)))

	if len(businesses) > 0 {
		if err := p.deps.Businesses.UpsertBusinesses(ctx, businesses); err != nil {
			p.logger.Error("upsert businesses failed", zap.String("query", query), zap.Error(err))
		}
	}

	for _, business := range businesses {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("harvest %q: %w", query, err)
		}
		records, counters, err := p.harvestBusiness(ctx, business)
		result.Counters.Add(counters)
		if err != nil {
			result.Counters.Failed++
			p.logger.Error("business harvest failed", zap.String("business", business.Name), zap.Error(err))
		}
		if records == nil {
			records = []leads.ContactRecord{}
		}
		result.Contacts[business.Name] = records
		p.notify(ctx, query, business, counters)
	}
	return result, ctx.Err()
}

func (p *Pipeline) harvestBusiness(
	ctx context.Context,
	business leads.Business,
) (records []leads.ContactRecord, counters leads.HarvestCounter, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.harvestBusiness", trace.WithAttributes(
		attribute.String("leads.business", business.Name),
		attribute.String("leads.website", business.Website),
	))
	defer func() {
		span.SetAttributes(attribute.Int("leads.observations", counters.Observations))
		endSpan(span, err)
	}()
	logger := p.logger.With(zap.String("business", business.Name))
	if business.Website == "" {
		logger.Debug("no website, skipping crawl")
		return nil, leads.HarvestCounter{}, nil
	}

	var observations []leads.ContactObservation
	home, err := p.deps.Pages.ExtractPage(ctx, leads.PageRequest{
		Business: business,
		URL:      business.Website,
		Kind:     leads.SourceInternal,
	})
	if err != nil {
		logger.Warn("homepage extraction failed", zap.String("url", business.Website), zap.Error(err))
	}
	observations = append(observations, home.Observations...)

	links := extract.SplitLinks(business.Website, p.blocked.Filter(home.Links),
		p.cfg.LinkScoreThreshold, p.cfg.MaxInternalLinks, p.cfg.MaxExternalLinks)
	tasks := make([]pageTask, 0, len(links.Internal)+len(links.External))
	for _, u := range links.Internal {
		tasks = append(tasks, pageTask{url: u, kind: leads.SourceInternal})
	}
	for _, u := range links.External {
		tasks = append(tasks, pageTask{url: u, kind: leads.SourceExternal})
	}
	if p.deps.Snapshots != nil {
		snapshots, err := p.deps.Snapshots.FindSnapshots(ctx, business.Website)
		if err != nil {
			logger.Warn("snapshot discovery failed", zap.Error(err))
		}
		for _, s := range snapshots {
			u := s.SnapshotURL
			if u == "" {
				u = wayback.SnapshotURL(s.Timestamp, s.OriginalURL)
			}
			tasks = append(tasks, pageTask{url: u, kind: leads.SourceWayback, timestamp: s.Timestamp})
		}
	}

	observations = append(observations, p.extractAll(ctx, business, tasks)...)
	if err := ctx.Err(); err != nil {
		return nil, leads.HarvestCounter{}, err
	}
	return p.mergeAndPersist(ctx, business.Name, observations)
}

// extractAll runs tasks with bounded concurrency. Results are returned in
// task order regardless of completion order.
func (p *Pipeline) extractAll(ctx context.Context, business leads.Business, tasks []pageTask) []leads.ContactObservation {
	slots := make([][]leads.ContactObservation, len(tasks))
	var g errgroup.Group
	g.SetLimit(p.cfg.LinkConcurrency)
	for i, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			page, err := p.deps.Pages.ExtractPage(ctx, leads.PageRequest{
				Business:          business,
				URL:               task.url,
				Kind:              task.kind,
				SnapshotTimestamp: task.timestamp,
			})
			if err != nil {
				p.logger.Warn("page extraction failed",
					zap.String("business", business.Name),
					zap.String("url", task.url),
					zap.String("kind", string(task.kind)),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = page.Observations
			return nil
		})
	}
	_ = g.Wait()

	var out []leads.ContactObservation
	for _, obs := range slots {
		out = append(out, obs...)
	}
	return out
}

func (p *Pipeline) mergeAndPersist(
	ctx context.Context,
	businessName string,
	observations []leads.ContactObservation,
) ([]leads.ContactRecord, leads.HarvestCounter, error) {
	counters := leads.HarvestCounter{Observations: len(observations)}
	byKind := make(map[leads.SourceKind]int)
	for _, obs := range observations {
		byKind[obs.SourceKind]++
	}
	for kind, n := range byKind {
		metrics.ObserveObservations(string(kind), n)
	}

	records, err := p.deps.Engine.Reduce(observations)
	if rejected := merge.Rejected(err); rejected > 0 {
		counters.Rejected = rejected
		metrics.ObserveRejected(rejected)
		var batch *merge.BatchError
		if errors.As(err, &batch) {
			for _, f := range batch.Failures {
				p.logger.Warn("observation rejected",
					zap.String("business", businessName),
					zap.Stringer("key", f.Key),
					zap.Strings("fields", f.Fields),
					zap.String("reason", f.Error()),
				)
			}
		}
	}
	if len(records) == 0 {
		return records, counters, nil
	}

	existing, err := p.deps.Contacts.ListContacts(ctx, businessName)
	if err != nil {
		return records, counters, fmt.Errorf("list contacts for %s: %w", businessName, err)
	}
	plan := p.deps.Engine.Reconcile(existing, records)
	applied := p.apply(ctx, plan)
	counters.Inserted = applied.Inserted
	counters.Updated = applied.Updated
	counters.Failed = applied.Failed
	return records, counters, nil
}

// apply writes a reconcile plan. An insert that collides with a concurrent
// writer is retried as a merge-and-update against the stored row.
func (p *Pipeline) apply(ctx context.Context, plan merge.Plan) leads.HarvestCounter {
	var counters leads.HarvestCounter
	for _, rec := range plan.Inserts {
		_, err := p.deps.Contacts.InsertContact(ctx, rec)
		switch {
		case err == nil:
			counters.Inserted++
			metrics.ObserveContactWrite("insert", "ok")
		case errors.Is(err, leads.ErrDuplicateKey):
			metrics.ObserveInsertConflict()
			updated, retryErr := p.retryAsUpdate(ctx, rec)
			if retryErr != nil {
				counters.Failed++
				metrics.ObserveContactWrite("update", "error")
				p.logger.Error("retry insert as update failed", zap.Stringer("key", rec.Key()), zap.Error(retryErr))
				continue
			}
			if updated {
				counters.Updated++
				metrics.ObserveContactWrite("update", "ok")
			}
		default:
			counters.Failed++
			metrics.ObserveContactWrite("insert", "error")
			p.logger.Error("insert contact failed", zap.Stringer("key", rec.Key()), zap.Error(err))
		}
	}
	for _, rec := range plan.Updates {
		if err := p.deps.Contacts.UpdateContact(ctx, rec); err != nil {
			counters.Failed++
			metrics.ObserveContactWrite("update", "error")
			p.logger.Error("update contact failed", zap.Stringer("key", rec.Key()), zap.Error(err))
			continue
		}
		counters.Updated++
		metrics.ObserveContactWrite("update", "ok")
	}
	return counters
}

func (p *Pipeline) retryAsUpdate(ctx context.Context, rec leads.ContactRecord) (bool, error) {
	current, err := p.deps.Contacts.GetContact(ctx, rec.Key())
	if err != nil {
		return false, fmt.Errorf("load conflicting contact: %w", err)
	}
	merged, changed := p.deps.Engine.Merge(current, rec)
	if !changed {
		return false, nil
	}
	if err := p.deps.Contacts.UpdateContact(ctx, merged); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pipeline) notify(ctx context.Context, query string, business leads.Business, counters leads.HarvestCounter) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"query":        query,
		"business":     business.Name,
		"website":      business.Website,
		"observations": counters.Observations,
		"rejected":     counters.Rejected,
		"inserted":     counters.Inserted,
		"updated":      counters.Updated,
		"failed":       counters.Failed,
		"timestamp":    p.now().Format(time.RFC3339),
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		p.logger.Warn("publish notification failed", zap.String("business", business.Name), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (p *Pipeline) now() time.Time {
	if p.deps.Clock == nil {
		return time.Now().UTC()
	}
	return p.deps.Clock.Now()
}
