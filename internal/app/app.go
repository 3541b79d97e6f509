// Package app builds the long-lived services a command needs from Config and
// owns their shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/cache"
	"github.com/JakeFAU/leadharvest/internal/clock/system"
	"github.com/JakeFAU/leadharvest/internal/config"
	"github.com/JakeFAU/leadharvest/internal/extract"
	collyfetcher "github.com/JakeFAU/leadharvest/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/leadharvest/internal/fetcher/headless"
	"github.com/JakeFAU/leadharvest/internal/headless/detector"
	"github.com/JakeFAU/leadharvest/internal/leads"
	"github.com/JakeFAU/leadharvest/internal/llm"
	"github.com/JakeFAU/leadharvest/internal/maps"
	"github.com/JakeFAU/leadharvest/internal/merge"
	"github.com/JakeFAU/leadharvest/internal/metrics"
	"github.com/JakeFAU/leadharvest/internal/pipeline"
	"github.com/JakeFAU/leadharvest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/leadharvest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/leadharvest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/leadharvest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/leadharvest/internal/storage/local"
	memorystorage "github.com/JakeFAU/leadharvest/internal/storage/memory"
	pgstore "github.com/JakeFAU/leadharvest/internal/storage/postgres"
	"github.com/JakeFAU/leadharvest/internal/telemetry"
	"github.com/JakeFAU/leadharvest/internal/wayback"
)

// Options selects which parts of the graph a command needs.
type Options struct {
	// Crawl wires the maps finder, page extractor and snapshot finder.
	// It needs OpenAI credentials.
	Crawl bool
	// RequireDB fails instead of falling back to in-memory stores.
	RequireDB bool
}

// App holds the services shared by the commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  leads.Clock

	// Pipeline runs and imports harvests.
	Pipeline *pipeline.Pipeline
	// Blobs receives JSON exports. Nil when no export target is configured.
	Blobs leads.BlobStore
	// Publisher sends harvest notifications.
	Publisher leads.Publisher

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New builds an App. On error everything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	if err := a.setupTracing(ctx); err != nil {
		return nil, err
	}
	businesses, contacts, err := a.setupStores(ctx, opts.RequireDB)
	if err != nil {
		return nil, err
	}
	if a.Publisher, err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if a.Blobs, err = a.setupBlobs(ctx); err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Businesses: businesses,
		Contacts:   contacts,
		Publisher:  a.Publisher,
		Engine: merge.New(merge.Policy{
			Phone: merge.PhonePolicy{
				CallingCode:    cfg.Merge.PhoneCallingCode,
				NationalLength: cfg.Merge.PhoneNationalLength,
			},
			StableOrder: cfg.Merge.StableOrder,
		}),
		Clock: a.clock,
	}
	if opts.Crawl {
		if err := a.setupCrawl(&deps); err != nil {
			return nil, err
		}
	}

	a.Pipeline, err = pipeline.New(deps, pipeline.Config{
		MaxInternalLinks:   cfg.Crawl.MaxInternalLinks,
		MaxExternalLinks:   cfg.Crawl.MaxExternalLinks,
		LinkScoreThreshold: cfg.Crawl.LinkScoreThreshold,
		LinkConcurrency:    cfg.Crawl.LinkConcurrency,
		BlockedDomains:     cfg.Crawl.BlockedDomains,
		Topic:              cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	built = true
	return a, nil
}

// Clock returns the App's clock.
func (a *App) Clock() leads.Clock {
	return a.clock
}

// Close releases every opened service in reverse order.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupTracing(ctx context.Context) error {
	shutdown, err := telemetry.InitTracing(ctx, telemetry.Config{
		Enabled:     a.cfg.Telemetry.TracingEnabled,
		ServiceName: a.cfg.Telemetry.ServiceName,
		ProjectID:   a.cfg.Telemetry.GCPProjectID,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.onClose("tracing", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

func (a *App) setupStores(ctx context.Context, requireDB bool) (leads.BusinessStore, leads.ContactStore, error) {
	if a.cfg.DB.DSN == "" {
		if requireDB {
			return nil, nil, a.cfg.RequireDB()
		}
		a.logger.Warn("no database configured, contacts are kept in memory for this process only")
		return memorystorage.NewBusinessStore(), memorystorage.NewContactStore(a.clock), nil
	}
	store, err := pgstore.NewStore(ctx, pgstore.Config{
		DSN:           a.cfg.DB.DSN,
		BusinessTable: a.cfg.DB.BusinessTable,
		ContactTable:  a.cfg.DB.ContactTable,
		MaxConns:      a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.onClose("postgres", func() error {
		store.Close()
		return nil
	})
	a.logger.Info("postgres store initialized",
		zap.String("business_table", a.cfg.DB.BusinessTable),
		zap.String("contact_table", a.cfg.DB.ContactTable),
	)
	return store, store, nil
}

func (a *App) setupPublisher(ctx context.Context) (leads.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, a.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupBlobs(ctx context.Context) (leads.BlobStore, error) {
	switch {
	case a.cfg.Export.GCSBucket != "":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Export.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", store.Close)
		a.logger.Info("exporting to GCS", zap.String("bucket", a.cfg.Export.GCSBucket))
		return store, nil
	case a.cfg.Export.LocalDir != "":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("exporting to local directory", zap.String("path", a.cfg.Export.LocalDir))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) setupCrawl(deps *pipeline.Deps) error {
	if err := a.cfg.RequireOpenAI(); err != nil {
		return err
	}
	cfg := a.cfg
	model, err := llm.New(llm.Config{
		APIKey:        cfg.OpenAI.APIKey,
		BaseURL:       cfg.OpenAI.BaseURL,
		Model:         cfg.OpenAI.Model,
		Temperature:   cfg.OpenAI.Temperature,
		MaxTokens:     cfg.OpenAI.MaxTokens,
		Timeout:       cfg.OpenAITimeout(),
		MaxInputChars: cfg.OpenAI.MaxInputChars,
		MaxAttempts:   cfg.OpenAI.MaxAttempts,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("llm client init failed: %w", err)
	}

	var static leads.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		RespectRobots: cfg.Crawl.RespectRobots,
		Timeout:       cfg.CrawlTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawl.RateLimitRPS,
			DefaultBurst: cfg.Crawl.RateLimitBurst,
		}),
		Logger: a.logger,
	})
	if cfg.Crawl.UseCache {
		static = cache.New(static, time.Duration(cfg.Crawl.CacheTTLSeconds)*time.Second, a.logger)
	}
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Crawl.UserAgent),
		zap.Bool("cache", cfg.Crawl.UseCache),
	)

	mapsRenderer := a.renderer(headlessfetcher.Config{
		MaxParallel:       cfg.Maps.MaxParallel,
		UserAgent:         cfg.Crawl.UserAgent,
		NavigationTimeout: time.Duration(cfg.Maps.NavTimeoutSeconds) * time.Second,
		WaitSelector:      cfg.Maps.WaitSelector,
		WaitTimeout:       time.Duration(cfg.Maps.WaitTimeoutSeconds) * time.Second,
		ScrollPasses:      cfg.Maps.ScrollPasses,
		Logger:            a.logger,
	})
	deps.Finder = maps.New(maps.Config{
		SearchURL:     cfg.Maps.SearchURL,
		FragmentLimit: cfg.Maps.FragmentLimit,
	}, mapsRenderer, model, a.logger)

	pages := static
	if cfg.Crawl.HeadlessFallback {
		pageRenderer := a.renderer(headlessfetcher.Config{
			MaxParallel:       cfg.Crawl.LinkConcurrency,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: cfg.CrawlTimeout(),
			Logger:            a.logger,
		})
		pages = detector.NewFetcher(static, pageRenderer, detector.NewHeuristic(cfg.Crawl.HeadlessBodyThreshold), a.logger)
		a.logger.Info("headless fallback enabled", zap.Int("body_threshold", cfg.Crawl.HeadlessBodyThreshold))
	}
	deps.Pages = extract.New(pages, model, a.logger)

	if cfg.Wayback.Enabled && cfg.Wayback.SnapshotLimit > 0 {
		deps.Snapshots = wayback.New(wayback.Config{
			CDXURL:    cfg.Wayback.CDXURL,
			Limit:     cfg.Wayback.SnapshotLimit,
			YearsBack: cfg.Wayback.YearsBack,
		}, static, a.clock, a.logger)
	}
	return nil
}

// renderer starts a chromedp allocator, or a Noop fetcher when that fails.
func (a *App) renderer(cfg headlessfetcher.Config) leads.Fetcher {
	f, err := headlessfetcher.NewChromedp(cfg)
	if err != nil {
		a.logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
		return headlessfetcher.NewNoop()
	}
	a.onClose("headless", func() error {
		f.Close()
		return nil
	})
	return f
}
