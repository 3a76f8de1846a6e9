package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/browser"
	"github.com/akarpovich/riacrawler/internal/infra/collector"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

// Pipeline owns the long-lived collaborators of the crawl: the store, the
// search fetcher and the browser pool. Each Run gets fresh executors and
// counters, so throttle cooldowns and stats never leak between runs.
type Pipeline struct {
	cfg     *config.Config
	store   Store
	pages   collector.PageFetcher
	pool    *browser.Pool
	client  *http.Client
	metrics *Metrics
	log     zerolog.Logger
}

func InitPipeline(cfg *config.Config, store Store, pages collector.PageFetcher,
	pool *browser.Pool, metrics *Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		pages:   pages,
		pool:    pool,
		client:  &http.Client{Timeout: 30 * time.Second},
		metrics: metrics,
		log:     log,
	}
}

func (p *Pipeline) retryPolicy() httpx.RetryPolicy {
	return httpx.RetryPolicy{
		MaxAttempts:   p.cfg.Retry.MaxAttempts,
		BaseDelay:     p.cfg.BaseDelay(),
		MaxDelay:      p.cfg.MaxDelay(),
		ThrottleFloor: p.cfg.ThrottleFloor(),
		Cooldown:      p.cfg.Cooldown(),
		OnRetry:       p.metrics.Retry,
	}
}

// Run executes one crawl starting at startURL (empty means the configured
// start page) and returns its summary. The store is probed before any page
// is fetched; an unreachable store aborts the run up front rather than
// failing listing by listing.
func (p *Pipeline) Run(ctx context.Context, startURL string) (*model.Summary, error) {
	if startURL == "" {
		startURL = p.cfg.Crawler.StartURL
	}
	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Logger()

	if err := p.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	stats := model.NewRunStats()

	// Separate executors per stage: a throttled detail fetch must not put
	// the search walker into cooldown, and vice versa.
	searchExec := httpx.NewExecutor(p.retryPolicy(), log)
	detailExec := httpx.NewExecutor(p.retryPolicy(), log)
	phoneExec := httpx.NewExecutor(p.retryPolicy(), log)

	fetcher := InitDetailFetcher(p.client, detailExec, log)
	phones := InitPhoneResolver(p.client, phoneExec, p.pool,
		p.cfg.Browser.RevealSelector, p.cfg.AttemptTimeout(), log)

	// The dispatcher cancels only the walker when the car cap fires;
	// in-flight listings still complete.
	walkCtx, stopWalk := context.WithCancel(ctx)
	defer stopWalk()

	walker := InitWalker(p.pages, searchExec, p.store,
		p.cfg.Crawler.MaxPages, p.cfg.Crawler.KnownRunThreshold,
		p.cfg.Crawler.RefreshMissingPhone, stats, p.metrics, log)
	dispatcher := InitDispatcher(fetcher, phones, p.store,
		p.cfg.Crawler.Concurrency, p.cfg.Crawler.MaxCars, stopWalk,
		stats, p.metrics, DispatchHooks{}, log)

	refs := make(chan model.ListingRef, p.cfg.Crawler.BufferSize)

	log.Info().Str("start_url", startURL).
		Int("concurrency", p.cfg.Crawler.Concurrency).
		Msg("crawl started")

	var g errgroup.Group
	g.Go(func() error {
		walker.Walk(walkCtx, startURL, refs)
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(ctx, refs)
		return nil
	})
	_ = g.Wait()

	summary := stats.Snapshot(runID, startURL)
	log.Info().
		Int64("pages", summary.PagesVisited).
		Int64("added", summary.ListingsAdded).
		Int64("skipped", summary.ListingsSkipped).
		Int64("failed", summary.ListingsFailed).
		Str("stop_reason", summary.StopReason).
		Dur("elapsed", summary.Elapsed).
		Msg("crawl finished")
	return summary, nil
}
