package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/collector"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
	"github.com/akarpovich/riacrawler/internal/scraper/parse"
)

// Walker pages through the search feed sequentially, filters entries through
// the dedup gate and emits the remainder on a bounded channel. It owns the
// run's stop reason for everything that ends pagination.
type Walker struct {
	fetcher collector.PageFetcher
	exec    *httpx.Executor
	parser  parse.Parser
	gate    DedupGate

	maxPages     int
	knownRun     int
	refreshPhone bool

	stats   *model.RunStats
	metrics *Metrics
	log     zerolog.Logger
}

func InitWalker(fetcher collector.PageFetcher, exec *httpx.Executor, gate DedupGate,
	maxPages, knownRun int, refreshPhone bool,
	stats *model.RunStats, metrics *Metrics, log zerolog.Logger) *Walker {
	return &Walker{
		fetcher:      fetcher,
		exec:         exec,
		parser:       parse.InitSearchParser(),
		gate:         gate,
		maxPages:     maxPages,
		knownRun:     knownRun,
		refreshPhone: refreshPhone,
		stats:        stats,
		metrics:      metrics,
		log:          log.With().Str("component", "walker").Logger(),
	}
}

// Walk runs until a stop condition fires, then closes out. It never returns
// an error; every ending is recorded as the run's stop reason instead.
func (w *Walker) Walk(ctx context.Context, startURL string, out chan<- model.ListingRef) {
	defer close(out)

	pageURL := startURL
	for pageNum := 0; ; pageNum++ {
		if ctx.Err() != nil {
			w.stats.SetStopReason(model.StopReasonCancelled)
			return
		}
		if w.maxPages > 0 && pageNum >= w.maxPages {
			w.stats.SetStopReason(model.StopReasonMaxPages)
			return
		}

		entries, ok := w.fetchPage(ctx, pageURL)
		if !ok {
			return
		}
		w.stats.PageVisited()
		w.metrics.PageVisited()
		if len(entries) == 0 {
			w.log.Info().Str("url", pageURL).Msg("empty search page, feed exhausted")
			w.stats.SetStopReason(model.StopReasonEmptyPage)
			return
		}

		seen := w.lookupSeen(ctx, entries)

		// A run of already-known listings at the head of the page means the
		// feed has caught up with the previous crawl: newest-first ordering
		// puts everything new before everything old.
		headRun := 0
		for _, e := range entries {
			if _, known := seen[e.ExternalID]; !known {
				break
			}
			headRun++
		}

		for _, e := range entries {
			info, known := seen[e.ExternalID]
			refresh := false
			if known {
				if !w.refreshPhone || info.HasPhone {
					w.stats.ListingSkipped()
					w.metrics.ListingOutcome("skipped")
					continue
				}
				refresh = true
			}
			ref := model.ListingRef{
				ExternalID:   e.ExternalID,
				URL:          e.URL,
				DiscoveredAt: time.Now(),
				RefreshPhone: refresh,
			}
			select {
			case out <- ref:
				w.stats.ListingEmitted()
			case <-ctx.Done():
				w.stats.SetStopReason(model.StopReasonCancelled)
				return
			}
		}

		if w.knownRun > 0 && headRun >= w.knownRun {
			w.log.Info().Int("known_run", headRun).Str("url", pageURL).
				Msg("caught up with previous crawl")
			w.stats.SetStopReason(model.StopReasonKnownRun)
			return
		}

		next, err := parse.NextPageURL(pageURL)
		if err != nil {
			w.log.Error().Err(err).Str("url", pageURL).Msg("cannot build next page url")
			w.stats.SetStopReason(model.StopReasonFetchFailed)
			return
		}
		pageURL = next
	}
}

// fetchPage retrieves and parses one search page through the retry executor.
// A false second return means pagination is over and the stop reason is set.
func (w *Walker) fetchPage(ctx context.Context, pageURL string) ([]parse.ListingEntry, bool) {
	var body []byte
	err := w.exec.Do(ctx, "search page", func(ctx context.Context) error {
		b, ferr := w.fetcher.Fetch(ctx, pageURL)
		if ferr != nil {
			return ferr
		}
		body = b
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			w.stats.SetStopReason(model.StopReasonCancelled)
		} else {
			w.log.Error().Err(err).Str("url", pageURL).Msg("search page fetch failed")
			w.stats.SetStopReason(model.StopReasonFetchFailed)
		}
		return nil, false
	}

	res, err := w.parser.Parse(pageURL, body)
	if err != nil {
		w.log.Error().Err(err).Str("url", pageURL).Msg("search page parse failed")
		w.stats.SetStopReason(model.StopReasonFetchFailed)
		return nil, false
	}
	return res.Entries, true
}

// lookupSeen asks the gate about the whole page at once. A gate failure is
// logged and treated as all-unknown; the sink's idempotent upsert makes the
// worst case a redundant re-scrape, not a duplicate row.
func (w *Walker) lookupSeen(ctx context.Context, entries []parse.ListingEntry) map[string]model.SeenInfo {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ExternalID)
	}
	seen, err := w.gate.ExistsBatch(ctx, ids)
	if err != nil {
		w.log.Warn().Err(err).Msg("dedup lookup failed, treating page as unknown")
		return nil
	}
	return seen
}
