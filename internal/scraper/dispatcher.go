package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

// DispatchHooks lets tests and metrics observe listing processing. Both
// fields may be nil.
type DispatchHooks struct {
	TaskStarted func()
	TaskDone    func()
}

// Dispatcher fans the walker's channel out to a fixed set of workers. Each
// listing is isolated: one failure never takes down the run. The maxCars cap
// counts accepted listings; refs past the cap are drained and discarded so
// the walker is never left blocked on the channel.
type Dispatcher struct {
	fetcher *DetailFetcher
	phones  *PhoneResolver
	sink    Sink

	workers int
	maxCars int

	// capReached stops the walker once the cap fires; may be nil.
	capReached context.CancelFunc

	stats   *model.RunStats
	metrics *Metrics
	hooks   DispatchHooks
	log     zerolog.Logger
}

func InitDispatcher(fetcher *DetailFetcher, phones *PhoneResolver, sink Sink,
	workers, maxCars int, capReached context.CancelFunc,
	stats *model.RunStats, metrics *Metrics, hooks DispatchHooks, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		fetcher:    fetcher,
		phones:     phones,
		sink:       sink,
		workers:    workers,
		maxCars:    maxCars,
		capReached: capReached,
		stats:      stats,
		metrics:    metrics,
		hooks:      hooks,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run consumes refs until the channel closes and every in-flight listing
// finished. Cancellation stops intake but lets in-flight listings complete,
// so no listing ends half-processed.
func (d *Dispatcher) Run(ctx context.Context, refs <-chan model.ListingRef) {
	var accepted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			wlog := d.log.With().Int("worker", worker).Logger()
			for ref := range refs {
				if ctx.Err() != nil {
					continue // drain so the walker can observe cancellation
				}
				if d.maxCars > 0 && accepted.Add(1) > int64(d.maxCars) {
					if d.capReached != nil {
						d.stats.SetStopReason(model.StopReasonMaxCars)
						d.capReached()
					}
					continue
				}
				// In-flight listings finish even when the run is cancelled.
				d.processOne(context.WithoutCancel(ctx), ref, wlog)
			}
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) processOne(ctx context.Context, ref model.ListingRef, wlog zerolog.Logger) {
	if d.hooks.TaskStarted != nil {
		d.hooks.TaskStarted()
	}
	d.metrics.WorkerStarted()
	defer func() {
		d.metrics.WorkerDone()
		if d.hooks.TaskDone != nil {
			d.hooks.TaskDone()
		}
		d.stats.ListingProcessed()
	}()

	rec, fields, err := d.fetcher.Fetch(ctx, ref)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			wlog.Info().Str("external_id", ref.ExternalID).Msg("listing gone, skipping")
			d.stats.ListingSkipped()
			d.metrics.ListingOutcome("skipped")
			return
		}
		wlog.Warn().Err(err).Str("external_id", ref.ExternalID).Msg("listing failed")
		d.stats.ListingFailed()
		d.metrics.ListingOutcome("failed")
		return
	}

	d.phones.Resolve(ctx, rec, fields)

	if ref.RefreshPhone {
		d.refreshPhone(ctx, ref, rec, wlog)
		return
	}

	inserted, err := d.sink.Upsert(ctx, rec)
	if err != nil {
		wlog.Warn().Err(err).Str("external_id", ref.ExternalID).Msg("persist failed")
		d.stats.ListingFailed()
		d.metrics.ListingOutcome("failed")
		return
	}
	if inserted {
		d.stats.ListingAdded()
		d.metrics.ListingOutcome("added")
	} else {
		d.metrics.ListingOutcome("updated")
	}
	wlog.Debug().Str("external_id", ref.ExternalID).Bool("new", inserted).
		Bool("phone", rec.Phone != nil).Msg("listing stored")
}

// refreshPhone handles a ref for a listing that is already stored but has no
// phone. The page was fetched only for the reveal token; the stored spec
// fields stay untouched, only the phone is written.
func (d *Dispatcher) refreshPhone(ctx context.Context, ref model.ListingRef, rec *model.CarRecord, wlog zerolog.Logger) {
	if rec.Phone == nil {
		wlog.Debug().Str("external_id", ref.ExternalID).Msg("phone still unresolved")
		d.metrics.ListingOutcome("refresh_missed")
		return
	}
	if err := d.sink.UpdatePhone(ctx, ref.ExternalID, *rec.Phone); err != nil {
		wlog.Warn().Err(err).Str("external_id", ref.ExternalID).Msg("phone refresh persist failed")
		d.stats.ListingFailed()
		d.metrics.ListingOutcome("failed")
		return
	}
	d.metrics.ListingOutcome("refreshed")
	wlog.Debug().Str("external_id", ref.ExternalID).Msg("phone refreshed")
}
