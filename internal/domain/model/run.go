package model

import (
	"sync/atomic"
	"time"
)

// Stop reasons recorded by the search walker.
const (
	StopReasonCompleted   = "completed"
	StopReasonEmptyPage   = "empty page"
	StopReasonMaxPages    = "max pages reached"
	StopReasonMaxCars     = "max cars reached"
	StopReasonKnownRun    = "known run"
	StopReasonFetchFailed = "page fetch failed"
	StopReasonCancelled   = "cancelled"
)

// RunStats carries the live counters of one crawl run. All counters are
// updated concurrently by the walker and the dispatcher workers, so access
// goes through atomics. A RunStats value belongs to exactly one run.
type RunStats struct {
	StartedAt time.Time

	pagesVisited      atomic.Int64
	listingsEmitted   atomic.Int64
	listingsProcessed atomic.Int64
	listingsAdded     atomic.Int64
	listingsSkipped   atomic.Int64
	listingsFailed    atomic.Int64

	stopReason atomic.Value // string
}

func NewRunStats() *RunStats {
	s := &RunStats{StartedAt: time.Now()}
	s.stopReason.Store("")
	return s
}

func (s *RunStats) PageVisited()      { s.pagesVisited.Add(1) }
func (s *RunStats) ListingEmitted()   { s.listingsEmitted.Add(1) }
func (s *RunStats) ListingProcessed() { s.listingsProcessed.Add(1) }
func (s *RunStats) ListingAdded()     { s.listingsAdded.Add(1) }
func (s *RunStats) ListingSkipped()   { s.listingsSkipped.Add(1) }
func (s *RunStats) ListingFailed()    { s.listingsFailed.Add(1) }

func (s *RunStats) PagesVisited() int64      { return s.pagesVisited.Load() }
func (s *RunStats) ListingsEmitted() int64   { return s.listingsEmitted.Load() }
func (s *RunStats) ListingsProcessed() int64 { return s.listingsProcessed.Load() }
func (s *RunStats) ListingsAdded() int64     { return s.listingsAdded.Load() }
func (s *RunStats) ListingsSkipped() int64   { return s.listingsSkipped.Load() }
func (s *RunStats) ListingsFailed() int64    { return s.listingsFailed.Load() }

// SetStopReason records the first stop reason only; later calls are ignored
// so a cancellation arriving after a natural stop does not overwrite it.
func (s *RunStats) SetStopReason(reason string) {
	s.stopReason.CompareAndSwap("", reason)
}

func (s *RunStats) StopReason() string {
	r, _ := s.stopReason.Load().(string)
	return r
}

// Summary is the immutable result handed back to the invoking trigger.
type Summary struct {
	RunID             string        `json:"run_id"`
	StartURL          string        `json:"start_url"`
	PagesVisited      int64         `json:"pages_visited"`
	ListingsEmitted   int64         `json:"listings_emitted"`
	ListingsProcessed int64         `json:"listings_processed"`
	ListingsAdded     int64         `json:"listings_added"`
	ListingsSkipped   int64         `json:"listings_skipped"`
	ListingsFailed    int64         `json:"listings_failed"`
	StopReason        string        `json:"stop_reason"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Snapshot freezes the counters into a Summary.
func (s *RunStats) Snapshot(runID, startURL string) *Summary {
	reason := s.StopReason()
	if reason == "" {
		reason = StopReasonCompleted
	}
	return &Summary{
		RunID:             runID,
		StartURL:          startURL,
		PagesVisited:      s.PagesVisited(),
		ListingsEmitted:   s.ListingsEmitted(),
		ListingsProcessed: s.ListingsProcessed(),
		ListingsAdded:     s.ListingsAdded(),
		ListingsSkipped:   s.ListingsSkipped(),
		ListingsFailed:    s.ListingsFailed(),
		StopReason:        reason,
		Elapsed:           time.Since(s.StartedAt),
	}
}
