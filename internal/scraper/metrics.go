package scraper

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/akarpovich/riacrawler/internal/infra/browser"
)

// Metrics holds the pipeline's Prometheus instruments. All methods are
// nil-receiver safe so components can run unmetered in tests.
type Metrics struct {
	pagesVisited    prometheus.Counter
	listingOutcomes *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	leasedSessions  prometheus.Gauge
	retryAttempts   prometheus.Counter
}

func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pagesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riacrawler",
			Name:      "pages_visited_total",
			Help:      "Search result pages fetched and parsed.",
		}),
		listingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riacrawler",
			Name:      "listings_total",
			Help:      "Listings by terminal outcome.",
		}, []string{"outcome"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riacrawler",
			Name:      "active_workers",
			Help:      "Workers currently processing a listing.",
		}),
		leasedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riacrawler",
			Name:      "leased_browser_sessions",
			Help:      "Browser sessions currently leased from the pool.",
		}),
		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riacrawler",
			Name:      "retry_attempts_total",
			Help:      "Operation attempts beyond the first.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pagesVisited, m.listingOutcomes, m.activeWorkers, m.leasedSessions, m.retryAttempts)
	}
	return m
}

func (m *Metrics) PageVisited() {
	if m != nil {
		m.pagesVisited.Inc()
	}
}

func (m *Metrics) ListingOutcome(outcome string) {
	if m != nil {
		m.listingOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.activeWorkers.Inc()
	}
}

func (m *Metrics) WorkerDone() {
	if m != nil {
		m.activeWorkers.Dec()
	}
}

func (m *Metrics) Retry() {
	if m != nil {
		m.retryAttempts.Inc()
	}
}

// PoolHooks adapts the session gauge to the browser pool's lease callbacks.
func (m *Metrics) PoolHooks() browser.Hooks {
	if m == nil {
		return browser.Hooks{}
	}
	return browser.Hooks{Leased: m.leasedSessions.Inc, Released: m.leasedSessions.Dec}
}
