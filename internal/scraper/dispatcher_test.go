package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

type fakeSink struct {
	mu           sync.Mutex
	records      map[string]*model.CarRecord
	phoneUpdates map[string]string
	upserts      int
	err          error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		records:      map[string]*model.CarRecord{},
		phoneUpdates: map[string]string{},
	}
}

func (s *fakeSink) Upsert(_ context.Context, rec *model.CarRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.upserts++
	_, existed := s.records[rec.ExternalID]
	s.records[rec.ExternalID] = rec
	return !existed, nil
}

func (s *fakeSink) UpdatePhone(_ context.Context, id, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.phoneUpdates[id] = phone
	if rec, ok := s.records[id]; ok {
		rec.Phone = &phone
	}
	return nil
}

func (s *fakeSink) phoneUpdate(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phone, ok := s.phoneUpdates[id]
	return phone, ok
}

func (s *fakeSink) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *fakeSink) get(id string) *model.CarRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// detailServer mimics the site: listing pages, a phone XHR endpoint, plus
// ids with special behavior ("gone" page is 404, "broken" page has no data).
type detailServer struct {
	*httptest.Server
	pageDelay  time.Duration
	phoneDelay time.Duration
	phoneJSON  string
}

func newDetailServer(t *testing.T) *detailServer {
	t.Helper()
	carHTML, err := os.ReadFile(filepath.Join("parse", "testdata", "car_page.html"))
	require.NoError(t, err)

	ds := &detailServer{
		phoneJSON: `{"phones":[{"phoneFormatted":"(067) 123 45 67"}]}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/phones/", func(w http.ResponseWriter, r *http.Request) {
		if ds.phoneDelay > 0 {
			time.Sleep(ds.phoneDelay)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ds.phoneJSON))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if ds.pageDelay > 0 {
			time.Sleep(ds.pageDelay)
		}
		switch {
		case strings.Contains(r.URL.Path, "gone"):
			http.NotFound(w, r)
		case strings.Contains(r.URL.Path, "broken"):
			_, _ = w.Write([]byte(`<html><body><p>please wait</p></body></html>`))
		default:
			_, _ = w.Write(carHTML)
		}
	})
	ds.Server = httptest.NewServer(mux)
	t.Cleanup(ds.Close)
	return ds
}

func (ds *detailServer) ref(id string) model.ListingRef {
	return model.ListingRef{
		ExternalID:   id,
		URL:          ds.URL + "/auto_test_" + id + ".html",
		DiscoveredAt: time.Now(),
	}
}

func feedRefs(refs ...model.ListingRef) chan model.ListingRef {
	ch := make(chan model.ListingRef, len(refs))
	for _, r := range refs {
		ch <- r
	}
	close(ch)
	return ch
}

func dispatchExecutor() *httpx.Executor {
	return httpx.NewExecutor(httpx.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, zerolog.Nop())
}

type dispatchEnv struct {
	server *detailServer
	sink   *fakeSink
	stats  *model.RunStats
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	return &dispatchEnv{server: newDetailServer(t), sink: newFakeSink(), stats: model.NewRunStats()}
}

func (e *dispatchEnv) dispatcher(workers, maxCars int, capReached context.CancelFunc, hooks DispatchHooks) *Dispatcher {
	fetcher := InitDetailFetcher(nil, dispatchExecutor(), zerolog.Nop())
	phones := InitPhoneResolver(nil, dispatchExecutor(), nil, "a.phone_show_link", time.Second, zerolog.Nop())
	return InitDispatcher(fetcher, phones, e.sink, workers, maxCars, capReached, e.stats, nil, hooks, zerolog.Nop())
}

func TestDispatcherPersistsListings(t *testing.T) {
	env := newDispatchEnv(t)
	d := env.dispatcher(3, 0, nil, DispatchHooks{})

	d.Run(context.Background(), feedRefs(
		env.server.ref("35871201"), env.server.ref("35871145"), env.server.ref("35870998"),
	))

	assert.Equal(t, 3, env.sink.count())
	assert.Equal(t, int64(3), env.stats.ListingsProcessed())
	assert.Equal(t, int64(3), env.stats.ListingsAdded())
	assert.Zero(t, env.stats.ListingsFailed())

	rec := env.sink.get("35871201")
	require.NotNil(t, rec)
	require.NotNil(t, rec.Title)
	assert.Equal(t, "BMW X5 2019", *rec.Title)
	require.NotNil(t, rec.Phone)
	assert.Equal(t, "+380671234567", *rec.Phone)
}

func TestDispatcherSkipsGoneListing(t *testing.T) {
	env := newDispatchEnv(t)
	d := env.dispatcher(2, 0, nil, DispatchHooks{})

	d.Run(context.Background(), feedRefs(
		env.server.ref("35871201"), env.server.ref("gone1"),
	))

	assert.Equal(t, 1, env.sink.count())
	assert.Equal(t, int64(1), env.stats.ListingsSkipped())
	assert.Zero(t, env.stats.ListingsFailed())
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	env := newDispatchEnv(t)
	d := env.dispatcher(2, 0, nil, DispatchHooks{})

	d.Run(context.Background(), feedRefs(
		env.server.ref("broken1"), env.server.ref("35871201"), env.server.ref("35871145"),
	))

	assert.Equal(t, 2, env.sink.count())
	assert.Equal(t, int64(3), env.stats.ListingsProcessed())
	assert.Equal(t, int64(1), env.stats.ListingsFailed())
	assert.Equal(t, int64(2), env.stats.ListingsAdded())
}

func TestDispatcherCountsSinkFailure(t *testing.T) {
	env := newDispatchEnv(t)
	env.sink.err = assert.AnError
	d := env.dispatcher(1, 0, nil, DispatchHooks{})

	d.Run(context.Background(), feedRefs(env.server.ref("35871201")))

	assert.Equal(t, int64(1), env.stats.ListingsFailed())
	assert.Zero(t, env.stats.ListingsAdded())
}

func TestDispatcherEnforcesMaxCars(t *testing.T) {
	env := newDispatchEnv(t)

	var capFired atomic.Bool
	refs := make([]model.ListingRef, 10)
	for i := range refs {
		refs[i] = env.server.ref(pageIDs("55", 10)[i])
	}
	d := env.dispatcher(2, 3, func() { capFired.Store(true) }, DispatchHooks{})

	d.Run(context.Background(), feedRefs(refs...))

	assert.Equal(t, 3, env.sink.count())
	assert.Equal(t, int64(3), env.stats.ListingsProcessed())
	assert.True(t, capFired.Load())
	assert.Equal(t, model.StopReasonMaxCars, env.stats.StopReason())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	env := newDispatchEnv(t)
	env.server.pageDelay = 30 * time.Millisecond

	var active, peak atomic.Int64
	hooks := DispatchHooks{
		TaskStarted: func() {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		},
		TaskDone: func() { active.Add(-1) },
	}

	refs := make([]model.ListingRef, 12)
	for i := range refs {
		refs[i] = env.server.ref(pageIDs("77", 12)[i])
	}
	d := env.dispatcher(4, 0, nil, hooks)
	d.Run(context.Background(), feedRefs(refs...))

	assert.Equal(t, 12, env.sink.count())
	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.Greater(t, peak.Load(), int64(1))
}

func TestDispatcherStopsIntakeOnCancel(t *testing.T) {
	env := newDispatchEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := env.dispatcher(2, 0, nil, DispatchHooks{})
	d.Run(ctx, feedRefs(env.server.ref("35871201"), env.server.ref("35871145")))

	// Refs still queued when cancellation lands are drained, not processed.
	assert.Zero(t, env.sink.count())
	assert.Zero(t, env.stats.ListingsProcessed())
}

func TestDispatcherRefreshUpdatesPhoneOnly(t *testing.T) {
	env := newDispatchEnv(t)
	// listing stored by an earlier run, phone never resolved
	stored := &model.CarRecord{ExternalID: "35871201", URL: env.server.URL + "/auto_test_35871201.html"}
	env.sink.records["35871201"] = stored

	ref := env.server.ref("35871201")
	ref.RefreshPhone = true

	d := env.dispatcher(1, 0, nil, DispatchHooks{})
	d.Run(context.Background(), feedRefs(ref))

	phone, ok := env.sink.phoneUpdate("35871201")
	require.True(t, ok)
	assert.Equal(t, "+380671234567", phone)

	// The stored record gains only the phone; the detail page's spec fields
	// are not re-persisted and no upsert happens.
	assert.Zero(t, env.sink.upsertCount())
	assert.Nil(t, stored.Title)
	assert.Nil(t, stored.PriceUSD)
	assert.Equal(t, int64(1), env.stats.ListingsProcessed())
	assert.Zero(t, env.stats.ListingsAdded())
	assert.Zero(t, env.stats.ListingsFailed())
}

func TestDispatcherRefreshLeavesRecordWhenUnresolved(t *testing.T) {
	env := newDispatchEnv(t)
	env.server.phoneDelay = 500 * time.Millisecond
	env.sink.records["35871201"] = &model.CarRecord{ExternalID: "35871201"}

	ref := env.server.ref("35871201")
	ref.RefreshPhone = true

	fetcher := InitDetailFetcher(nil, dispatchExecutor(), zerolog.Nop())
	phones := InitPhoneResolver(nil, dispatchExecutor(), nil, "a.phone_show_link", 50*time.Millisecond, zerolog.Nop())
	d := InitDispatcher(fetcher, phones, env.sink, 1, 0, nil, env.stats, nil, DispatchHooks{}, zerolog.Nop())
	d.Run(context.Background(), feedRefs(ref))

	_, ok := env.sink.phoneUpdate("35871201")
	assert.False(t, ok, "an unresolved refresh must not write anything")
	assert.Zero(t, env.sink.upsertCount())
	assert.Zero(t, env.stats.ListingsFailed())
	assert.Equal(t, int64(1), env.stats.ListingsProcessed())
}

func TestDispatcherPhonePayloadVariant(t *testing.T) {
	env := newDispatchEnv(t)
	env.server.phoneJSON = `{"formattedPhoneNumber":"067 123 45 67"}`

	d := env.dispatcher(1, 0, nil, DispatchHooks{})
	d.Run(context.Background(), feedRefs(env.server.ref("35871201")))

	rec := env.sink.get("35871201")
	require.NotNil(t, rec)
	require.NotNil(t, rec.Phone)
	assert.Equal(t, "+380671234567", *rec.Phone)
}

func TestDispatcherPhoneTimeoutStillPersists(t *testing.T) {
	env := newDispatchEnv(t)
	env.server.phoneDelay = 500 * time.Millisecond

	fetcher := InitDetailFetcher(nil, dispatchExecutor(), zerolog.Nop())
	phones := InitPhoneResolver(nil, dispatchExecutor(), nil, "a.phone_show_link", 50*time.Millisecond, zerolog.Nop())
	d := InitDispatcher(fetcher, phones, env.sink, 1, 0, nil, env.stats, nil, DispatchHooks{}, zerolog.Nop())

	d.Run(context.Background(), feedRefs(env.server.ref("35871201")))

	rec := env.sink.get("35871201")
	require.NotNil(t, rec)
	assert.Nil(t, rec.Phone)
	require.NotNil(t, rec.PriceUSD)
	assert.Equal(t, 41500, *rec.PriceUSD)
	assert.Zero(t, env.stats.ListingsFailed())
	assert.Equal(t, int64(1), env.stats.ListingsAdded())
}
