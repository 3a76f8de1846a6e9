package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

// ErrNoSession is returned when no session frees up within the wait bound.
// Callers treat it like any other render failure: the listing proceeds
// without a phone.
var ErrNoSession = fmt.Errorf("no browser session available")

// Hooks lets callers observe lease traffic, for metrics and for the
// concurrency-bound tests. Either field may be nil.
type Hooks struct {
	Leased   func()
	Released func()
}

// Pool caps the number of concurrently leased sessions. Slots start empty
// and sessions are opened lazily through the executor; a slot whose session
// broke goes back empty and is reopened on its next lease. Waiters are
// served in channel order, ctx cancellation and the wait bound both abandon
// the lease attempt.
type Pool struct {
	renderer Renderer
	exec     *httpx.Executor
	slots    chan Session // nil element = empty slot
	wait     time.Duration
	hooks    Hooks
	log      zerolog.Logger
}

func InitPool(renderer Renderer, size int, wait time.Duration, exec *httpx.Executor, hooks Hooks, log zerolog.Logger) *Pool {
	slots := make(chan Session, size)
	for range size {
		slots <- nil
	}
	return &Pool{
		renderer: renderer,
		exec:     exec,
		slots:    slots,
		wait:     wait,
		hooks:    hooks,
		log:      log.With().Str("component", "browser-pool").Logger(),
	}
}

// WithSession leases a session for the duration of fn and guarantees its
// return on every exit path, including panics within fn. fn returning an
// error marks the session broken: it is closed and its slot reopens lazily.
func (p *Pool) WithSession(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	var sess Session
	select {
	case sess = <-p.slots:
	case <-timer.C:
		return ErrNoSession
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.hooks.Leased != nil {
		p.hooks.Leased()
	}
	leasedAt := time.Now()

	broken := true // treat panics as a broken session
	defer func() {
		if broken && sess != nil {
			if cerr := sess.Close(); cerr != nil {
				p.log.Debug().Err(cerr).Msg("closing broken session")
			}
			sess = nil
		}
		p.slots <- sess
		if p.hooks.Released != nil {
			p.hooks.Released()
		}
		p.log.Debug().Dur("held", time.Since(leasedAt)).Msg("session released")
	}()

	if sess == nil {
		var opened Session
		err := p.exec.Do(ctx, "browser open", func(ctx context.Context) error {
			var oerr error
			opened, oerr = p.renderer.Open(ctx)
			if oerr != nil {
				return &httpx.TransientError{Op: "browser open", Err: oerr}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		sess = opened
	}

	if err := fn(ctx, sess); err != nil {
		return err
	}
	broken = false
	return nil
}

// Render runs the engine against a session leased through WithSession.
func (p *Pool) Render(ctx context.Context, s Session, url string, in Interaction) (string, error) {
	return p.renderer.Render(ctx, s, url, in)
}

// Shutdown closes every idle session and the engine behind them. Leased
// sessions are not waited for; call after the dispatcher drained.
func (p *Pool) Shutdown() {
	for {
		select {
		case s := <-p.slots:
			if s != nil {
				_ = s.Close()
			}
		default:
			_ = p.renderer.Shutdown()
			return
		}
	}
}
