package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

type rodRenderer struct {
	cfg *config.Config
	log zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

type rodSession struct {
	id   string
	page *rod.Page
}

func (s *rodSession) ID() string   { return s.id }
func (s *rodSession) Close() error { return s.page.Close() }

func initRodRenderer(cfg *config.Config, log zerolog.Logger) (Renderer, error) {
	return &rodRenderer{
		cfg: cfg,
		log: log.With().Str("component", "renderer").Str("engine", "rod").Logger(),
	}, nil
}

// connect launches the shared browser process on first use so runs that
// never need a reveal fallback stay browser-free.
func (r *rodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().
		Headless(r.cfg.Browser.Headless).
		Leakless(true)
	if r.cfg.Browser.Bin != "" {
		l = l.Bin(r.cfg.Browser.Bin)
	}
	if r.cfg.Browser.UserDataDir != "" {
		l = l.UserDataDir(r.cfg.Browser.UserDataDir)
	}
	if r.cfg.Browser.NoSandbox {
		l = l.Set("no-sandbox")
	}
	if r.cfg.Browser.DisableDevShmUsage {
		l = l.Set("disable-dev-shm-usage")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.log.Debug().Str("control_url", controlURL).Msg("browser connected")
	r.browser = browser
	return browser, nil
}

func (r *rodRenderer) Open(ctx context.Context) (Session, error) {
	browser, err := r.connect()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	s := &rodSession{id: uuid.NewString(), page: page}
	r.log.Debug().Str("session", s.id).Msg("session opened")
	return s, nil
}

func (r *rodRenderer) Render(ctx context.Context, sess Session, url string, in Interaction) (string, error) {
	s, ok := sess.(*rodSession)
	if !ok {
		return "", &httpx.RenderError{URL: url, Err: fmt.Errorf("foreign session %T", sess)}
	}
	page := s.page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return "", &httpx.RenderError{URL: url, Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return "", &httpx.RenderError{URL: url, Err: err}
	}

	if in.ClickSelector != "" {
		// Has is non-blocking; the reveal link is absent on pages where the
		// phone is already in the markup.
		has, el, err := page.Has(in.ClickSelector)
		if err != nil {
			return "", &httpx.RenderError{URL: url, Err: err}
		}
		if has {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return "", &httpx.RenderError{URL: url, Err: err}
			}
			if in.SettleWait > 0 {
				if err := waitSettle(ctx, in.SettleWait); err != nil {
					return "", err
				}
			}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", &httpx.RenderError{URL: url, Err: err}
	}
	return html, nil
}

func (r *rodRenderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

func waitSettle(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
