package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

type chromedpRenderer struct {
	log         zerolog.Logger
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// cdpSession is one browser tab; the context carries the chromedp target.
type cdpSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *cdpSession) ID() string { return s.id }

func (s *cdpSession) Close() error {
	s.cancel()
	return nil
}

func initChromedpRenderer(cfg *config.Config, log zerolog.Logger) (Renderer, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.Flag("no-sandbox", cfg.Browser.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", cfg.Browser.DisableDevShmUsage),
	)
	if cfg.Browser.Bin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Browser.Bin))
	}
	if cfg.Browser.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.Browser.UserDataDir))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	return &chromedpRenderer{
		log:         log.With().Str("component", "renderer").Str("engine", "chromedp").Logger(),
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
	}, nil
}

func (r *chromedpRenderer) Open(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(r.allocCtx)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	s := &cdpSession{id: uuid.NewString(), ctx: tabCtx, cancel: cancel}
	r.log.Debug().Str("session", s.id).Msg("session opened")
	return s, nil
}

func (r *chromedpRenderer) Render(ctx context.Context, sess Session, url string, in Interaction) (string, error) {
	s, ok := sess.(*cdpSession)
	if !ok {
		return "", &httpx.RenderError{URL: url, Err: fmt.Errorf("foreign session %T", sess)}
	}

	// The tab context carries the chromedp target, so the caller's deadline
	// is grafted onto it. A timeout tears down the tab; the pool replaces
	// broken sessions on release.
	runCtx := s.ctx
	cancel := context.CancelFunc(func() {})
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	}
	defer cancel()

	var html string
	tasks := chromedp.Tasks{chromedp.Navigate(url)}
	if in.ClickSelector != "" {
		tasks = append(tasks, chromedp.Click(in.ClickSelector, chromedp.ByQuery, chromedp.NodeVisible))
		if in.SettleWait > 0 {
			tasks = append(tasks, chromedp.Sleep(in.SettleWait))
		}
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(runCtx, tasks); err != nil {
		return "", &httpx.RenderError{URL: url, Err: err}
	}
	return html, nil
}

func (r *chromedpRenderer) Shutdown() error {
	r.cancelAlloc()
	return nil
}
