// Package browser manages the headless rendering sessions used for phone
// reveal. Rendering is far more expensive than a plain fetch, so sessions
// live in a small capped pool and are leased, never owned, by callers.
package browser

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/config"
)

// Session is one live rendering context owned by the pool.
type Session interface {
	ID() string
	Close() error
}

// Interaction describes what Render does after navigation. For auto.ria.com
// the reveal is a single click on the phone-show link followed by a short
// settle wait while the number is swapped into the DOM.
type Interaction struct {
	ClickSelector string
	SettleWait    time.Duration
}

// Renderer is the closed two-engine set behind the pool: rod (default) and
// chromedp, selected by configuration.
type Renderer interface {
	Open(ctx context.Context) (Session, error)
	Render(ctx context.Context, s Session, url string, in Interaction) (string, error)
	Shutdown() error
}

// InitRenderer selects the engine configured under browser.engine.
func InitRenderer(cfg *config.Config, log zerolog.Logger) (Renderer, error) {
	switch cfg.Browser.Engine {
	case config.EngineChromedp:
		return initChromedpRenderer(cfg, log)
	default:
		return initRodRenderer(cfg, log)
	}
}
