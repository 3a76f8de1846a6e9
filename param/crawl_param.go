// Package param holds per-invocation option structs. They override the
// static configuration for one run without mutating the parsed file values
// globally.
package param

import "github.com/akarpovich/riacrawler/internal/config"

// Crawl bounds one crawl invocation. Zero values leave the configured
// setting untouched; StartURL may point anywhere on the allowed domains,
// which is how ad hoc crawls of a filtered search are launched.
type Crawl struct {
	StartURL    string `json:"start_url"`
	MaxPages    int    `json:"max_pages"`
	MaxCars     int    `json:"max_cars"`
	Concurrency int    `json:"concurrency"`
}

func (p *Crawl) Apply(cfg *config.Config) {
	if p.StartURL != "" {
		cfg.Crawler.StartURL = p.StartURL
	}
	if p.MaxPages > 0 {
		cfg.Crawler.MaxPages = p.MaxPages
	}
	if p.MaxCars > 0 {
		cfg.Crawler.MaxCars = p.MaxCars
	}
	if p.Concurrency > 0 {
		cfg.Crawler.Concurrency = p.Concurrency
	}
}
