// Package collector wraps a colly collector into the page-fetch seam the
// search walker uses. The collector enforces the per-domain politeness
// delays; retry and failure classification stay with the executor above it.
package collector

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/corpix/uarand"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

// PageFetcher fetches one URL and returns the raw body.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const (
	ctxKeyBody       = "body"
	ctxKeyStatus     = "status"
	ctxKeyRetryAfter = "retry_after"
)

type collyFetcher struct {
	c   *colly.Collector
	log zerolog.Logger
}

func InitPageFetcher(cfg *config.Config, log zerolog.Logger) PageFetcher {
	c := colly.NewCollector(
		colly.AllowedDomains(cfg.Crawler.AllowedDomains...),
		colly.AllowURLRevisit(), // retries re-visit the same page URL
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(30 * time.Second)
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       time.Duration(cfg.Crawler.PageDelaySeconds) * time.Second,
		RandomDelay: time.Duration(cfg.Crawler.RandomDelaySeconds) * time.Second,
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", uarand.GetRandom())
	})
	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyBody, r.Body)
	})
	c.OnError(func(r *colly.Response, _ error) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		if r.Headers != nil {
			if secs, err := strconv.Atoi(r.Headers.Get("Retry-After")); err == nil {
				r.Ctx.Put(ctxKeyRetryAfter, time.Duration(secs)*time.Second)
			}
		}
	})

	return &collyFetcher{
		c:   c,
		log: log.With().Str("component", "collector").Logger(),
	}
}

// Fetch issues one GET through the collector. The collector runs
// synchronously, so the call returns once callbacks have fired.
func (f *collyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cctx := colly.NewContext()
	f.log.Debug().Str("url", url).Msg("fetching page")
	err := f.c.Request(http.MethodGet, url, nil, cctx, nil)
	if err != nil {
		if status, ok := cctx.GetAny(ctxKeyStatus).(int); ok && status != 0 {
			retryAfter, _ := cctx.GetAny(ctxKeyRetryAfter).(time.Duration)
			return nil, httpx.FromStatus("page fetch", status, retryAfter)
		}
		return nil, httpx.FromTransport("page fetch", err)
	}

	body, _ := cctx.GetAny(ctxKeyBody).([]byte)
	if len(body) == 0 {
		return nil, &httpx.ParseError{URL: url, Reason: "empty response body"}
	}
	return body, nil
}
