package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/corpix/uarand"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/browser"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
	"github.com/akarpovich/riacrawler/internal/scraper/parse"
)

// PhoneResolver tries to obtain a listing's seller phone. Two stages: the
// site's own phone XHR when the page exposed its hash token, then a browser
// session clicking the reveal control. Resolution is best effort; whatever
// happens here, the listing itself still succeeds.
type PhoneResolver struct {
	client *http.Client
	exec   *httpx.Executor
	pool   *browser.Pool

	revealSelector string
	settleWait     time.Duration
	attemptTimeout time.Duration

	log zerolog.Logger
}

func InitPhoneResolver(client *http.Client, exec *httpx.Executor, pool *browser.Pool,
	revealSelector string, attemptTimeout time.Duration, log zerolog.Logger) *PhoneResolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PhoneResolver{
		client:         client,
		exec:           exec,
		pool:           pool,
		revealSelector: revealSelector,
		settleWait:     2 * time.Second,
		attemptTimeout: attemptTimeout,
		log:            log.With().Str("component", "phones").Logger(),
	}
}

// Resolve sets rec.Phone when a number could be obtained. It never returns
// an error: a listing without a phone is a complete listing.
func (r *PhoneResolver) Resolve(ctx context.Context, rec *model.CarRecord, fields *parse.CarFields) {
	if phone := r.viaAPI(ctx, rec, fields); phone != "" {
		rec.Phone = &phone
		return
	}
	if phone := r.viaBrowser(ctx, rec); phone != "" {
		rec.Phone = &phone
		return
	}
	r.log.Debug().Str("external_id", rec.ExternalID).Msg("phone unresolved")
}

// phoneAPIResponse covers both shapes the endpoint has been seen to return.
type phoneAPIResponse struct {
	Phones []struct {
		PhoneFormatted string `json:"phoneFormatted"`
	} `json:"phones"`
	FormattedPhoneNumber string `json:"formattedPhoneNumber"`
}

func (r *PhoneResolver) viaAPI(ctx context.Context, rec *model.CarRecord, fields *parse.CarFields) string {
	if fields == nil || fields.PhoneHash == "" {
		return ""
	}
	u, err := url.Parse(rec.URL)
	if err != nil {
		return ""
	}
	endpoint := fmt.Sprintf("%s://%s/users/phones/%s?hash=%s&expires=%s",
		u.Scheme, u.Host, rec.ExternalID,
		url.QueryEscape(fields.PhoneHash), url.QueryEscape(fields.PhoneExpires))

	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	var raw []byte
	err = r.exec.Do(ctx, "phone api", func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if rerr != nil {
			return rerr
		}
		req.Header.Set("User-Agent", uarand.GetRandom())
		req.Header.Set("Referer", rec.URL)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")

		resp, rerr := r.client.Do(req)
		if rerr != nil {
			return httpx.FromTransport("phone api", rerr)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return httpx.FromStatus("phone api", resp.StatusCode, 0)
		}
		raw, rerr = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return rerr
	})
	if err != nil {
		r.log.Debug().Err(err).Str("external_id", rec.ExternalID).Msg("phone api failed")
		return ""
	}

	var parsed phoneAPIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		r.log.Debug().Err(err).Str("external_id", rec.ExternalID).Msg("phone api bad payload")
		return ""
	}
	if len(parsed.Phones) > 0 && parsed.Phones[0].PhoneFormatted != "" {
		return parse.NormalizePhone(parsed.Phones[0].PhoneFormatted)
	}
	if parsed.FormattedPhoneNumber != "" {
		return parse.NormalizePhone(parsed.FormattedPhoneNumber)
	}
	return ""
}

func (r *PhoneResolver) viaBrowser(ctx context.Context, rec *model.CarRecord) string {
	if r.pool == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	var phone string
	err := r.pool.WithSession(ctx, func(ctx context.Context, s browser.Session) error {
		html, rerr := r.pool.Render(ctx, s, rec.URL, browser.Interaction{
			ClickSelector: r.revealSelector,
			SettleWait:    r.settleWait,
		})
		if rerr != nil {
			return rerr
		}
		phone = parse.FindPhone(html)
		return nil
	})
	if err != nil {
		r.log.Debug().Err(err).Str("external_id", rec.ExternalID).Msg("phone render failed")
		return ""
	}
	return phone
}
