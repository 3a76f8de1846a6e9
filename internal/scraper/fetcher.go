package scraper

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/corpix/uarand"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/domain/model"
	"github.com/akarpovich/riacrawler/internal/infra/httpx"
	"github.com/akarpovich/riacrawler/internal/scraper/parse"
)

const maxDetailBody = 8 << 20

// DetailFetcher downloads a listing page and parses it into a CarRecord.
// The record it returns still has a nil Phone; the resolver fills that in.
type DetailFetcher struct {
	client *http.Client
	exec   *httpx.Executor
	parser parse.Parser
	log    zerolog.Logger
}

func InitDetailFetcher(client *http.Client, exec *httpx.Executor, log zerolog.Logger) *DetailFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DetailFetcher{
		client: client,
		exec:   exec,
		parser: parse.InitCarParser(),
		log:    log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch retrieves ref's page with retries and returns the parsed record
// together with the raw parse fields (the phone token lives there). A
// deleted listing comes back as httpx.ErrNotFound.
func (f *DetailFetcher) Fetch(ctx context.Context, ref model.ListingRef) (*model.CarRecord, *parse.CarFields, error) {
	var body []byte
	err := f.exec.Do(ctx, "detail page", func(ctx context.Context) error {
		b, ferr := f.get(ctx, ref.URL)
		if ferr != nil {
			return ferr
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	res, err := f.parser.Parse(ref.URL, body)
	if err != nil {
		return nil, nil, err
	}
	fields := res.Car
	if fields.Deleted {
		return nil, nil, httpx.ErrNotFound
	}

	rec := &model.CarRecord{
		ExternalID:   ref.ExternalID,
		URL:          ref.URL,
		Title:        fields.Title,
		PriceUSD:     fields.PriceUSD,
		Mileage:      fields.Mileage,
		SellerName:   fields.SellerName,
		VIN:          fields.VIN,
		Plate:        fields.Plate,
		ImageURL:     fields.ImageURL,
		PhotoURLs:    fields.PhotoURLs,
		PhotoCount:   fields.PhotoCount,
		DiscoveredAt: ref.DiscoveredAt,
		ScrapedAt:    time.Now(),
	}
	return rec, fields, nil
}

func (f *DetailFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", uarand.GetRandom())
	req.Header.Set("Accept-Language", "uk-UA,uk;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, httpx.FromTransport("detail page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpx.FromStatus("detail page", resp.StatusCode, retryAfter(resp))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBody))
	if err != nil {
		return nil, httpx.FromTransport("detail page", err)
	}
	return body, nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
