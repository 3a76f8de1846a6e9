package parse

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

// externalIDRe pulls the numeric listing id out of a detail URL like
// /auto_bmw_x5_12345678.html.
var externalIDRe = regexp.MustCompile(`/auto_\w+_(\d+)\.html`)

type searchParser struct{}

func InitSearchParser() Parser { return searchParser{} }

// Parse extracts listing references from one search results page, in page
// order. An empty Entries slice means the feed is exhausted.
func (searchParser) Parse(pageURL string, html []byte) (*PartialFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, &httpx.ParseError{URL: pageURL, Reason: "invalid html: " + err.Error()}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &httpx.ParseError{URL: pageURL, Reason: "bad page url"}
	}

	var entries []ListingEntry
	doc.Find("section.ticket-item").Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find("a.m-link-ticket").Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		id := ExternalID(ref.String())
		if id == "" {
			return
		}
		entries = append(entries, ListingEntry{ExternalID: id, URL: ref.String()})
	})

	return &PartialFields{Entries: entries}, nil
}

// ExternalID extracts the site-assigned listing id from a detail URL;
// empty when the URL does not look like a listing.
func ExternalID(listingURL string) string {
	m := externalIDRe.FindStringSubmatch(listingURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// NextPageURL increments the page query parameter of a search URL. The feed
// is addressed page=0,1,2,... regardless of the total page count.
func NextPageURL(current string) (string, error) {
	u, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	q := u.Query()
	page := 0
	if s := q.Get("page"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			page = n
		}
	}
	q.Set("page", strconv.Itoa(page+1))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
