// Package parse holds the page parsers. There are exactly two page shapes
// on the site, search results and the listing detail page; both sit behind
// the same Parser interface and are selected by call site.
package parse

// ListingEntry is one advertisement reference extracted from a search page,
// in page order (the feed lists newest first).
type ListingEntry struct {
	ExternalID string
	URL        string
}

// CarFields is everything the detail-page parser could extract. Nil fields
// were absent or unparseable; that is a valid result, not an error.
type CarFields struct {
	Title      *string
	PriceUSD   *int
	Mileage    *int
	SellerName *string
	VIN        *string
	Plate      *string
	ImageURL   *string
	PhotoURLs  []string
	PhotoCount int

	// PhoneHash and PhoneExpires feed the phone XHR endpoint; empty when
	// the page does not expose them.
	PhoneHash    string
	PhoneExpires string

	// Deleted is set when the page is the "ad removed" notice.
	Deleted bool
}

// PartialFields is the union result of a page parse. The search parser
// fills Entries, the car parser fills Car.
type PartialFields struct {
	Entries []ListingEntry
	Car     *CarFields
}

// Parser turns raw page HTML into partial fields. pageURL is the URL the
// HTML came from; it resolves relative links and carries the external id.
type Parser interface {
	Parse(pageURL string, html []byte) (*PartialFields, error)
}
