package model

import "time"

// ListingRef points at one advertisement discovered on a search page.
// ExternalID is the site-assigned numeric id parsed from the listing URL
// and is stable across runs.
type ListingRef struct {
	ExternalID   string
	URL          string
	DiscoveredAt time.Time

	// RefreshPhone marks a listing that is already stored but still has no
	// phone number; the pipeline re-attempts only the phone resolution.
	RefreshPhone bool
}

// CarRecord is one harvested listing. Every field except identity and
// timestamps is optional: a nil pointer persists as NULL and is a valid
// final state, not an error.
type CarRecord struct {
	ExternalID string
	URL        string

	Title      *string
	PriceUSD   *int
	Mileage    *int // kilometers
	VIN        *string
	Plate      *string
	SellerName *string
	Phone      *string

	ImageURL   *string
	PhotoURLs  []string
	PhotoCount int

	DiscoveredAt time.Time
	ScrapedAt    time.Time
}

// SeenInfo is the dedup gate's answer for a known external id.
type SeenInfo struct {
	LastSeenAt time.Time
	HasPhone   bool
}
