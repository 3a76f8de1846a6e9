// Package scraper is the crawl pipeline: a sequential search walker feeding
// a bounded pool of listing workers, with dedup against the store and a
// leased browser pool for phone reveal.
package scraper

import (
	"context"

	"github.com/akarpovich/riacrawler/internal/domain/model"
)

// DedupGate answers whether listings were recorded before. Implementations
// must be safe for concurrent use by all workers.
type DedupGate interface {
	ExistsBatch(ctx context.Context, externalIDs []string) (map[string]model.SeenInfo, error)
}

// Sink persists completed records. Upsert must be idempotent per external
// id and reports whether a new row was created. UpdatePhone fills the phone
// of an already stored listing without touching its other fields.
type Sink interface {
	Upsert(ctx context.Context, rec *model.CarRecord) (bool, error)
	UpdatePhone(ctx context.Context, externalID, phone string) error
}

// Store is the full persistence collaborator a run needs.
type Store interface {
	DedupGate
	Sink
	Ping(ctx context.Context) error
	InitSchema(ctx context.Context) error
}
