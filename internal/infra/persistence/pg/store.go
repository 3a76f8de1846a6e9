// Package pg is the PostgreSQL persistence layer behind the dedup gate and
// the record sink. All methods are safe for concurrent use; pgxpool handles
// the connection sharing across dispatcher workers.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/akarpovich/riacrawler/internal/config"
	"github.com/akarpovich/riacrawler/internal/domain/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS cars (
	id              BIGSERIAL PRIMARY KEY,
	external_id     TEXT NOT NULL,
	url             TEXT NOT NULL,
	title           TEXT,
	price_usd       INTEGER,
	mileage         INTEGER,
	vin             TEXT,
	plate           TEXT,
	seller_name     TEXT,
	phone           TEXT,
	image_url       TEXT,
	photo_urls      TEXT[],
	photo_count     INTEGER NOT NULL DEFAULT 0,
	discovered_at   TIMESTAMPTZ NOT NULL,
	scraped_at      TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_cars_external_id UNIQUE (external_id)
);
CREATE INDEX IF NOT EXISTS ix_cars_vin ON cars (vin);
`

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func InitStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Store.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open store pool: %w", err)
	}
	return &Store{
		pool: pool,
		log:  log.With().Str("component", "store").Logger(),
	}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// InitSchema creates the cars table if it does not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	s.log.Debug().Msg("schema ready")
	return nil
}

// ExistsBatch checks one search page worth of ids in a single query.
func (s *Store) ExistsBatch(ctx context.Context, externalIDs []string) (map[string]model.SeenInfo, error) {
	if len(externalIDs) == 0 {
		return map[string]model.SeenInfo{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT external_id, scraped_at, phone FROM cars WHERE external_id = ANY($1)`,
		externalIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("exists batch: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]model.SeenInfo, len(externalIDs))
	for rows.Next() {
		var id string
		var at time.Time
		var phone *string
		if err := rows.Scan(&id, &at, &phone); err != nil {
			return nil, fmt.Errorf("exists batch scan: %w", err)
		}
		seen[id] = model.SeenInfo{
			LastSeenAt: at,
			HasPhone:   phone != nil && *phone != "",
		}
	}
	return seen, rows.Err()
}

// Upsert writes one record keyed by external_id. Re-upserting the same id is
// idempotent: the row is updated in place and never duplicated. A phone
// already stored is kept when the new record has none, so a failed refresh
// cannot erase an earlier successful reveal. Returns whether a new row was
// inserted.
func (s *Store) Upsert(ctx context.Context, rec *model.CarRecord) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cars (
			external_id, url, title, price_usd, mileage, vin, plate,
			seller_name, phone, image_url, photo_urls, photo_count,
			discovered_at, scraped_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (external_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = COALESCE(EXCLUDED.title, cars.title),
			price_usd = COALESCE(EXCLUDED.price_usd, cars.price_usd),
			mileage = COALESCE(EXCLUDED.mileage, cars.mileage),
			vin = COALESCE(EXCLUDED.vin, cars.vin),
			plate = COALESCE(EXCLUDED.plate, cars.plate),
			seller_name = COALESCE(EXCLUDED.seller_name, cars.seller_name),
			phone = COALESCE(EXCLUDED.phone, cars.phone),
			image_url = COALESCE(EXCLUDED.image_url, cars.image_url),
			photo_urls = EXCLUDED.photo_urls,
			photo_count = EXCLUDED.photo_count,
			scraped_at = EXCLUDED.scraped_at
		RETURNING (xmax = 0)`,
		rec.ExternalID, rec.URL, rec.Title, rec.PriceUSD, rec.Mileage,
		rec.VIN, rec.Plate, rec.SellerName, rec.Phone, rec.ImageURL,
		rec.PhotoURLs, rec.PhotoCount, rec.DiscoveredAt, rec.ScrapedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.ExternalID, err)
	}
	return inserted, nil
}

// UpdatePhone fills the phone of a stored listing, leaving every other field
// as it was. This is the refresh path for known records missing a number.
func (s *Store) UpdatePhone(ctx context.Context, externalID, phone string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cars SET phone = $2, scraped_at = now() WHERE external_id = $1`,
		externalID, phone,
	)
	if err != nil {
		return fmt.Errorf("update phone %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update phone %s: no such listing", externalID)
	}
	return nil
}
