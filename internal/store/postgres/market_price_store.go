package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// MarketPriceStore implements domain.MarketPriceStore using PostgreSQL.
// Region and commodity columns are stored normalized so the resolver's
// case-insensitive queries hit the composite index directly.
type MarketPriceStore struct {
	pool *pgxpool.Pool
}

// NewMarketPriceStore creates a MarketPriceStore backed by the given pool.
func NewMarketPriceStore(pool *pgxpool.Pool) *MarketPriceStore {
	return &MarketPriceStore{pool: pool}
}

const mandiPriceUpsert = `
	INSERT INTO mandi_prices (
		state, district, market, commodity, variety, grade,
		min_price, max_price, modal_price, report_date,
		source, is_verified, last_updated
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, NOW()
	)
	ON CONFLICT (state, district, market, commodity) DO UPDATE SET
		variety      = EXCLUDED.variety,
		grade        = EXCLUDED.grade,
		min_price    = EXCLUDED.min_price,
		max_price    = EXCLUDED.max_price,
		modal_price  = EXCLUDED.modal_price,
		report_date  = EXCLUDED.report_date,
		source       = EXCLUDED.source,
		is_verified  = EXCLUDED.is_verified,
		last_updated = NOW()`

func mandiPriceArgs(r domain.MarketPriceRecord) []any {
	return []any{
		domain.NormalizeName(r.State),
		domain.NormalizeName(r.District),
		r.Market,
		domain.NormalizeName(r.Commodity),
		r.Variety, r.Grade,
		r.MinPrice, r.MaxPrice, r.ModalPrice, r.ReportDate,
		r.Source, r.IsVerified,
	}
}

// Upsert inserts or overwrites the record for its composite key.
func (s *MarketPriceStore) Upsert(ctx context.Context, r domain.MarketPriceRecord) error {
	if _, err := s.pool.Exec(ctx, mandiPriceUpsert, mandiPriceArgs(r)...); err != nil {
		return fmt.Errorf("postgres: upsert mandi price %s: %w", r.Key(), err)
	}
	return nil
}

// UpsertBatch applies a batch of upserts in a single round trip.
func (s *MarketPriceStore) UpsertBatch(ctx context.Context, recs []domain.MarketPriceRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(mandiPriceUpsert, mandiPriceArgs(r)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert mandi price batch item %d: %w", i, err)
		}
	}
	return nil
}

const mandiPriceCols = `state, district, market, commodity, variety, grade,
	min_price, max_price, modal_price, report_date, source, is_verified, last_updated`

func scanMandiPrice(row pgx.Row) (domain.MarketPriceRecord, error) {
	var r domain.MarketPriceRecord
	err := row.Scan(
		&r.State, &r.District, &r.Market, &r.Commodity, &r.Variety, &r.Grade,
		&r.MinPrice, &r.MaxPrice, &r.ModalPrice, &r.ReportDate,
		&r.Source, &r.IsVerified, &r.LastUpdated,
	)
	if err != nil {
		return domain.MarketPriceRecord{}, err
	}
	return r, nil
}

// GetByKey retrieves the record for the composite key.
func (s *MarketPriceStore) GetByKey(ctx context.Context, state, district, market, commodity string) (domain.MarketPriceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mandiPriceCols+` FROM mandi_prices
		 WHERE state = $1 AND district = $2 AND market = $3 AND commodity = $4`,
		domain.NormalizeName(state), domain.NormalizeName(district),
		market, domain.NormalizeName(commodity),
	)
	r, err := scanMandiPrice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketPriceRecord{}, domain.ErrNotFound
		}
		return domain.MarketPriceRecord{}, fmt.Errorf("postgres: get mandi price: %w", err)
	}
	return r, nil
}

// ListByRegion returns the freshest records for a (state, district) pair,
// newest report first.
func (s *MarketPriceStore) ListByRegion(ctx context.Context, state, district string, limit int) ([]domain.MarketPriceRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+mandiPriceCols+` FROM mandi_prices
		 WHERE state = $1 AND district = $2
		 ORDER BY report_date DESC
		 LIMIT $3`,
		domain.NormalizeName(state), domain.NormalizeName(district), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mandi prices for %s/%s: %w", state, district, err)
	}
	defer rows.Close()

	return collectMandiPrices(rows)
}

// ListBefore returns records reported strictly before the cutoff.
func (s *MarketPriceStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MarketPriceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mandiPriceCols+` FROM mandi_prices
		 WHERE report_date < $1
		 ORDER BY report_date`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mandi prices before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectMandiPrices(rows)
}

// Count returns the total number of price records.
func (s *MarketPriceStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM mandi_prices").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count mandi prices: %w", err)
	}
	return count, nil
}

func collectMandiPrices(rows pgx.Rows) ([]domain.MarketPriceRecord, error) {
	var recs []domain.MarketPriceRecord
	for rows.Next() {
		r, err := scanMandiPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mandi price: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: mandi price rows: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.MarketPriceStore = (*MarketPriceStore)(nil)
