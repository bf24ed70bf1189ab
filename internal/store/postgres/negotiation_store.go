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

// NegotiationStore implements domain.NegotiationStore using PostgreSQL.
// Mutations go through a version-conditional UPDATE so a concurrent writer
// can never clobber a transition it did not see.
type NegotiationStore struct {
	pool *pgxpool.Pool
}

// NewNegotiationStore creates a NegotiationStore backed by the given pool.
func NewNegotiationStore(pool *pgxpool.Pool) *NegotiationStore {
	return &NegotiationStore{pool: pool}
}

const negotiationCols = `id, product_id, buyer_id, farmer_id,
	initial_price, offered_price, counter_price, quantity, status,
	floor_price, target_price, price_source, price_verified, quality_grade,
	created_at, last_updated, version`

func scanNegotiation(row pgx.Row) (domain.Negotiation, error) {
	var n domain.Negotiation
	var status, grade string
	err := row.Scan(
		&n.ID, &n.ProductID, &n.BuyerID, &n.FarmerID,
		&n.InitialPrice, &n.OfferedPrice, &n.CounterPrice, &n.Quantity, &status,
		&n.FloorPrice, &n.TargetPrice, &n.PriceSource, &n.PriceVerified, &grade,
		&n.CreatedAt, &n.LastUpdated, &n.Version,
	)
	if err != nil {
		return domain.Negotiation{}, err
	}
	// Legacy status values are aliased on read; the store never writes them.
	n.Status = domain.NormalizeStatus(domain.NegotiationStatus(status))
	n.QualityGrade = domain.QualityGrade(grade)
	return n, nil
}

// Insert persists a new negotiation and returns its id.
func (s *NegotiationStore) Insert(ctx context.Context, n domain.Negotiation) (string, error) {
	const query = `
		INSERT INTO negotiations (
			id, product_id, buyer_id, farmer_id,
			initial_price, offered_price, counter_price, quantity, status,
			floor_price, target_price, price_source, price_verified, quality_grade,
			created_at, last_updated, version
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17
		)`

	_, err := s.pool.Exec(ctx, query,
		n.ID, n.ProductID, n.BuyerID, n.FarmerID,
		n.InitialPrice, n.OfferedPrice, n.CounterPrice, n.Quantity, string(n.Status),
		n.FloorPrice, n.TargetPrice, n.PriceSource, n.PriceVerified, string(n.QualityGrade),
		n.CreatedAt, n.LastUpdated, n.Version,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: insert negotiation %s: %w", n.ID, err)
	}
	return n.ID, nil
}

// GetByID retrieves a negotiation by its primary key.
func (s *NegotiationStore) GetByID(ctx context.Context, id string) (domain.Negotiation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+negotiationCols+` FROM negotiations WHERE id = $1`, id)
	n, err := scanNegotiation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Negotiation{}, domain.ErrNotFound
		}
		return domain.Negotiation{}, fmt.Errorf("postgres: get negotiation %s: %w", id, err)
	}
	return n, nil
}

// UpdateIfVersion applies the patch only when the stored version matches
// expectedVersion, bumping the version in the same statement. The write and
// the version check are a single UPDATE, so a losing racer sees
// ErrVersionConflict and nothing else changes.
func (s *NegotiationStore) UpdateIfVersion(ctx context.Context, id string, expectedVersion int64, patch domain.NegotiationPatch) (domain.Negotiation, error) {
	const query = `
		UPDATE negotiations SET
			status        = $3,
			offered_price = COALESCE($4, offered_price),
			counter_price = COALESCE($5, counter_price),
			quantity      = COALESCE($6, quantity),
			last_updated  = $7,
			version       = version + 1
		WHERE id = $1 AND version = $2
		RETURNING ` + negotiationCols

	row := s.pool.QueryRow(ctx, query,
		id, expectedVersion,
		string(patch.Status), patch.OfferedPrice, patch.CounterPrice, patch.Quantity,
		patch.LastUpdated,
	)
	n, err := scanNegotiation(row)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Negotiation{}, fmt.Errorf("postgres: update negotiation %s: %w", id, err)
	}

	// No row matched: either the record is missing or the version moved.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM negotiations WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return domain.Negotiation{}, fmt.Errorf("postgres: check negotiation %s: %w", id, err)
	}
	if !exists {
		return domain.Negotiation{}, domain.ErrNotFound
	}
	return domain.Negotiation{}, domain.ErrVersionConflict
}

// ListByParticipant returns the participant's negotiations, newest first.
func (s *NegotiationStore) ListByParticipant(ctx context.Context, participantID string, role domain.ActorRole, opts domain.ListOpts) ([]domain.Negotiation, error) {
	col := "buyer_id"
	if role == domain.RoleFarmer {
		col = "farmer_id"
	}

	query := `SELECT ` + negotiationCols + ` FROM negotiations WHERE ` + col + ` = $1 ORDER BY last_updated DESC`
	args := []any{participantID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list negotiations for %s: %w", participantID, err)
	}
	defer rows.Close()

	return collectNegotiations(rows)
}

// ListClosedBefore returns terminal negotiations last touched strictly
// before the cutoff, oldest first, for archival.
func (s *NegotiationStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Negotiation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+negotiationCols+` FROM negotiations
		 WHERE status IN ($1, $2) AND last_updated < $3
		 ORDER BY last_updated`,
		string(domain.StatusAccepted), string(domain.StatusRejected), before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed negotiations: %w", err)
	}
	defer rows.Close()

	return collectNegotiations(rows)
}

func collectNegotiations(rows pgx.Rows) ([]domain.Negotiation, error) {
	var list []domain.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan negotiation: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: negotiation rows: %w", err)
	}
	return list, nil
}

// Compile-time interface check.
var _ domain.NegotiationStore = (*NegotiationStore)(nil)
