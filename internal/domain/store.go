package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketPriceStore persists ingested mandi price records. The negotiation
// core only reads; Upsert/UpsertBatch exist for the ingestion collaborator
// and must be idempotent on the (state, district, market, commodity) key.
type MarketPriceStore interface {
	Upsert(ctx context.Context, rec MarketPriceRecord) error
	UpsertBatch(ctx context.Context, recs []MarketPriceRecord) error
	GetByKey(ctx context.Context, state, district, market, commodity string) (MarketPriceRecord, error)
	// ListByRegion returns the freshest records for a (state, district) pair,
	// newest report first, capped at limit.
	ListByRegion(ctx context.Context, state, district string, limit int) ([]MarketPriceRecord, error)
	// ListBefore returns records whose report date is strictly before the
	// cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]MarketPriceRecord, error)
	Count(ctx context.Context) (int64, error)
}

// NegotiationStore persists negotiation records with per-record optimistic
// concurrency.
type NegotiationStore interface {
	Insert(ctx context.Context, n Negotiation) (string, error)
	GetByID(ctx context.Context, id string) (Negotiation, error)
	// UpdateIfVersion applies patch only when the stored version equals
	// expectedVersion, bumping the version in the same statement. It returns
	// ErrVersionConflict (and writes nothing) on mismatch, ErrNotFound when
	// the record does not exist.
	UpdateIfVersion(ctx context.Context, id string, expectedVersion int64, patch NegotiationPatch) (Negotiation, error)
	ListByParticipant(ctx context.Context, participantID string, role ActorRole, opts ListOpts) ([]Negotiation, error)
	// ListClosedBefore returns terminal negotiations last updated strictly
	// before the cutoff, for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Negotiation, error)
}

// NegotiationFeed delivers push-based negotiation snapshots to participants.
// Subscribe first replays the participant's current records, then streams
// live updates until ctx is cancelled; the returned channel is closed at
// that point.
type NegotiationFeed interface {
	Publish(ctx context.Context, n Negotiation) error
	Subscribe(ctx context.Context, participantID string, role ActorRole) (<-chan Negotiation, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only trail of negotiation transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
