// Package negotiation implements the buyer/farmer bargaining state machine.
// The price floor resolved at creation is frozen into each record and
// enforced server-side on every buyer-authored price; all mutations are
// version-checked so concurrent counter-offers cannot silently overwrite
// each other.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/khetibazaar/mandicore/internal/domain"
	"github.com/khetibazaar/mandicore/internal/pricing"
)

// DefaultBulkMinimum is the smallest lot size (kg) accepted for a wholesale
// negotiation when the config does not override it.
const DefaultBulkMinimum = 50.0

// Service owns the negotiation lifecycle. It resolves the price band once at
// creation and validates every later mutation against that frozen snapshot,
// never against freshly recomputed market data.
type Service struct {
	store       domain.NegotiationStore
	feed        domain.NegotiationFeed // optional
	audit       domain.AuditStore      // optional
	resolver    *pricing.Resolver
	bulkMinimum float64
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a Service. feed and audit may be nil; a non-positive
// bulkMinimum takes DefaultBulkMinimum.
func NewService(
	store domain.NegotiationStore,
	feed domain.NegotiationFeed,
	audit domain.AuditStore,
	resolver *pricing.Resolver,
	bulkMinimum float64,
	logger *slog.Logger,
) *Service {
	if bulkMinimum <= 0 {
		bulkMinimum = DefaultBulkMinimum
	}
	return &Service{
		store:       store,
		feed:        feed,
		audit:       audit,
		resolver:    resolver,
		bulkMinimum: bulkMinimum,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateParams describes a buyer's opening offer on a produce lot.
type CreateParams struct {
	BuyerID      string
	FarmerID     string
	ProductID    string
	Commodity    string
	State        string
	District     string
	QualityGrade domain.QualityGrade
	OfferedPrice float64 // ₹/kg
	Quantity     float64 // kg
}

// Create opens a negotiation from a buyer's opening offer. The reference
// price is resolved, the band computed, and its fields frozen into the new
// record. Fails with ErrQuantityTooLow below the bulk minimum and
// ErrBelowFloorPrice when the opening offer undercuts the floor; nothing is
// stored on failure.
func (s *Service) Create(ctx context.Context, p CreateParams) (domain.Negotiation, error) {
	if p.BuyerID == "" || p.FarmerID == "" || p.ProductID == "" {
		return domain.Negotiation{}, fmt.Errorf("negotiation: create: buyer, farmer and product ids are required")
	}

	if p.Quantity < s.bulkMinimum {
		return domain.Negotiation{}, fmt.Errorf("negotiation: quantity %.2f kg below bulk minimum %.2f kg: %w",
			p.Quantity, s.bulkMinimum, domain.ErrQuantityTooLow)
	}

	ref := s.resolver.Resolve(ctx, p.Commodity, p.State, p.District)
	band := pricing.ComputeBand(ref, p.QualityGrade, s.now())

	if p.OfferedPrice < band.FloorPrice {
		return domain.Negotiation{}, fmt.Errorf("negotiation: opening offer ₹%.2f below floor ₹%.2f: %w",
			p.OfferedPrice, band.FloorPrice, domain.ErrBelowFloorPrice)
	}

	now := s.now()
	n := domain.Negotiation{
		ID:            uuid.NewString(),
		ProductID:     p.ProductID,
		BuyerID:       p.BuyerID,
		FarmerID:      p.FarmerID,
		InitialPrice:  p.OfferedPrice,
		OfferedPrice:  p.OfferedPrice,
		Quantity:      p.Quantity,
		Status:        domain.StatusPending,
		FloorPrice:    band.FloorPrice,
		TargetPrice:   band.TargetPrice,
		PriceSource:   band.PriceSource,
		PriceVerified: band.IsVerified,
		QualityGrade:  p.QualityGrade,
		CreatedAt:     now,
		LastUpdated:   now,
		Version:       1,
	}

	id, err := s.store.Insert(ctx, n)
	if err != nil {
		return domain.Negotiation{}, fmt.Errorf("negotiation: create: %w", err)
	}
	n.ID = id

	s.announce(ctx, "negotiation_created", n)
	return n, nil
}

// Counter records a counter-offer from either party. Buyer-authored prices
// are checked against the floor stored on the record; farmers may counter at
// any price, since the floor protects farmer income, not buyer spend.
// expectedVersion must match the stored version or the call fails with
// ErrStaleNegotiationState and no write occurs.
func (s *Service) Counter(ctx context.Context, id string, actor domain.ActorRole, expectedVersion int64, newPrice, newQuantity float64) (domain.Negotiation, error) {
	if !actor.Valid() {
		return domain.Negotiation{}, fmt.Errorf("negotiation: counter %s: role %q: %w", id, actor, domain.ErrInvalidActorRole)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if current.Status.IsTerminal() {
		return domain.Negotiation{}, fmt.Errorf("negotiation: counter %s: status %s: %w",
			id, current.Status, domain.ErrNegotiationClosed)
	}

	if newQuantity < s.bulkMinimum {
		return domain.Negotiation{}, fmt.Errorf("negotiation: quantity %.2f kg below bulk minimum %.2f kg: %w",
			newQuantity, s.bulkMinimum, domain.ErrQuantityTooLow)
	}

	patch := domain.NegotiationPatch{
		Quantity:    &newQuantity,
		LastUpdated: s.now(),
	}

	// The floor rule is deliberately asymmetric.
	switch actor {
	case domain.RoleBuyer:
		if newPrice < current.FloorPrice {
			return domain.Negotiation{}, fmt.Errorf("negotiation: buyer counter ₹%.2f below stored floor ₹%.2f: %w",
				newPrice, current.FloorPrice, domain.ErrBelowFloorPrice)
		}
		patch.Status = domain.StatusCounterByBuyer
		patch.OfferedPrice = &newPrice
	case domain.RoleFarmer:
		patch.Status = domain.StatusCounterByFarmer
		patch.CounterPrice = &newPrice
	}

	updated, err := s.store.UpdateIfVersion(ctx, id, expectedVersion, patch)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return domain.Negotiation{}, fmt.Errorf("negotiation: counter %s at version %d: %w",
				id, expectedVersion, domain.ErrStaleNegotiationState)
		}
		return domain.Negotiation{}, fmt.Errorf("negotiation: counter %s: %w", id, err)
	}
	updated.Status = domain.NormalizeStatus(updated.Status)

	s.announce(ctx, "negotiation_countered", updated)
	return updated, nil
}

// Respond closes a negotiation with an accept or reject decision. Allowed
// from any non-terminal state; terminal records are immutable.
func (s *Service) Respond(ctx context.Context, id string, expectedVersion int64, decision domain.Decision) (domain.Negotiation, error) {
	var status domain.NegotiationStatus
	switch decision {
	case domain.DecisionAccept:
		status = domain.StatusAccepted
	case domain.DecisionReject:
		status = domain.StatusRejected
	default:
		return domain.Negotiation{}, fmt.Errorf("negotiation: respond %s: decision %q: %w", id, decision, domain.ErrInvalidDecision)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if current.Status.IsTerminal() {
		return domain.Negotiation{}, fmt.Errorf("negotiation: respond %s: status %s: %w",
			id, current.Status, domain.ErrNegotiationClosed)
	}

	patch := domain.NegotiationPatch{
		Status:      status,
		LastUpdated: s.now(),
	}

	updated, err := s.store.UpdateIfVersion(ctx, id, expectedVersion, patch)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return domain.Negotiation{}, fmt.Errorf("negotiation: respond %s at version %d: %w",
				id, expectedVersion, domain.ErrStaleNegotiationState)
		}
		return domain.Negotiation{}, fmt.Errorf("negotiation: respond %s: %w", id, err)
	}
	updated.Status = domain.NormalizeStatus(updated.Status)

	s.announce(ctx, "negotiation_closed", updated)
	return updated, nil
}

// Get fetches a negotiation, normalizing any legacy status value on the way
// out. The legacy value is never written back.
func (s *Service) Get(ctx context.Context, id string) (domain.Negotiation, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Negotiation{}, fmt.Errorf("negotiation: %s: %w", id, domain.ErrNotFound)
		}
		return domain.Negotiation{}, fmt.Errorf("negotiation: get %s: %w", id, err)
	}
	n.Status = domain.NormalizeStatus(n.Status)
	return n, nil
}

// ListForParticipant returns a participant's negotiations, newest first.
func (s *Service) ListForParticipant(ctx context.Context, participantID string, role domain.ActorRole, opts domain.ListOpts) ([]domain.Negotiation, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("negotiation: list: role %q: %w", role, domain.ErrInvalidActorRole)
	}
	list, err := s.store.ListByParticipant(ctx, participantID, role, opts)
	if err != nil {
		return nil, fmt.Errorf("negotiation: list for %s: %w", participantID, err)
	}
	for i := range list {
		list[i].Status = domain.NormalizeStatus(list[i].Status)
	}
	return list, nil
}

// ClassifyOffer gives advisory feedback for a candidate price against the
// band frozen into the negotiation. Purely informational; the hard floor
// check happens in Counter.
func (s *Service) ClassifyOffer(ctx context.Context, id string, price float64) (domain.Classification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return domain.Classification{}, err
	}
	return pricing.Classify(price, n.FrozenBand()), nil
}

// PreviewBand resolves a live band for a lot that has no negotiation yet,
// for display while a buyer composes an opening offer.
func (s *Service) PreviewBand(ctx context.Context, commodity, state, district string, grade domain.QualityGrade) domain.PriceBand {
	ref := s.resolver.Resolve(ctx, commodity, state, district)
	return pricing.ComputeBand(ref, grade, s.now())
}

// Subscribe streams snapshots of the participant's negotiations: current
// records first, then live updates until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, participantID string, role domain.ActorRole) (<-chan domain.Negotiation, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("negotiation: subscribe: no feed configured")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("negotiation: subscribe: role %q: %w", role, domain.ErrInvalidActorRole)
	}
	ch, err := s.feed.Subscribe(ctx, participantID, role)
	if err != nil {
		return nil, fmt.Errorf("negotiation: subscribe %s: %w", participantID, err)
	}
	return ch, nil
}

// announce publishes the snapshot to the feed and appends an audit entry.
// Both are best-effort; a delivery failure never rolls back the write.
func (s *Service) announce(ctx context.Context, event string, n domain.Negotiation) {
	if s.feed != nil {
		if err := s.feed.Publish(ctx, n); err != nil {
			s.logger.WarnContext(ctx, "negotiation: feed publish failed",
				slog.String("negotiation_id", n.ID),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		detail := map[string]any{
			"negotiation_id": n.ID,
			"product_id":     n.ProductID,
			"status":         string(n.Status),
			"offered_price":  n.OfferedPrice,
			"floor_price":    n.FloorPrice,
			"version":        n.Version,
		}
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "negotiation: audit log failed",
				slog.String("negotiation_id", n.ID),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
