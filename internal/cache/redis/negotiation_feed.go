package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// feedChannel names the Pub/Sub channel carrying snapshots for one
// participant in one role.
func feedChannel(role domain.ActorRole, participantID string) string {
	return fmt.Sprintf("negotiations:%s:%s", role, participantID)
}

// NegotiationFeed implements domain.NegotiationFeed over the signal bus.
// Each published negotiation is fanned out to both participants' channels,
// terminal negotiations are additionally appended to the durable closed-deal
// stream, and Subscribe replays the participant's stored negotiations before
// switching to live updates.
type NegotiationFeed struct {
	bus    domain.SignalBus
	store  domain.NegotiationStore
	logger *slog.Logger
}

// NewNegotiationFeed creates a feed bridging the given bus and store.
func NewNegotiationFeed(bus domain.SignalBus, store domain.NegotiationStore, logger *slog.Logger) *NegotiationFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &NegotiationFeed{
		bus:    bus,
		store:  store,
		logger: logger.With("component", "negotiation_feed"),
	}
}

// Publish serializes the negotiation and sends it to the buyer's and the
// farmer's channels. A failure on one channel does not prevent delivery to
// the other. Terminal negotiations are also appended to the closed-deal
// stream so late subscribers can replay recent outcomes.
func (f *NegotiationFeed) Publish(ctx context.Context, n domain.Negotiation) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis: marshal negotiation %s: %w", n.ID, err)
	}

	var firstErr error
	targets := []string{
		feedChannel(domain.RoleBuyer, n.BuyerID),
		feedChannel(domain.RoleFarmer, n.FarmerID),
	}
	for _, ch := range targets {
		if err := f.bus.Publish(ctx, ch, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			f.logger.Warn("feed publish failed", "channel", ch, "negotiation_id", n.ID, "error", err)
		}
	}

	if n.Status.IsTerminal() {
		if err := f.bus.StreamAppend(ctx, domain.ClosedNegotiationStream, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			f.logger.Warn("closed-deal stream append failed", "negotiation_id", n.ID, "error", err)
		}
	}

	return firstErr
}

// Subscribe returns a channel that first yields the participant's current
// negotiations from the store, then live updates from the bus. The channel
// closes when ctx is cancelled.
func (f *NegotiationFeed) Subscribe(ctx context.Context, participantID string, role domain.ActorRole) (<-chan domain.Negotiation, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("redis: subscribe feed: %w", domain.ErrInvalidActorRole)
	}

	// Subscribe before the snapshot read so updates racing the replay are
	// not lost; duplicates are acceptable, gaps are not.
	live, err := f.bus.Subscribe(ctx, feedChannel(role, participantID))
	if err != nil {
		return nil, err
	}

	snapshot, err := f.store.ListByParticipant(ctx, participantID, role, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("redis: feed snapshot for %s: %w", participantID, err)
	}

	out := make(chan domain.Negotiation, 16)
	go func() {
		defer close(out)

		for _, n := range snapshot {
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-live:
				if !ok {
					return
				}
				var n domain.Negotiation
				if err := json.Unmarshal(payload, &n); err != nil {
					f.logger.Warn("feed decode failed", "participant_id", participantID, "error", err)
					continue
				}
				n.Status = domain.NormalizeStatus(n.Status)
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var _ domain.NegotiationFeed = (*NegotiationFeed)(nil)
