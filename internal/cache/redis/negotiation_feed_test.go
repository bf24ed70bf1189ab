package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// fakeBus implements domain.SignalBus in memory and records the order of
// calls so subscription ordering guarantees can be asserted.
type fakeBus struct {
	calls     []string
	published map[string][][]byte
	appended  map[string][][]byte
	live      chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: map[string][][]byte{},
		appended:  map[string][][]byte{},
		live:      make(chan []byte, 8),
	}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.calls = append(b.calls, "publish:"+channel)
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.calls = append(b.calls, "subscribe:"+channel)
	return b.live, nil
}

func (b *fakeBus) SubscribePattern(ctx context.Context, pattern string) (<-chan domain.BusMessage, error) {
	b.calls = append(b.calls, "psubscribe:"+pattern)
	return nil, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.calls = append(b.calls, "append:"+stream)
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// participantStore returns canned negotiations and logs the snapshot read
// into the shared call log.
type participantStore struct {
	domain.NegotiationStore
	bus     *fakeBus
	records []domain.Negotiation
}

func (s *participantStore) ListByParticipant(ctx context.Context, participantID string, role domain.ActorRole, opts domain.ListOpts) ([]domain.Negotiation, error) {
	s.bus.calls = append(s.bus.calls, "snapshot:"+participantID)
	return s.records, nil
}

func feedLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvNegotiation(t *testing.T, ch <-chan domain.Negotiation) domain.Negotiation {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("feed channel closed early")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed delivery")
	}
	return domain.Negotiation{}
}

func waitClosed(t *testing.T, ch <-chan domain.Negotiation) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("feed channel did not close")
		}
	}
}

func TestFeedSubscribe_SnapshotThenLive(t *testing.T) {
	bus := newFakeBus()
	store := &participantStore{
		bus: bus,
		records: []domain.Negotiation{
			{ID: "n1", BuyerID: "b1", FarmerID: "f1", Status: domain.StatusPending},
			{ID: "n2", BuyerID: "b1", FarmerID: "f2", Status: domain.StatusCounterByBuyer},
		},
	}
	feed := NewNegotiationFeed(bus, store, feedLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := feed.Subscribe(ctx, "b1", domain.RoleBuyer)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// The live subscription must be in place before the snapshot read so a
	// racing update is duplicated rather than lost.
	if len(bus.calls) < 2 || bus.calls[0] != "subscribe:negotiations:buyer:b1" || bus.calls[1] != "snapshot:b1" {
		t.Fatalf("call order = %v, want subscribe before snapshot", bus.calls)
	}

	if got := recvNegotiation(t, out); got.ID != "n1" {
		t.Errorf("first delivery = %q, want snapshot n1", got.ID)
	}
	if got := recvNegotiation(t, out); got.ID != "n2" {
		t.Errorf("second delivery = %q, want snapshot n2", got.ID)
	}

	payload, err := json.Marshal(domain.Negotiation{ID: "n3", BuyerID: "b1", Status: "countered"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	bus.live <- payload

	got := recvNegotiation(t, out)
	if got.ID != "n3" {
		t.Errorf("live delivery = %q, want n3", got.ID)
	}
	if got.Status != domain.StatusCounterByFarmer {
		t.Errorf("live status = %q, want legacy value normalized to %q", got.Status, domain.StatusCounterByFarmer)
	}
}

func TestFeedSubscribe_ClosesOnCancel(t *testing.T) {
	bus := newFakeBus()
	feed := NewNegotiationFeed(bus, &participantStore{bus: bus}, feedLogger())

	ctx, cancel := context.WithCancel(context.Background())
	out, err := feed.Subscribe(ctx, "f7", domain.RoleFarmer)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()
	waitClosed(t, out)
}

func TestFeedSubscribe_InvalidRole(t *testing.T) {
	bus := newFakeBus()
	feed := NewNegotiationFeed(bus, &participantStore{bus: bus}, feedLogger())

	if _, err := feed.Subscribe(context.Background(), "x1", domain.ActorRole("broker")); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestFeedPublish_FanOutAndClosedStream(t *testing.T) {
	bus := newFakeBus()
	feed := NewNegotiationFeed(bus, &participantStore{bus: bus}, feedLogger())

	closed := domain.Negotiation{ID: "n9", BuyerID: "b1", FarmerID: "f1", Status: domain.StatusAccepted}
	if err := feed.Publish(context.Background(), closed); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := len(bus.published["negotiations:buyer:b1"]); got != 1 {
		t.Errorf("buyer channel deliveries = %d, want 1", got)
	}
	if got := len(bus.published["negotiations:farmer:f1"]); got != 1 {
		t.Errorf("farmer channel deliveries = %d, want 1", got)
	}
	if got := len(bus.appended[domain.ClosedNegotiationStream]); got != 1 {
		t.Fatalf("closed stream appends = %d, want 1", got)
	}

	var streamed domain.Negotiation
	if err := json.Unmarshal(bus.appended[domain.ClosedNegotiationStream][0], &streamed); err != nil {
		t.Fatalf("decode streamed payload: %v", err)
	}
	if streamed.ID != "n9" {
		t.Errorf("streamed id = %q, want n9", streamed.ID)
	}
}

func TestFeedPublish_OpenNegotiationSkipsStream(t *testing.T) {
	bus := newFakeBus()
	feed := NewNegotiationFeed(bus, &participantStore{bus: bus}, feedLogger())

	open := domain.Negotiation{ID: "n4", BuyerID: "b2", FarmerID: "f2", Status: domain.StatusCounterByFarmer}
	if err := feed.Publish(context.Background(), open); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := len(bus.appended[domain.ClosedNegotiationStream]); got != 0 {
		t.Errorf("closed stream appends = %d, want 0 for open negotiation", got)
	}
}
