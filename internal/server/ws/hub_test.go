package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// stubBus implements domain.SignalBus with a canned closed-deal stream.
type stubBus struct {
	stream     []domain.StreamMessage
	lastStream string
	lastCount  int
	err        error
}

func (b *stubBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *stubBus) SubscribePattern(ctx context.Context, pattern string) (<-chan domain.BusMessage, error) {
	return nil, nil
}

func (b *stubBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *stubBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.lastStream = stream
	b.lastCount = count
	return b.stream, b.err
}

func hubLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closedPayload(t *testing.T, id, buyerID, farmerID string) []byte {
	t.Helper()
	data, err := json.Marshal(domain.Negotiation{
		ID: id, BuyerID: buyerID, FarmerID: farmerID, Status: domain.StatusAccepted,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestRecentClosedEvents(t *testing.T) {
	bus := &stubBus{stream: []domain.StreamMessage{
		{ID: "1-0", Payload: closedPayload(t, "n1", "b1", "f1")},
		{ID: "2-0", Payload: []byte("not json")},
		{ID: "3-0", Payload: closedPayload(t, "n2", "b2", "f2")},
	}}
	h := NewHub(bus, nil, hubLogger(), Config{})

	events, err := h.recentClosedEvents(context.Background())
	if err != nil {
		t.Fatalf("recentClosedEvents: %v", err)
	}

	if bus.lastStream != domain.ClosedNegotiationStream {
		t.Errorf("stream = %q, want %q", bus.lastStream, domain.ClosedNegotiationStream)
	}
	if bus.lastCount != replayCount {
		t.Errorf("count = %d, want %d", bus.lastCount, replayCount)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (undecodable entry skipped)", len(events))
	}
	if events[0].buyerChannel != "negotiations:buyer:b1" || events[0].farmerChannel != "negotiations:farmer:f1" {
		t.Errorf("event channels = %q / %q", events[0].buyerChannel, events[0].farmerChannel)
	}
}

func TestReplayClosed_FiltersBySubscription(t *testing.T) {
	bus := &stubBus{stream: []domain.StreamMessage{
		{ID: "1-0", Payload: closedPayload(t, "n1", "b1", "f1")},
		{ID: "2-0", Payload: closedPayload(t, "n2", "b9", "f9")},
	}}
	h := NewHub(bus, nil, hubLogger(), Config{})

	dashboard := &client{
		hub:  h,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"negotiations:buyer:*": true},
	}
	h.replayClosed(context.Background(), dashboard)
	if got := len(dashboard.send); got != 2 {
		t.Errorf("wildcard subscriber deliveries = %d, want 2", got)
	}

	pricesOnly := &client{
		hub:  h,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"prices": true},
	}
	h.replayClosed(context.Background(), pricesOnly)
	if got := len(pricesOnly.send); got != 0 {
		t.Errorf("prices-only subscriber deliveries = %d, want 0", got)
	}
}

func TestPumpNegotiations_ForwardsFeed(t *testing.T) {
	h := NewHub(&stubBus{}, nil, hubLogger(), Config{})
	c := &client{
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
		subs:   map[string]bool{},
		cancel: func() {},
	}
	h.clients[c] = true

	feed := make(chan domain.Negotiation, 2)
	feed <- domain.Negotiation{ID: "n1", Status: domain.StatusPending}
	feed <- domain.Negotiation{ID: "n2", Status: domain.StatusAccepted}
	close(feed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.pumpNegotiations(context.Background(), feed)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop when the feed closed")
	}

	if got := len(c.send); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
	var first domain.Negotiation
	if err := json.Unmarshal(<-c.send, &first); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if first.ID != "n1" {
		t.Errorf("first frame id = %q, want n1", first.ID)
	}
}

func TestPumpNegotiations_StopsWhenClientGone(t *testing.T) {
	h := NewHub(&stubBus{}, nil, hubLogger(), Config{})
	c := &client{
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
		subs:   map[string]bool{},
		cancel: func() {},
	}
	// Never registered, so the first delivery attempt reports the client
	// gone and the pump exits without blocking on the feed.

	feed := make(chan domain.Negotiation, 1)
	feed <- domain.Negotiation{ID: "n1"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.pumpNegotiations(context.Background(), feed)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop for an unregistered client")
	}
	if got := len(c.send); got != 0 {
		t.Errorf("frames = %d, want 0", got)
	}
}
