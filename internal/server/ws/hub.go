package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/khetibazaar/mandicore/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayCount caps how many closed-deal stream entries are replayed to a
	// newly connected dashboard client.
	replayCount = 50
)

// defaultChannels are the Redis pub/sub channels that the hub subscribes to.
// Negotiation snapshots are published per participant, so wildcards are used
// to cover all of them.
var defaultChannels = []string{
	"negotiations:buyer:*",
	"negotiations:farmer:*",
	"prices",
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// NegotiationSubscriber streams a participant's negotiations: the current
// records first, then live updates until the context is cancelled. Satisfied
// by the negotiation service.
type NegotiationSubscriber interface {
	Subscribe(ctx context.Context, participantID string, role domain.ActorRole) (<-chan domain.Negotiation, error)
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]bool // subscribed channels
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage its channel
// subscriptions, e.g. {"action":"subscribe","channels":["negotiations:buyer:b1"]}.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the Redis signal bus to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	subscriber NegotiationSubscriber
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures runtime metadata used in hub status snapshots sent to
// WebSocket clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a new WebSocket hub that bridges a Redis SignalBus to
// connected WebSocket clients. subscriber may be nil, in which case clients
// with an identity fall back to plain bus channel subscriptions.
func NewHub(bus domain.SignalBus, subscriber NegotiationSubscriber, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		subscriber: subscriber,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and message broadcasting.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	// Start background subscriptions to Redis channels.
	for _, ch := range defaultChannels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel subscribes to a single Redis pub/sub channel (or
// pattern) and forwards received messages to the hub's broadcast channel.
// Pattern subscriptions tag each message with the concrete channel it
// arrived on so per-participant routing works.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	if strings.ContainsRune(channel, '*') {
		msgCh, err := h.bus.SubscribePattern(ctx, channel)
		if err != nil {
			h.logger.Error("ws: failed to subscribe to pattern",
				slog.String("pattern", channel),
				slog.String("error", err.Error()),
			)
			return
		}

		h.logger.Info("ws: subscribed to pattern", slog.String("pattern", channel))

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					h.logger.Warn("ws: pattern subscription closed",
						slog.String("pattern", channel),
					)
					return
				}
				h.broadcast <- broadcastMsg{
					channel: msg.Channel,
					data:    msg.Payload,
				}
			}
		}
	}

	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			h.broadcast <- broadcastMsg{
				channel: channel,
				data:    data,
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. A client that passes participant_id and role
// query parameters gets a personal negotiation feed: its stored negotiations
// replayed first, then live updates. Anonymous clients subscribe to every
// channel the hub carries and get recent closed deals replayed from the
// durable stream.
// GET /ws?participant_id=...&role=buyer
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]bool),
		cancel: cancel,
	}

	var personal <-chan domain.Negotiation

	q := r.URL.Query()
	participantID := q.Get("participant_id")
	role := domain.ActorRole(q.Get("role"))
	switch {
	case participantID != "" && role.Valid() && h.subscriber != nil:
		// The personal feed carries this participant's negotiations, so only
		// the price channel rides the broadcast path.
		ch, err := h.subscriber.Subscribe(connCtx, participantID, role)
		if err != nil {
			h.logger.Error("ws: personal feed subscribe failed",
				slog.String("participant_id", participantID),
				slog.String("error", err.Error()),
			)
			cancel()
			conn.Close()
			return
		}
		personal = ch
		c.subs["prices"] = true

	case participantID != "" && role.Valid():
		c.subs["negotiations:"+string(role)+":"+participantID] = true
		c.subs["prices"] = true

	default:
		// No identity given; subscribe to everything the hub carries.
		for _, ch := range defaultChannels {
			c.subs[ch] = true
		}
	}

	h.register <- c
	c.sendInitialStatus()

	if personal == nil {
		h.replayClosed(r.Context(), c)
	}

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
	if personal != nil {
		go c.pumpNegotiations(connCtx, personal)
	}
}

// replayClosed backfills recent closed-deal outcomes from the durable stream
// for channels the client is subscribed to. Replay failures are logged and
// the connection continues with live messages only.
func (h *Hub) replayClosed(ctx context.Context, c *client) {
	events, err := h.recentClosedEvents(ctx)
	if err != nil {
		h.logger.Warn("ws: closed-deal replay failed", slog.String("error", err.Error()))
		return
	}
	for _, ev := range events {
		if c.isSubscribed(ev.buyerChannel) || c.isSubscribed(ev.farmerChannel) {
			select {
			case c.send <- ev.payload:
			default:
			}
		}
	}
}

// closedEvent is one replayable closed-deal record together with the two
// participant channels it would have been published on.
type closedEvent struct {
	buyerChannel  string
	farmerChannel string
	payload       []byte
}

// recentClosedEvents reads the tail of the closed-deal stream and resolves
// each entry to its participant channels. Entries that do not decode as
// negotiations are skipped.
func (h *Hub) recentClosedEvents(ctx context.Context) ([]closedEvent, error) {
	msgs, err := h.bus.StreamRead(ctx, domain.ClosedNegotiationStream, "0", replayCount)
	if err != nil {
		return nil, err
	}

	events := make([]closedEvent, 0, len(msgs))
	for _, msg := range msgs {
		var n domain.Negotiation
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			continue
		}
		events = append(events, closedEvent{
			buyerChannel:  "negotiations:buyer:" + n.BuyerID,
			farmerChannel: "negotiations:farmer:" + n.FarmerID,
			payload:       msg.Payload,
		})
	}
	return events, nil
}

// deliver enqueues a message for the client if it is still registered. The
// membership check is done under the hub lock so the send channel cannot be
// closed out from under the send. Returns false once the client is gone.
func (h *Hub) deliver(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("ws: dropping message for slow client")
	}
	return true
}

// pumpNegotiations forwards the personal negotiation feed to the client as
// JSON text frames. It exits when the feed closes, the context is cancelled,
// or the client unregisters.
func (c *client) pumpNegotiations(ctx context.Context, feed <-chan domain.Negotiation) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-feed:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				c.hub.logger.Warn("ws: marshal negotiation failed",
					slog.String("negotiation_id", n.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !c.hub.deliver(c, data) {
				return
			}
		}
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		c.cancel()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendInitialStatus pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no negotiation events are flowing
// yet.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "server_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Direct match.
	if c.subs[channel] {
		return true
	}

	// Wildcard match: "negotiations:buyer:*" matches "negotiations:buyer:b1".
	for sub := range c.subs {
		if len(sub) > 0 && sub[len(sub)-1] == '*' {
			prefix := sub[:len(sub)-1]
			if len(channel) >= len(prefix) && channel[:len(prefix)] == prefix {
				return true
			}
		}
	}

	return false
}

// writePump pumps messages from the hub to the WebSocket connection. It
// sends JSON text frames for data messages and periodic ping frames for
// keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
