package domain

import (
	"context"
	"time"
)

// ReferencePriceCache memoises resolver results so a burst of band previews
// for the same (commodity, state, district) does not hammer the price store.
// Implementations return ErrNotFound on a miss.
type ReferencePriceCache interface {
	Get(ctx context.Context, commodity, state, district string) (ResolvedPrice, error)
	Set(ctx context.Context, commodity, state, district string, price ResolvedPrice, ttl time.Duration) error
}

// RateLimiter applies a sliding-window request limit per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks, used to keep price ingestion
// single-flight across instances.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned unlock
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one durable message read from a bus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusMessage is one pub/sub message together with the concrete channel it
// arrived on, which matters for pattern subscriptions.
type BusMessage struct {
	Channel string
	Payload []byte
}

// ClosedNegotiationStream is the durable stream that records every
// negotiation reaching a terminal state. New dashboard connections replay
// it to backfill recent deal outcomes.
const ClosedNegotiationStream = "negotiations:closed"

// SignalBus is the pub/sub backbone for negotiation and price events.
// Publish/Subscribe are ephemeral; StreamAppend/StreamRead back the durable
// closed-deal history.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// SubscribePattern subscribes to a glob-style channel pattern; delivered
	// messages carry the concrete channel name.
	SubscribePattern(ctx context.Context, pattern string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
