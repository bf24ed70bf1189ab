package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// fakePriceStore is a MarketPriceStore stub for resolver tests. Only
// ListByRegion is exercised by the resolver.
type fakePriceStore struct {
	records []domain.MarketPriceRecord
	err     error
	delay   time.Duration

	gotState    string
	gotDistrict string
	gotLimit    int
}

func (f *fakePriceStore) ListByRegion(ctx context.Context, state, district string, limit int) ([]domain.MarketPriceRecord, error) {
	f.gotState, f.gotDistrict, f.gotLimit = state, district, limit
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakePriceStore) Upsert(context.Context, domain.MarketPriceRecord) error   { return nil }
func (f *fakePriceStore) UpsertBatch(context.Context, []domain.MarketPriceRecord) error { return nil }
func (f *fakePriceStore) GetByKey(context.Context, string, string, string, string) (domain.MarketPriceRecord, error) {
	return domain.MarketPriceRecord{}, domain.ErrNotFound
}
func (f *fakePriceStore) ListBefore(context.Context, time.Time) ([]domain.MarketPriceRecord, error) {
	return nil, nil
}
func (f *fakePriceStore) Count(context.Context) (int64, error) { return int64(len(f.records)), nil }

type fakeRefCache struct {
	hit  *domain.ResolvedPrice
	sets int
	last domain.ResolvedPrice
}

func (c *fakeRefCache) Get(ctx context.Context, commodity, state, district string) (domain.ResolvedPrice, error) {
	if c.hit != nil {
		return *c.hit, nil
	}
	return domain.ResolvedPrice{}, domain.ErrNotFound
}

func (c *fakeRefCache) Set(ctx context.Context, commodity, state, district string, price domain.ResolvedPrice, ttl time.Duration) error {
	c.sets++
	c.last = price
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTable(t *testing.T) *StateAverageTable {
	t.Helper()
	table, err := LoadStateAverages([]byte(testAverages))
	if err != nil {
		t.Fatalf("LoadStateAverages: %v", err)
	}
	return table
}

func TestResolver_RegionalMatch(t *testing.T) {
	store := &fakePriceStore{records: []domain.MarketPriceRecord{
		{State: "Punjab", District: "Ludhiana", Market: "Khanna", Commodity: "Paddy", ModalPrice: 3100, IsVerified: true},
		{State: "Punjab", District: "Ludhiana", Market: "Ludhiana", Commodity: "Wheat Dara", ModalPrice: 3200, IsVerified: true},
	}}

	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())
	got := r.Resolve(context.Background(), "  WhEaT ", " PUNJAB ", "Ludhiana")

	if got.Price != 3200 {
		t.Errorf("price = %v, want 3200", got.Price)
	}
	if !got.Verified {
		t.Error("verified = false, want true for a verified mandi record")
	}
	if got.Source != "mandi:Ludhiana" {
		t.Errorf("source = %q, want mandi:Ludhiana", got.Source)
	}

	// Inputs must reach the store normalized, with the candidate bound.
	if store.gotState != "punjab" || store.gotDistrict != "ludhiana" {
		t.Errorf("store saw (%q, %q), want normalized region", store.gotState, store.gotDistrict)
	}
	if store.gotLimit != defaultCandidateLimit {
		t.Errorf("store saw limit %d, want %d", store.gotLimit, defaultCandidateLimit)
	}
}

func TestResolver_SubstringMatchesBothDirections(t *testing.T) {
	store := &fakePriceStore{records: []domain.MarketPriceRecord{
		{Market: "Khanna", Commodity: "Tomato", ModalPrice: 1600},
	}}
	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())

	// Query longer than the record's commodity name still matches.
	got := r.Resolve(context.Background(), "tomato hybrid", "punjab", "ludhiana")
	if got.Price != 1600 {
		t.Errorf("price = %v, want 1600", got.Price)
	}
}

func TestResolver_StateAverageFallback(t *testing.T) {
	store := &fakePriceStore{} // no regional records
	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())

	got := r.Resolve(context.Background(), "wheat", "punjab", "ludhiana")
	if got.Price != 2425 {
		t.Errorf("price = %v, want 2425 from the state table", got.Price)
	}
	if got.Verified {
		t.Error("state-average prices must be unverified")
	}
	if got.Source != "state_average:punjab" {
		t.Errorf("source = %q", got.Source)
	}
}

func TestResolver_NationalBaseline(t *testing.T) {
	store := &fakePriceStore{}
	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())

	got := r.Resolve(context.Background(), "wheat", "atlantis", "nowhere")
	if got.Price != defaultNationalPrice {
		t.Errorf("price = %v, want %v", got.Price, defaultNationalPrice)
	}
	if got.Verified {
		t.Error("national baseline must be unverified")
	}
	if got.Source != "national_baseline" {
		t.Errorf("source = %q, want national_baseline", got.Source)
	}
}

func TestResolver_StoreErrorSkipsToBaseline(t *testing.T) {
	// Even though the state table knows punjab, a failed remote lookup must
	// degrade straight to the national baseline.
	store := &fakePriceStore{err: errors.New("connection refused")}
	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())

	got := r.Resolve(context.Background(), "wheat", "punjab", "ludhiana")
	if got.Source != "national_baseline" {
		t.Errorf("source = %q, want national_baseline after store error", got.Source)
	}
}

func TestResolver_TimeoutSkipsToBaseline(t *testing.T) {
	store := &fakePriceStore{
		delay:   500 * time.Millisecond,
		records: []domain.MarketPriceRecord{{Commodity: "wheat", ModalPrice: 3200}},
	}
	r := NewResolver(store, testTable(t), nil, ResolverConfig{LookupTimeout: 10 * time.Millisecond}, testLogger())

	start := time.Now()
	got := r.Resolve(context.Background(), "wheat", "punjab", "ludhiana")
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("resolve took %v, timeout not applied", elapsed)
	}
	if got.Source != "national_baseline" {
		t.Errorf("source = %q, want national_baseline after timeout", got.Source)
	}
}

func TestResolver_CallerDisconnect(t *testing.T) {
	store := &fakePriceStore{delay: time.Second}
	r := NewResolver(store, testTable(t), nil, ResolverConfig{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.Resolve(ctx, "wheat", "punjab", "ludhiana")
	if got.Source != "national_baseline" {
		t.Errorf("source = %q, want national_baseline on cancelled context", got.Source)
	}
}

func TestResolver_Cache(t *testing.T) {
	t.Run("hit short-circuits the chain", func(t *testing.T) {
		cache := &fakeRefCache{hit: &domain.ResolvedPrice{Price: 2800, Verified: true, Source: "mandi:cached"}}
		store := &fakePriceStore{err: errors.New("must not be called")}
		r := NewResolver(store, testTable(t), cache, ResolverConfig{}, testLogger())

		got := r.Resolve(context.Background(), "wheat", "punjab", "ludhiana")
		if got.Price != 2800 || got.Source != "mandi:cached" {
			t.Errorf("got %+v, want cached price", got)
		}
		if store.gotLimit != 0 {
			t.Error("store was consulted despite a cache hit")
		}
	})

	t.Run("miss populates the cache", func(t *testing.T) {
		cache := &fakeRefCache{}
		store := &fakePriceStore{records: []domain.MarketPriceRecord{
			{Market: "Khanna", Commodity: "Wheat", ModalPrice: 3200, IsVerified: true},
		}}
		r := NewResolver(store, testTable(t), cache, ResolverConfig{}, testLogger())

		got := r.Resolve(context.Background(), "wheat", "punjab", "ludhiana")
		if cache.sets != 1 {
			t.Fatalf("cache sets = %d, want 1", cache.sets)
		}
		if cache.last != got {
			t.Errorf("cached %+v, returned %+v", cache.last, got)
		}
	})
}
