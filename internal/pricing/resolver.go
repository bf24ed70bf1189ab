package pricing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

const (
	defaultLookupTimeout  = 2 * time.Second
	defaultCandidateLimit = 20
	defaultNationalPrice  = 2500.0 // ₹/quintal
	defaultCacheTTL       = 15 * time.Minute
)

// ResolverConfig tunes the fallback chain. Zero values take the package
// defaults.
type ResolverConfig struct {
	// LookupTimeout bounds the regional price-store read.
	LookupTimeout time.Duration

	// CandidateLimit caps how many regional records are scanned for a
	// commodity match.
	CandidateLimit int

	// NationalBaseline is the hardcoded last-resort price in ₹/quintal.
	NationalBaseline float64

	// CacheTTL is how long resolved prices stay in the reference cache.
	CacheTTL time.Duration
}

// Resolver turns (commodity, state, district) into the best-available
// reference price through a bounded fallback chain: regional mandi records,
// then the state-average table, then a national baseline. It never fails;
// missing data only degrades the confidence of the answer.
type Resolver struct {
	prices domain.MarketPriceStore
	table  *StateAverageTable
	cache  domain.ReferencePriceCache // optional; nil disables caching
	cfg    ResolverConfig
	logger *slog.Logger
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(
	prices domain.MarketPriceStore,
	table *StateAverageTable,
	cache domain.ReferencePriceCache,
	cfg ResolverConfig,
	logger *slog.Logger,
) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	if cfg.NationalBaseline <= 0 {
		cfg.NationalBaseline = defaultNationalPrice
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Resolver{
		prices: prices,
		table:  table,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// Resolve returns a reference price for the commodity in the given region.
// Inputs are free text in arbitrary casing; they are normalized before
// matching. A store error or timeout on the regional lookup degrades
// straight to the national baseline rather than surfacing to the caller.
func (r *Resolver) Resolve(ctx context.Context, commodity, state, district string) domain.ResolvedPrice {
	commodity = domain.NormalizeName(commodity)
	state = domain.NormalizeName(state)
	district = domain.NormalizeName(district)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, commodity, state, district); err == nil {
			return cached
		}
	}

	resolved, degraded := r.resolveRegional(ctx, commodity, state, district)
	if degraded {
		// Remote failure: skip the static table, answer with the baseline.
		return r.national()
	}
	if resolved == nil {
		if price, source, ok := r.table.Lookup(state, commodity); ok {
			resolved = &domain.ResolvedPrice{Price: price, Verified: false, Source: source}
		}
	}
	if resolved == nil {
		return r.national()
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, commodity, state, district, *resolved, r.cfg.CacheTTL); err != nil {
			r.logger.DebugContext(ctx, "resolver: cache set failed",
				slog.String("commodity", commodity),
				slog.String("error", err.Error()),
			)
		}
	}
	return *resolved
}

// resolveRegional scans the freshest regional records for a commodity name
// overlap. degraded is true when the store read failed or timed out, in
// which case the chain must not trust the static table either and goes
// straight to the national baseline.
func (r *Resolver) resolveRegional(ctx context.Context, commodity, state, district string) (match *domain.ResolvedPrice, degraded bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	records, err := r.prices.ListByRegion(lookupCtx, state, district, r.cfg.CandidateLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "resolver: regional lookup failed, using national baseline",
			slog.String("state", state),
			slog.String("district", district),
			slog.String("error", err.Error()),
		)
		return nil, true
	}

	for _, rec := range records {
		name := domain.NormalizeName(rec.Commodity)
		if name == "" || commodity == "" {
			continue
		}
		if strings.Contains(name, commodity) || strings.Contains(commodity, name) {
			return &domain.ResolvedPrice{
				Price:    rec.ModalPrice,
				Verified: rec.IsVerified,
				Source:   "mandi:" + rec.Market,
			}, false
		}
	}
	return nil, false
}

func (r *Resolver) national() domain.ResolvedPrice {
	return domain.ResolvedPrice{
		Price:    r.cfg.NationalBaseline,
		Verified: false,
		Source:   "national_baseline",
	}
}
