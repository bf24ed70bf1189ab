package domain

import (
	"strings"
	"time"
)

// MarketPriceRecord is a single mandi price quote as ingested from the
// external price feed. Prices are quoted in ₹ per quintal (100 kg).
//
// Records are keyed by (state, district, market, commodity) so repeated
// ingestion of the same quote overwrites rather than duplicates. The
// negotiation core treats records as read-only.
type MarketPriceRecord struct {
	State       string
	District    string
	Market      string
	Commodity   string
	Variety     string
	Grade       string
	MinPrice    float64
	MaxPrice    float64
	ModalPrice  float64
	ReportDate  time.Time
	Source      string
	IsVerified  bool
	LastUpdated time.Time
}

// Key returns the deterministic composite key for the record.
func (r MarketPriceRecord) Key() string {
	return strings.Join([]string{
		NormalizeName(r.State),
		NormalizeName(r.District),
		NormalizeName(r.Market),
		NormalizeName(r.Commodity),
	}, "|")
}

// NormalizeName canonicalises free-text region and commodity names for
// matching: trimmed, lower-cased, inner whitespace collapsed.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
