package domain

import "time"

// QualityGrade is the produce quality tier assigned at listing time.
type QualityGrade string

const (
	GradeA QualityGrade = "A"
	GradeB QualityGrade = "B"
	GradeC QualityGrade = "C"
	// GradeX marks a listing that failed quality screening. Its multiplier
	// is zero, which forces the floor to zero and makes the listing
	// non-negotiable at any positive price.
	GradeX QualityGrade = "X"
)

// PriceBand is the derived {floor, target, stretch} triple for a listing,
// in ₹/kg. A band is computed on demand for display, and frozen into each
// negotiation at creation so later market-data changes cannot move an
// active deal's floor.
type PriceBand struct {
	FloorPrice         float64
	TargetPrice        float64
	StretchPrice       float64
	BaseReferencePrice float64 // ₹/quintal, as resolved
	QualityFactor      float64
	IsVerified         bool
	PriceSource        string
	ComputedAt         time.Time
}

// ResolvedPrice is the best-available regional reference price signal
// produced by the resolver fallback chain. Price is in ₹/quintal.
type ResolvedPrice struct {
	Price    float64
	Verified bool
	Source   string
}

// OfferBand classifies a candidate offer price against a PriceBand.
type OfferBand string

const (
	OfferInvalid OfferBand = "INVALID"
	OfferLow     OfferBand = "LOW"
	OfferFair    OfferBand = "FAIR"
	OfferHigh    OfferBand = "HIGH"
)

// Classification is the advisory feedback shown to a user composing an offer.
type Classification struct {
	Band    OfferBand `json:"band"`
	Message string    `json:"message"`
}

// BandSummary is the outward-facing view of a price band.
type BandSummary struct {
	FloorPrice   float64 `json:"floor_price"`
	TargetPrice  float64 `json:"target_price"`
	StretchPrice float64 `json:"stretch_price"`
	IsVerified   bool    `json:"is_verified"`
	PriceSource  string  `json:"price_source"`
}

// Summary returns the display summary for the band.
func (b PriceBand) Summary() BandSummary {
	return BandSummary{
		FloorPrice:   b.FloorPrice,
		TargetPrice:  b.TargetPrice,
		StretchPrice: b.StretchPrice,
		IsVerified:   b.IsVerified,
		PriceSource:  b.PriceSource,
	}
}
