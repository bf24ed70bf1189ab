// Package pricing derives defensible floor/target price bands for produce
// lots from regional mandi price data and classifies candidate offers
// against them.
package pricing

import (
	"math"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

const (
	// kgPerQuintal converts mandi quotes (₹/quintal) to deal prices (₹/kg).
	kgPerQuintal = 100.0

	// logisticsDeduction is the fixed per-kg deduction covering transport
	// and handling between farm gate and mandi.
	logisticsDeduction = 1.5

	// targetMarkup places the suggested fair price 15% above the floor.
	targetMarkup = 1.15

	// stretchMarkup marks the boundary between a fair and a generous offer.
	stretchMarkup = 1.1
)

// GradeMultiplier returns the quality-tier scalar for a grade. Unknown
// grades fall back to grade B's multiplier rather than failing; grade X
// returns zero, which zeroes the floor and blocks negotiation outright.
func GradeMultiplier(grade domain.QualityGrade) float64 {
	switch grade {
	case domain.GradeA:
		return 1.0
	case domain.GradeB:
		return 0.90
	case domain.GradeC:
		return 0.80
	case domain.GradeX:
		return 0.0
	default:
		return 0.90
	}
}

// Round2 rounds to two decimal places, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeBand derives the floor/target/stretch band for a resolved reference
// price and quality grade. Pure and deterministic; all outputs in ₹/kg,
// rounded to two decimals.
func ComputeBand(ref domain.ResolvedPrice, grade domain.QualityGrade, now time.Time) domain.PriceBand {
	mult := GradeMultiplier(grade)

	floor := Round2(math.Max(0, ref.Price/kgPerQuintal*mult-logisticsDeduction))
	target := Round2(floor * targetMarkup)
	stretch := Round2(target * stretchMarkup)

	return domain.PriceBand{
		FloorPrice:         floor,
		TargetPrice:        target,
		StretchPrice:       stretch,
		BaseReferencePrice: ref.Price,
		QualityFactor:      mult,
		IsVerified:         ref.Verified,
		PriceSource:        ref.Source,
		ComputedAt:         now,
	}
}
