package pricing

import (
	"testing"
	"time"

	"github.com/khetibazaar/mandicore/internal/domain"
)

func exampleBand(t *testing.T) domain.PriceBand {
	t.Helper()
	// Modal 3200 ₹/quintal, grade B: floor 27.3, target 31.4, stretch 34.54.
	return ComputeBand(domain.ResolvedPrice{Price: 3200}, domain.GradeB, time.Now())
}

func TestClassify_WorkedExample(t *testing.T) {
	band := exampleBand(t)

	cases := []struct {
		price float64
		want  domain.OfferBand
	}{
		{20, domain.OfferInvalid},
		{28, domain.OfferLow},
		{31.4, domain.OfferFair},
		{36, domain.OfferHigh},
	}
	for _, tc := range cases {
		if got := Classify(tc.price, band); got.Band != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.price, got.Band, tc.want)
		}
	}
}

func TestClassify_Boundaries(t *testing.T) {
	band := exampleBand(t)

	t.Run("floor is inclusive", func(t *testing.T) {
		if got := Classify(band.FloorPrice, band); got.Band == domain.OfferInvalid {
			t.Errorf("offer at exactly the floor must not be INVALID, got %s", got.Band)
		}
	})

	t.Run("a paisa under the floor is invalid", func(t *testing.T) {
		if got := Classify(band.FloorPrice-0.01, band); got.Band != domain.OfferInvalid {
			t.Errorf("offer below floor = %s, want INVALID", got.Band)
		}
	})

	t.Run("target is inclusive for FAIR", func(t *testing.T) {
		if got := Classify(band.TargetPrice, band); got.Band != domain.OfferFair {
			t.Errorf("offer at target = %s, want FAIR", got.Band)
		}
	})

	t.Run("just under target is LOW", func(t *testing.T) {
		if got := Classify(band.TargetPrice-0.01, band); got.Band != domain.OfferLow {
			t.Errorf("offer just under target = %s, want LOW", got.Band)
		}
	})

	t.Run("well past stretch is HIGH", func(t *testing.T) {
		if got := Classify(band.TargetPrice*1.1+0.01, band); got.Band != domain.OfferHigh {
			t.Errorf("offer past stretch = %s, want HIGH", got.Band)
		}
	})
}

// Classification must be total: every price lands in exactly one band.
func TestClassify_Exhaustive(t *testing.T) {
	band := exampleBand(t)

	for price := -5.0; price < 60.0; price += 0.07 {
		got := Classify(price, band)
		switch got.Band {
		case domain.OfferInvalid, domain.OfferLow, domain.OfferFair, domain.OfferHigh:
		default:
			t.Fatalf("Classify(%v) returned unknown band %q", price, got.Band)
		}
		if got.Message == "" {
			t.Fatalf("Classify(%v) returned an empty advisory message", price)
		}
	}
}

func TestClassify_GradeXBand(t *testing.T) {
	// A grade-X band collapses to zero: classification stays total, with
	// only negative prices INVALID.
	band := ComputeBand(domain.ResolvedPrice{Price: 3200}, domain.GradeX, time.Now())
	if got := Classify(0, band); got.Band == domain.OfferInvalid {
		t.Errorf("zero offer against zero floor = %s, want non-INVALID", got.Band)
	}
	if got := Classify(-0.01, band); got.Band != domain.OfferInvalid {
		t.Errorf("negative offer = %s, want INVALID", got.Band)
	}
}
