package pricing

import (
	"fmt"

	"github.com/khetibazaar/mandicore/internal/domain"
)

// Classify maps a candidate per-kg offer price onto the band's buckets.
// Total over all real inputs; each bucket is inclusive at its lower edge.
func Classify(price float64, band domain.PriceBand) domain.Classification {
	stretch := band.TargetPrice * stretchMarkup

	switch {
	case price < band.FloorPrice:
		return domain.Classification{
			Band: domain.OfferInvalid,
			Message: fmt.Sprintf("offer is below the floor price of ₹%.2f/kg and cannot be submitted",
				band.FloorPrice),
		}
	case price < band.TargetPrice:
		return domain.Classification{
			Band: domain.OfferLow,
			Message: fmt.Sprintf("offer clears the floor but sits below the target of ₹%.2f/kg",
				band.TargetPrice),
		}
	case price < stretch:
		return domain.Classification{
			Band:    domain.OfferFair,
			Message: "offer is in the fair range for this lot",
		}
	default:
		return domain.Classification{
			Band:    domain.OfferHigh,
			Message: "offer is generous, above the typical market rate",
		}
	}
}
