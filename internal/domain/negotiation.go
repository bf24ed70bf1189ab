package domain

import (
	"math"
	"time"
)

// NegotiationStatus is the lifecycle state of a negotiation.
type NegotiationStatus string

const (
	StatusPending         NegotiationStatus = "pending"
	StatusCounterByFarmer NegotiationStatus = "counter_by_farmer"
	StatusCounterByBuyer  NegotiationStatus = "counter_by_buyer"
	StatusAccepted        NegotiationStatus = "accepted"
	StatusRejected        NegotiationStatus = "rejected"

	// legacyStatusCountered is the pre-rename status written by old clients
	// meaning "counter from farmer". It is normalized on read and never
	// written back.
	legacyStatusCountered NegotiationStatus = "countered"
)

// NormalizeStatus maps legacy status values onto the current set. Unknown
// values pass through unchanged.
func NormalizeStatus(s NegotiationStatus) NegotiationStatus {
	if s == legacyStatusCountered {
		return StatusCounterByFarmer
	}
	return s
}

// IsTerminal reports whether the status permits no further transitions.
func (s NegotiationStatus) IsTerminal() bool {
	switch NormalizeStatus(s) {
	case StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// ActorRole identifies which side of the deal performed an action.
type ActorRole string

const (
	RoleBuyer  ActorRole = "buyer"
	RoleFarmer ActorRole = "farmer"
)

// Valid reports whether the role is one of the two negotiation parties.
func (r ActorRole) Valid() bool {
	return r == RoleBuyer || r == RoleFarmer
}

// Decision is a terminal response to an open negotiation.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Negotiation is a two-party bargaining session over a single produce lot.
// The floor/target/source fields are frozen from the price band resolved at
// creation; nothing may rewrite them afterwards. Version implements
// per-record optimistic concurrency: every successful mutation bumps it, and
// writers must present the version they read.
type Negotiation struct {
	ID            string            `json:"id"`
	ProductID     string            `json:"product_id"`
	BuyerID       string            `json:"buyer_id"`
	FarmerID      string            `json:"farmer_id"`
	InitialPrice  float64           `json:"initial_price"`
	OfferedPrice  float64           `json:"offered_price"`
	CounterPrice  *float64          `json:"counter_price,omitempty"`
	Quantity      float64           `json:"quantity"`
	Status        NegotiationStatus `json:"status"`
	FloorPrice    float64           `json:"floor_price"`
	TargetPrice   float64           `json:"target_price"`
	PriceSource   string            `json:"price_source"`
	PriceVerified bool              `json:"price_verified"`
	QualityGrade  QualityGrade      `json:"quality_grade"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdated   time.Time         `json:"last_updated"`
	Version       int64             `json:"version"`
}

// FrozenBand reconstructs the band snapshot stored on the negotiation,
// used for advisory offer classification after creation.
func (n Negotiation) FrozenBand() PriceBand {
	return PriceBand{
		FloorPrice:   n.FloorPrice,
		TargetPrice:  n.TargetPrice,
		StretchPrice: math.Round(n.TargetPrice*1.1*100) / 100,
		IsVerified:   n.PriceVerified,
		PriceSource:  n.PriceSource,
	}
}

// NegotiationPatch carries the mutable fields for a version-checked update.
// Nil pointers leave the stored value untouched.
type NegotiationPatch struct {
	Status       NegotiationStatus
	OfferedPrice *float64
	CounterPrice *float64
	Quantity     *float64
	LastUpdated  time.Time
}
