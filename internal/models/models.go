package models

import "time"

// Vehicle identifies the vehicle class requested for a ride. Fare rates are
// keyed by class.
type Vehicle string

const (
	VehicleBike       Vehicle = "bike"
	VehicleAuto       Vehicle = "auto"
	VehicleCabEconomy Vehicle = "cabEconomy"
	VehicleCabPremium Vehicle = "cabPremium"
)

// Valid reports whether v is a known vehicle class.
func (v Vehicle) Valid() bool {
	switch v {
	case VehicleBike, VehicleAuto, VehicleCabEconomy, VehicleCabPremium:
		return true
	}
	return false
}

// PricingModel selects how a ride is assigned: competitive bidding or a
// fixed fare claimed by the first driver.
type PricingModel string

const (
	PricingBidding PricingModel = "bidding"
	PricingFixed   PricingModel = "fixed"
)

// Status is the ride lifecycle state.
type Status string

const (
	StatusAwaitingOffers    Status = "AWAITING_OFFERS"
	StatusSearchingForRider Status = "SEARCHING_FOR_RIDER"
	StatusStart             Status = "START"
	StatusArrived           Status = "ARRIVED"
	StatusCompleted         Status = "COMPLETED"
)

// OfferStatus is the state of a single driver bid.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Point is a named coordinate pair.
type Point struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PriceRange is the customer's advisory min/max price signal for bidding
// rides. It is never enforced against offers.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Offer is one driver's priced bid on a bidding-mode ride. Offers live only
// inside their owning Ride and are persisted with it as a unit.
type Offer struct {
	ID           string      `json:"id"`
	RiderID      string      `json:"rider_id"`
	OfferedPrice float64     `json:"offered_price"`
	Message      string      `json:"message,omitempty"`
	Status       OfferStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AcceptedOffer is the snapshot recorded when the customer picks a winner.
type AcceptedOffer struct {
	RiderID    string  `json:"rider_id"`
	FinalPrice float64 `json:"final_price"`
}

// Ride is the central entity. All mutations are read-modify-write against
// the whole record; Version backs the store's conditional update.
type Ride struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	RiderID    string `json:"rider_id,omitempty"` // empty until assignment

	Vehicle Vehicle `json:"vehicle"`
	Pickup  Point   `json:"pickup"`
	Drop    Point   `json:"drop"`

	DistanceKM          float64    `json:"distance_km"`
	Fare                float64    `json:"fare"`
	ProposedPrice       float64    `json:"proposed_price,omitempty"`
	SuggestedPriceRange PriceRange `json:"suggested_price_range"`

	PricingModel PricingModel `json:"pricing_model"`
	Status       Status       `json:"status"`
	OTP          string       `json:"otp,omitempty"`

	Offers        []Offer        `json:"offers,omitempty"`
	AcceptedOffer *AcceptedOffer `json:"accepted_offer,omitempty"`

	// PaymentRef holds the payment-intent ID once a fare hold is placed.
	PaymentRef string `json:"payment_ref,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferByID returns a pointer into the ride's offer collection, or nil.
func (r *Ride) OfferByID(offerID string) *Offer {
	for i := range r.Offers {
		if r.Offers[i].ID == offerID {
			return &r.Offers[i]
		}
	}
	return nil
}

// OfferByRider returns the rider's existing offer, or nil.
func (r *Ride) OfferByRider(riderID string) *Offer {
	for i := range r.Offers {
		if r.Offers[i].RiderID == riderID {
			return &r.Offers[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to mutate without aliasing the original's
// offer collection.
func (r *Ride) Clone() *Ride {
	cp := *r
	if r.Offers != nil {
		cp.Offers = make([]Offer, len(r.Offers))
		copy(cp.Offers, r.Offers)
	}
	if r.AcceptedOffer != nil {
		ao := *r.AcceptedOffer
		cp.AcceptedOffer = &ao
	}
	return &cp
}

// EventKind names the fan-out events produced by the engine.
type EventKind string

const (
	EventRideAvailable     EventKind = "ride-available"
	EventRideStatusChanged EventKind = "ride-status-changed"
	EventNewOffer          EventKind = "new-offer"
	EventOfferAccepted     EventKind = "offer-accepted"
	EventRideAccepted      EventKind = "ride-accepted"
)

// Event is the envelope delivered to ride-channel subscribers and appended
// to the event stream.
type Event struct {
	RideID  string    `json:"ride_id"`
	Kind    EventKind `json:"kind"`
	Ride    *Ride     `json:"ride,omitempty"`
	Offer   *Offer    `json:"offer,omitempty"`
	Emitted time.Time `json:"emitted"`
}
