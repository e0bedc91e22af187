// Package engine implements the ride matching and bidding core: ride
// creation, direct acceptance, the offer negotiation protocol, and status
// progression. Every mutation is a single version-guarded read-modify-write
// against the ride store followed by a best-effort fan-out.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/example/ride-bidding/internal/apperr"
	"github.com/example/ride-bidding/internal/events"
	"github.com/example/ride-bidding/internal/fare"
	"github.com/example/ride-bidding/internal/models"
	"github.com/example/ride-bidding/internal/observability"
	"github.com/example/ride-bidding/internal/ride"
	"github.com/example/ride-bidding/internal/storage"
)

// PaymentProcessor places and settles fare holds. Payment failures never
// block a ride transition; settlement is a collaborator concern.
type PaymentProcessor interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentRef string) error
	Cancel(ctx context.Context, paymentRef string) error
}

// Service is the engine. Collaborators are injected; Payments may be nil.
type Service struct {
	Store    storage.RideStore
	Events   events.Publisher
	Payments PaymentProcessor
	Currency string
	Logger   *slog.Logger
}

// CreateRideInput carries the customer's create-ride request.
type CreateRideInput struct {
	Vehicle             models.Vehicle
	Pickup              models.Point
	Drop                models.Point
	PricingModel        models.PricingModel
	ProposedPrice       float64
	SuggestedPriceRange models.PriceRange
}

// CreateRide validates the request, estimates distance and fare once, and
// persists a new ride in AWAITING_OFFERS (bidding) or SEARCHING_FOR_RIDER
// (fixed). Fixed-mode rides are announced on the open-ride feed.
func (s *Service) CreateRide(ctx context.Context, customerID string, in CreateRideInput) (*models.Ride, error) {
	if !in.Vehicle.Valid() {
		return nil, apperr.Validation("unknown vehicle class %q", in.Vehicle)
	}
	model := in.PricingModel
	if model == "" {
		model = models.PricingBidding
	}
	if model != models.PricingBidding && model != models.PricingFixed {
		return nil, apperr.Validation("unknown pricing model %q", model)
	}
	if model == models.PricingBidding && in.ProposedPrice <= 0 {
		return nil, apperr.Validation("proposed price is required for bidding rides")
	}

	distance, fares, err := fare.Estimate(in.Pickup, in.Drop)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &models.Ride{
		ID:                  newID(),
		CustomerID:          customerID,
		Vehicle:             in.Vehicle,
		Pickup:              in.Pickup,
		Drop:                in.Drop,
		DistanceKM:          distance,
		Fare:                fares[in.Vehicle],
		SuggestedPriceRange: in.SuggestedPriceRange,
		PricingModel:        model,
		Status:              models.StatusSearchingForRider,
		OTP:                 newOTP(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if model == models.PricingBidding {
		r.Status = models.StatusAwaitingOffers
		r.ProposedPrice = in.ProposedPrice
		r.Fare = in.ProposedPrice
	}

	if err := s.Store.Create(ctx, r); err != nil {
		s.Logger.Error("create ride failed", "customer_id", customerID, "error", err)
		return nil, apperr.Internal(err)
	}

	observability.RidesCreated.WithLabelValues(string(model)).Inc()
	s.Logger.Info("ride created", "ride_id", r.ID, "pricing_model", model, "distance_km", distance)

	if model == models.PricingFixed {
		s.publish(r, models.EventRideAvailable, nil)
	}
	return r, nil
}

// AcceptRide is the direct-accept entry point: the first rider to claim an
// unassigned fixed-price ride wins. A concurrent claimer loses the
// version-guarded update and observes InvalidState.
func (s *Service) AcceptRide(ctx context.Context, rideID, riderID string) (*models.Ride, error) {
	r, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.PricingModel != models.PricingFixed {
		return nil, apperr.InvalidState("ride uses bidding; submit an offer instead")
	}
	if r.Status != models.StatusSearchingForRider {
		return nil, apperr.InvalidState("ride is no longer available for assignment")
	}

	r.RiderID = riderID
	r.Status = models.StatusStart
	r.UpdatedAt = time.Now().UTC()
	s.holdFare(ctx, r)

	if err := s.commit(ctx, r, "ride is no longer available for assignment"); err != nil {
		return nil, err
	}

	observability.RidesAccepted.Inc()
	s.Logger.Info("ride accepted", "ride_id", r.ID, "rider_id", riderID)
	s.publish(r, models.EventRideStatusChanged, nil)
	s.publish(r, models.EventRideAccepted, nil)
	return r, nil
}

// UpdateStatus advances an assigned ride one step (START → ARRIVED →
// COMPLETED). Only the assigned rider may call it.
func (s *Service) UpdateStatus(ctx context.Context, rideID, actorID string, next models.Status) (*models.Ride, error) {
	r, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ride.Advance(r, actorID, next); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	if err := s.Store.UpdateIf(ctx, r, r.Version); err != nil {
		switch {
		case errors.Is(err, storage.ErrVersionConflict):
			observability.TransitionConflicts.Inc()
			return nil, apperr.InvalidTransition("ride status changed concurrently, reload and retry")
		case errors.Is(err, storage.ErrRideNotFound):
			return nil, apperr.NotFound("ride %s not found", rideID)
		default:
			s.Logger.Error("update status failed", "ride_id", rideID, "error", err)
			return nil, apperr.Internal(err)
		}
	}

	if next == models.StatusCompleted {
		observability.RidesCompleted.Inc()
		s.captureFare(ctx, r)
	}
	s.Logger.Info("ride status updated", "ride_id", r.ID, "status", next)
	s.publish(r, models.EventRideStatusChanged, nil)
	return r, nil
}

// GetMyRides returns rides where the actor is customer or rider, newest
// first, optionally filtered by status.
func (s *Service) GetMyRides(ctx context.Context, actorID string, status models.Status) ([]*models.Ride, error) {
	if status != "" && !ride.Valid(status) {
		return nil, apperr.Validation("unknown ride status %q", status)
	}
	rides, err := s.Store.ListByActor(ctx, actorID, status)
	if err != nil {
		s.Logger.Error("list rides failed", "actor_id", actorID, "error", err)
		return nil, apperr.Internal(err)
	}
	return rides, nil
}

// SubmitOffer records a rider's bid on a bidding ride. A rider's
// resubmission replaces their pending offer in place. Losing the version
// race to another rider's submission is absorbed with one reload-and-retry;
// if the ride was closed by an acceptance in the meantime, the reload
// reports that instead.
func (s *Service) SubmitOffer(ctx context.Context, rideID, riderID string, offeredPrice float64, message string) (*models.Ride, error) {
	if offeredPrice <= 0 {
		return nil, apperr.Validation("offered price must be positive")
	}

	for attempt := 0; ; attempt++ {
		r, err := s.load(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if r.Status != models.StatusAwaitingOffers {
			return nil, apperr.InvalidState("ride is no longer accepting offers")
		}

		now := time.Now().UTC()
		var submitted models.Offer
		if existing := r.OfferByRider(riderID); existing != nil {
			existing.OfferedPrice = offeredPrice
			existing.Message = message
			existing.Status = models.OfferPending
			existing.CreatedAt = now
			submitted = *existing
		} else {
			submitted = models.Offer{
				ID:           newID(),
				RiderID:      riderID,
				OfferedPrice: offeredPrice,
				Message:      message,
				Status:       models.OfferPending,
				CreatedAt:    now,
			}
			r.Offers = append(r.Offers, submitted)
		}
		r.UpdatedAt = now

		switch err := s.Store.UpdateIf(ctx, r, r.Version); {
		case err == nil:
			observability.OffersSubmitted.Inc()
			s.Logger.Info("offer submitted", "ride_id", r.ID, "rider_id", riderID, "offered_price", offeredPrice)
			s.publish(r, models.EventNewOffer, &submitted)
			return r, nil
		case errors.Is(err, storage.ErrVersionConflict):
			observability.TransitionConflicts.Inc()
			if attempt == 0 {
				continue
			}
			return nil, apperr.InvalidState("offer submission lost a concurrent update, retry")
		case errors.Is(err, storage.ErrRideNotFound):
			return nil, apperr.NotFound("ride %s not found", rideID)
		default:
			s.Logger.Error("submit offer failed", "ride_id", rideID, "error", err)
			return nil, apperr.Internal(err)
		}
	}
}

// AcceptOffer lets the ride's customer pick the winning bid. The winner is
// accepted and every sibling rejected in the same persisted update; the ride
// moves to START with rider and fare taken from the winning offer. A second
// acceptance racing the first loses the version guard and observes
// InvalidState.
func (s *Service) AcceptOffer(ctx context.Context, rideID, offerID, customerID string) (*models.Ride, error) {
	r, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.CustomerID != customerID {
		return nil, apperr.Unauthorized("only the ride's customer can accept offers")
	}
	if r.Status != models.StatusAwaitingOffers {
		return nil, apperr.InvalidState("ride is no longer accepting offers")
	}
	winner := r.OfferByID(offerID)
	if winner == nil {
		return nil, apperr.NotFound("offer %s not found", offerID)
	}

	winner.Status = models.OfferAccepted
	for i := range r.Offers {
		if r.Offers[i].ID != offerID {
			r.Offers[i].Status = models.OfferRejected
		}
	}
	r.AcceptedOffer = &models.AcceptedOffer{RiderID: winner.RiderID, FinalPrice: winner.OfferedPrice}
	r.RiderID = winner.RiderID
	r.Fare = winner.OfferedPrice
	r.Status = models.StatusStart
	r.UpdatedAt = time.Now().UTC()
	s.holdFare(ctx, r)

	if err := s.commit(ctx, r, "ride is no longer accepting offers"); err != nil {
		return nil, err
	}

	observability.OffersAccepted.Inc()
	observability.RidesAccepted.Inc()
	s.Logger.Info("offer accepted", "ride_id", r.ID, "offer_id", offerID, "rider_id", winner.RiderID, "final_price", winner.OfferedPrice)
	won := *winner
	s.publish(r, models.EventOfferAccepted, &won)
	s.publish(r, models.EventRideAccepted, nil)
	return r, nil
}

// OfferListing is the read model for get-ride-offers: the bids plus the
// customer's price context for comparison.
type OfferListing struct {
	Offers              []models.Offer    `json:"offers"`
	ProposedPrice       float64           `json:"proposed_price"`
	SuggestedPriceRange models.PriceRange `json:"suggested_price_range"`
}

// ListOffers returns the ride's offers with the customer's original price
// signal. Read-only; the suggested range is advisory and never enforced.
func (s *Service) ListOffers(ctx context.Context, rideID string) (*OfferListing, error) {
	r, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	offers := r.Offers
	if offers == nil {
		offers = []models.Offer{}
	}
	return &OfferListing{
		Offers:              offers,
		ProposedPrice:       r.ProposedPrice,
		SuggestedPriceRange: r.SuggestedPriceRange,
	}, nil
}

func (s *Service) load(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := s.Store.Get(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrRideNotFound) {
			return nil, apperr.NotFound("ride %s not found", rideID)
		}
		s.Logger.Error("load ride failed", "ride_id", rideID, "error", err)
		return nil, apperr.Internal(err)
	}
	return r, nil
}

// commit performs the version-guarded write shared by the assignment paths.
// A version conflict means another actor already moved the ride on; the
// pending fare hold, if any, is released for the loser.
func (s *Service) commit(ctx context.Context, r *models.Ride, conflictMsg string) error {
	err := s.Store.UpdateIf(ctx, r, r.Version)
	if err == nil {
		return nil
	}
	s.releaseFare(ctx, r)
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		observability.TransitionConflicts.Inc()
		return apperr.InvalidState("%s", conflictMsg)
	case errors.Is(err, storage.ErrRideNotFound):
		return apperr.NotFound("ride %s not found", r.ID)
	default:
		s.Logger.Error("ride update failed", "ride_id", r.ID, "error", err)
		return apperr.Internal(err)
	}
}

// holdFare places a manual-capture hold for the agreed fare before the
// assignment commits, so the payment ref persists in the same update.
func (s *Service) holdFare(ctx context.Context, r *models.Ride) {
	if s.Payments == nil {
		return
	}
	ref, err := s.Payments.Hold(ctx, toMinorUnits(r.Fare), s.Currency, r.CustomerID)
	if err != nil {
		s.Logger.Warn("fare hold failed", "ride_id", r.ID, "error", err)
		return
	}
	r.PaymentRef = ref
}

func (s *Service) captureFare(ctx context.Context, r *models.Ride) {
	if s.Payments == nil || r.PaymentRef == "" {
		return
	}
	if err := s.Payments.Capture(ctx, r.PaymentRef); err != nil {
		s.Logger.Warn("fare capture failed", "ride_id", r.ID, "payment_ref", r.PaymentRef, "error", err)
	}
}

func (s *Service) releaseFare(ctx context.Context, r *models.Ride) {
	if s.Payments == nil || r.PaymentRef == "" {
		return
	}
	if err := s.Payments.Cancel(ctx, r.PaymentRef); err != nil {
		s.Logger.Warn("fare hold release failed", "ride_id", r.ID, "payment_ref", r.PaymentRef, "error", err)
	}
	r.PaymentRef = ""
}

// publish fans out the full updated ride snapshot with the OTP stripped;
// the code reaches only the customer through the read API.
func (s *Service) publish(r *models.Ride, kind models.EventKind, offer *models.Offer) {
	if s.Events == nil {
		return
	}
	snapshot := r.Clone()
	snapshot.OTP = ""
	s.Events.Publish(models.Event{
		RideID:  r.ID,
		Kind:    kind,
		Ride:    snapshot,
		Offer:   offer,
		Emitted: time.Now().UTC(),
	})
}

// toMinorUnits converts a fare to the currency's smallest unit for the
// payment processor.
func toMinorUnits(v float64) int64 { return int64(math.Round(v * 100)) }

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64()+1000)
}
