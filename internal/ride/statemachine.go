// Package ride holds the lifecycle state machine shared by direct-accept
// and bidding assignment. Transitions only ever move forward; the store's
// conditional update enforces them under concurrency.
package ride

import (
	"github.com/example/ride-bidding/internal/apperr"
	"github.com/example/ride-bidding/internal/models"
)

// transitions lists every allowed edge. AWAITING_OFFERS and
// SEARCHING_FOR_RIDER both lead to START but through mutually exclusive
// entry points gated by the ride's pricing model.
var transitions = map[models.Status][]models.Status{
	models.StatusAwaitingOffers:    {models.StatusStart},
	models.StatusSearchingForRider: {models.StatusStart},
	models.StatusStart:             {models.StatusArrived},
	models.StatusArrived:           {models.StatusCompleted},
	models.StatusCompleted:         nil, // terminal
}

// Valid reports whether s is a known lifecycle status.
func Valid(s models.Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the single valid successor for the in-progress statuses used
// by update-status. Assignment entry points (accept-ride, accept-offer) do
// not go through here.
func Next(from models.Status) (models.Status, bool) {
	switch from {
	case models.StatusStart:
		return models.StatusArrived, true
	case models.StatusArrived:
		return models.StatusCompleted, true
	}
	return "", false
}

// Terminal reports whether no transition leaves s.
func Terminal(s models.Status) bool {
	return Valid(s) && len(transitions[s]) == 0
}

// Advance validates and applies one update-status step on r: the requested
// status must be the single valid successor of the current one, and only the
// assigned rider may drive the ride forward. The transition is judged before
// the actor so an impossible step on an unassigned ride reports what is
// actually wrong with it.
func Advance(r *models.Ride, actorID string, to models.Status) error {
	if !Valid(to) {
		return apperr.Validation("unknown ride status %q", to)
	}
	next, ok := Next(r.Status)
	if !ok || next != to {
		return apperr.InvalidTransition("cannot move ride from %s to %s", r.Status, to)
	}
	if r.RiderID == "" || r.RiderID != actorID {
		return apperr.Unauthorized("only the assigned rider can update this ride")
	}
	r.Status = to
	return nil
}
