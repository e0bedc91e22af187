package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-bidding/internal/models"
)

func newRide(id string) *models.Ride {
	return &models.Ride{
		ID:         id,
		CustomerID: "cust-1",
		Status:     models.StatusSearchingForRider,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateIfVersionGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	r, _ := s.Get(ctx, "r1")
	r.Status = models.StatusStart
	if err := s.UpdateIf(ctx, r, 1); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if r.Version != 2 {
		t.Fatalf("version = %d, want 2", r.Version)
	}

	// A second writer still holding version 1 must lose.
	stale, _ := s.Get(ctx, "r1")
	stale.Status = models.StatusArrived
	if err := s.UpdateIf(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemoryStoreUpdateIfExactlyOneConcurrentWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRide("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Get(ctx, "r1")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			r.Status = models.StatusStart
			if err := s.UpdateIf(ctx, r, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestMemoryStoreListByActor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := newRide("r1")
	old.CreatedAt = time.Now().Add(-time.Hour)
	recent := newRide("r2")
	recent.Status = models.StatusCompleted
	other := newRide("r3")
	other.CustomerID = "someone-else"
	asRider := newRide("r4")
	asRider.CustomerID = "someone-else"
	asRider.RiderID = "cust-1"
	for _, r := range []*models.Ride{old, recent, other, asRider} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rides, err := s.ListByActor(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rides) != 3 {
		t.Fatalf("len = %d, want 3", len(rides))
	}
	for i := 1; i < len(rides); i++ {
		if rides[i].CreatedAt.After(rides[i-1].CreatedAt) {
			t.Fatal("rides not sorted newest first")
		}
	}

	completed, err := s.ListByActor(ctx, "cust-1", models.StatusCompleted)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "r2" {
		t.Fatalf("expected only r2, got %v", completed)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRide("r1")
	r.Offers = []models.Offer{{ID: "o1", RiderID: "d1", Status: models.OfferPending}}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := s.Get(ctx, "r1")
	got.Offers[0].Status = models.OfferRejected
	again, _ := s.Get(ctx, "r1")
	if again.Offers[0].Status != models.OfferPending {
		t.Fatal("mutating a returned ride leaked into the store")
	}
}
