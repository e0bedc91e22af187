package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-bidding/internal/models"
)

// ErrVersionConflict is returned by UpdateIf when the stored record changed
// since the caller's read. The engine maps it to the appropriate
// invalid-state/invalid-transition failure.
var ErrVersionConflict = errors.New("ride version conflict")

// ErrRideNotFound is returned when an ID does not resolve.
var ErrRideNotFound = errors.New("ride not found")

// RideStore defines persistence for rides. A ride and its embedded offers
// are always read and written as one unit; there is no separately
// addressable offer store.
type RideStore interface {
	// Create persists a new ride at version 1.
	Create(ctx context.Context, r *models.Ride) error
	// Get returns a copy of the ride.
	Get(ctx context.Context, id string) (*models.Ride, error)
	// ListByActor returns rides where the actor is customer or rider,
	// optionally filtered by status, newest first.
	ListByActor(ctx context.Context, actorID string, status models.Status) ([]*models.Ride, error)
	// UpdateIf persists r only if the stored version still equals
	// expectVersion, bumping r.Version; otherwise ErrVersionConflict.
	UpdateIf(ctx context.Context, r *models.Ride, expectVersion int64) error
}

// MemoryStore is a mutex-guarded in-memory RideStore for tests and local
// runs. The per-record mutex gives the same conditional-update semantics as
// the postgres implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Version = 1
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListByActor(ctx context.Context, actorID string, status models.Status) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if r.CustomerID != actorID && r.RiderID != actorID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, r *models.Ride, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrRideNotFound
	}
	if cur.Version != expectVersion {
		return ErrVersionConflict
	}
	r.Version = expectVersion + 1
	m.rides[r.ID] = r.Clone()
	return nil
}
