package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-bidding/internal/models"
)

// PostgresStore implements RideStore on postgres. The offer collection and
// the accepted-offer snapshot live in JSONB columns so the whole ride
// commits as one row; the version column backs UpdateIf.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, customer_id, rider_id, vehicle, pickup, drop_off, distance_km,
	fare, proposed_price, suggested_min, suggested_max, pricing_model, status, otp,
	offers, accepted_offer, payment_ref, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.Ride) error {
	r.Version = 1
	pickup, dropOff, offers, accepted, err := encodeJSONFields(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		r.ID, r.CustomerID, nullable(r.RiderID), string(r.Vehicle), pickup, dropOff, r.DistanceKM,
		r.Fare, r.ProposedPrice, r.SuggestedPriceRange.Min, r.SuggestedPriceRange.Max,
		string(r.PricingModel), string(r.Status), r.OTP, offers, accepted, r.PaymentRef,
		r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if err == sql.ErrNoRows {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByActor(ctx context.Context, actorID string, status models.Status) ([]*models.Ride, error) {
	q := `SELECT ` + rideColumns + ` FROM rides WHERE (customer_id=$1 OR rider_id=$1)`
	args := []any{actorID}
	if status != "" {
		q += ` AND status=$2`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateIf(ctx context.Context, r *models.Ride, expectVersion int64) error {
	_, _, offers, accepted, err := encodeJSONFields(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET rider_id=$1, fare=$2, status=$3,
		offers=$4, accepted_offer=$5, payment_ref=$6, version=version+1, updated_at=$7
		WHERE id=$8 AND version=$9`,
		nullable(r.RiderID), r.Fare, string(r.Status), offers, accepted, r.PaymentRef,
		r.UpdatedAt, r.ID, expectVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRideNotFound
		}
		return ErrVersionConflict
	}
	r.Version = expectVersion + 1
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var (
		r                models.Ride
		riderID          sql.NullString
		vehicle          string
		pricingModel     string
		status           string
		pickupB, dropB   []byte
		offersB, acceptB []byte
	)
	err := row.Scan(&r.ID, &r.CustomerID, &riderID, &vehicle, &pickupB, &dropB, &r.DistanceKM,
		&r.Fare, &r.ProposedPrice, &r.SuggestedPriceRange.Min, &r.SuggestedPriceRange.Max,
		&pricingModel, &status, &r.OTP, &offersB, &acceptB, &r.PaymentRef,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.RiderID = riderID.String
	r.Vehicle = models.Vehicle(vehicle)
	r.PricingModel = models.PricingModel(pricingModel)
	r.Status = models.Status(status)
	if err := json.Unmarshal(pickupB, &r.Pickup); err != nil {
		return nil, fmt.Errorf("decode pickup: %w", err)
	}
	if err := json.Unmarshal(dropB, &r.Drop); err != nil {
		return nil, fmt.Errorf("decode drop: %w", err)
	}
	if len(offersB) > 0 {
		if err := json.Unmarshal(offersB, &r.Offers); err != nil {
			return nil, fmt.Errorf("decode offers: %w", err)
		}
	}
	if len(acceptB) > 0 && string(acceptB) != "null" {
		r.AcceptedOffer = &models.AcceptedOffer{}
		if err := json.Unmarshal(acceptB, r.AcceptedOffer); err != nil {
			return nil, fmt.Errorf("decode accepted offer: %w", err)
		}
	}
	return &r, nil
}

func encodeJSONFields(r *models.Ride) (pickup, dropOff, offers, accepted []byte, err error) {
	if pickup, err = json.Marshal(r.Pickup); err != nil {
		return
	}
	if dropOff, err = json.Marshal(r.Drop); err != nil {
		return
	}
	if r.Offers == nil {
		offers = []byte("[]")
	} else if offers, err = json.Marshal(r.Offers); err != nil {
		return
	}
	if r.AcceptedOffer == nil {
		accepted = []byte("null")
	} else if accepted, err = json.Marshal(r.AcceptedOffer); err != nil {
		return
	}
	return
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
