package fare

import (
	"testing"

	"github.com/example/ride-bidding/internal/apperr"
	"github.com/example/ride-bidding/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := HaversineKM(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestEstimateDeterministic(t *testing.T) {
	pickup := models.Point{Address: "A", Latitude: 12.9716, Longitude: 77.5946}
	drop := models.Point{Address: "B", Latitude: 12.2958, Longitude: 76.6394}

	d1, f1, err := Estimate(pickup, drop)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	d2, f2, err := Estimate(pickup, drop)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("distance not deterministic: %f vs %f", d1, d2)
	}
	for v, f := range f1 {
		if f2[v] != f {
			t.Fatalf("fare for %s not deterministic: %f vs %f", v, f, f2[v])
		}
	}
	if d1 <= 0 {
		t.Fatalf("expected positive distance, got %f", d1)
	}
}

func TestEstimateFareMonotonicInDistance(t *testing.T) {
	origin := models.Point{Address: "O", Latitude: 0, Longitude: 0}
	near := models.Point{Address: "N", Latitude: 0.05, Longitude: 0}
	far := models.Point{Address: "F", Latitude: 0.5, Longitude: 0}

	_, nearFares, err := Estimate(origin, near)
	if err != nil {
		t.Fatalf("estimate near: %v", err)
	}
	_, farFares, err := Estimate(origin, far)
	if err != nil {
		t.Fatalf("estimate far: %v", err)
	}
	for v := range nearFares {
		if farFares[v] <= nearFares[v] {
			t.Fatalf("fare for %s not monotonic: near=%f far=%f", v, nearFares[v], farFares[v])
		}
	}
}

func TestEstimateInvalidCoordinates(t *testing.T) {
	good := models.Point{Address: "A", Latitude: 10, Longitude: 10}
	cases := []struct {
		name   string
		pickup models.Point
		drop   models.Point
	}{
		{"missing pickup address", models.Point{Latitude: 10, Longitude: 10}, good},
		{"missing drop address", good, models.Point{Latitude: 10, Longitude: 10}},
		{"pickup latitude out of range", models.Point{Address: "A", Latitude: 91, Longitude: 0}, good},
		{"drop longitude out of range", good, models.Point{Address: "B", Latitude: 0, Longitude: 181}},
		{"negative latitude out of range", models.Point{Address: "A", Latitude: -90.5, Longitude: 0}, good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Estimate(tc.pickup, tc.drop)
			if err == nil {
				t.Fatal("expected error")
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
