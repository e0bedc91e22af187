package fare

import (
	"math"

	"github.com/example/ride-bidding/internal/apperr"
	"github.com/example/ride-bidding/internal/models"
)

// rate is the per-class pricing: a flat base fee plus a per-kilometer rate.
type rate struct {
	base  float64
	perKM float64
}

var rates = map[models.Vehicle]rate{
	models.VehicleBike:       {base: 10, perKM: 5},
	models.VehicleAuto:       {base: 15, perKM: 7},
	models.VehicleCabEconomy: {base: 25, perKM: 12},
	models.VehicleCabPremium: {base: 40, perKM: 18},
}

// Estimate computes the great-circle distance between pickup and drop and
// the fare for every vehicle class at that distance. Pure and deterministic.
func Estimate(pickup, drop models.Point) (float64, map[models.Vehicle]float64, error) {
	if err := validatePoint("pickup", pickup); err != nil {
		return 0, nil, err
	}
	if err := validatePoint("drop", drop); err != nil {
		return 0, nil, err
	}

	dist := HaversineKM(pickup.Latitude, pickup.Longitude, drop.Latitude, drop.Longitude)

	fares := make(map[models.Vehicle]float64, len(rates))
	for v, r := range rates {
		fares[v] = round2(r.base + r.perKM*dist)
	}
	return round2(dist), fares, nil
}

func validatePoint(name string, p models.Point) error {
	if p.Address == "" {
		return apperr.Validation("invalid coordinates: %s address is required", name)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return apperr.Validation("invalid coordinates: %s latitude %f out of range", name, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return apperr.Validation("invalid coordinates: %s longitude %f out of range", name, p.Longitude)
	}
	return nil
}

// HaversineKM returns the great-circle distance in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
