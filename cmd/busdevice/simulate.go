package main

import (
	"math"

	"github.com/spf13/pflag"

	memposition "github.com/yellowbus/route-tracker/internal/adapters/memory/position"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/ports/out/position"
)

const metersPerDegreeLat = 111_320.0

// simulation drives the bus around a circle, standing in for a GPS receiver.
type simulation struct {
	lat, lon float64
	radiusM  float64
	points   int
	deny     bool
}

func simulationFlags(fs *pflag.FlagSet) *simulation {
	s := &simulation{}
	fs.Float64Var(&s.lat, "lat", 37.8044, "simulated loop center latitude")
	fs.Float64Var(&s.lon, "lon", -122.2712, "simulated loop center longitude")
	fs.Float64Var(&s.radiusM, "radius-m", 400, "simulated loop radius in meters")
	fs.IntVar(&s.points, "points", 60, "fixes per simulated loop")
	fs.BoolVar(&s.deny, "deny-location", false, "simulate a denied location permission")
	return s
}

func (s *simulation) provider() position.Provider {
	perm := position.PermissionGranted
	if s.deny {
		perm = position.PermissionDenied
	}
	return memposition.NewLoopingProvider(perm, loop(s.lat, s.lon, s.radiusM, s.points)...)
}

// loop returns n points evenly spaced on a circle of radiusM meters around (lat, lon).
func loop(lat, lon, radiusM float64, n int) []domain.Location {
	if n < 1 {
		n = 1
	}
	dLat := radiusM / metersPerDegreeLat
	dLon := radiusM / (metersPerDegreeLat * math.Cos(lat*math.Pi/180))
	out := make([]domain.Location, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		out = append(out, domain.Location{
			Latitude:  lat + dLat*math.Sin(theta),
			Longitude: lon + dLon*math.Cos(theta),
		})
	}
	return out
}
