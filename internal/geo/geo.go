// Package geo provides WGS84 coordinate handling and great-circle distance
// math used for latency feasibility checks.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used for all distance math.
const EarthRadiusKm = 6371.0

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// DistanceKm returns the great-circle distance in kilometers using the
// equirectangular approximation. Accurate enough at city resolution and
// cheap enough to run for every candidate/anchor pair.
func (c Coordinate) DistanceKm(o Coordinate) float64 {
	lat1 := radians(c.Lat)
	lon1 := radians(c.Lon)
	lat2 := radians(o.Lat)
	lon2 := radians(o.Lon)

	x := (lon2 - lon1) * math.Cos(0.5*(lat2+lat1))
	y := lat2 - lat1
	return math.Sqrt(x*x+y*y) * EarthRadiusKm
}

// HaversineKm returns the great-circle distance in kilometers using the
// haversine formula.
func (c Coordinate) HaversineKm(o Coordinate) float64 {
	lat1 := radians(c.Lat)
	lon1 := radians(c.Lon)
	lat2 := radians(o.Lat)
	lon2 := radians(o.Lon)

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := sq(math.Sin(dLat/2)) + math.Cos(lat1)*math.Cos(lat2)*sq(math.Sin(dLon/2))
	return 2 * math.Asin(math.Sqrt(h)) * EarthRadiusKm
}

// InRadius reports whether o lies within radiusKm of c.
func (c Coordinate) InRadius(o Coordinate, radiusKm float64) bool {
	return c.HaversineKm(o) <= radiusKm
}

// Offset returns the coordinate reached by traveling distanceKm from c at
// the given bearing (degrees clockwise from north).
func (c Coordinate) Offset(distanceKm, bearingDeg float64) Coordinate {
	bearing := radians(bearingDeg)
	angular := distanceKm / EarthRadiusKm
	lat := radians(c.Lat)
	lon := radians(c.Lon)

	newLat := math.Asin(math.Sin(lat)*math.Cos(angular) +
		math.Cos(lat)*math.Sin(angular)*math.Cos(bearing))
	dLon := math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat),
		math.Cos(angular)-math.Sin(lat)*math.Sin(newLat))
	newLon := math.Mod(lon+dLon+3*math.Pi, 2*math.Pi) - math.Pi

	return Coordinate{Lat: degrees(newLat), Lon: degrees(newLon)}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
func sq(v float64) float64        { return v * v }
