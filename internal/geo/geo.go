// Package geo computes great-circle distances between WGS 84 coordinates.
package geo

import "math"

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c is finite and within ±90 latitude and ±180 longitude.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Distance returns the haversine distance in meters between a and b.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	sinLat := math.Sin((lat2 - lat1) / 2)
	sinLng := math.Sin(radians(b.Lng-a.Lng) / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius reports whether player is at most radiusMeters from target.
// A distance equal to the radius counts as inside.
func WithinRadius(player, target Coordinate, radiusMeters float64) bool {
	return Distance(player, target) <= radiusMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
