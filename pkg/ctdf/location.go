package ctdf

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// LocationSample is a single observed vehicle position.
// Timestamp is the time the sample arrived at the server, not the device clock.
type LocationSample struct {
	Latitude  float64   `json:"latitude" groups:"basic"`
	Longitude float64   `json:"longitude" groups:"basic"`
	Timestamp time.Time `json:"timestamp" groups:"basic"`
	Speed     float64   `json:"speed" groups:"basic"`   // km/h
	Heading   float64   `json:"heading" groups:"basic"` // degrees
}

// DistanceKm is the great-circle distance between two samples using the haversine formula
func (l *LocationSample) DistanceKm(other *LocationSample) float64 {
	lat1 := degreesToRadians(l.Latitude)
	lat2 := degreesToRadians(other.Latitude)
	dLat := lat2 - lat1
	dLon := degreesToRadians(other.Longitude - l.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// NormaliseHeading wraps a heading in degrees into [0, 360)
func NormaliseHeading(heading float64) float64 {
	h := math.Mod(heading, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}
