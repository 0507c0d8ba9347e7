package ctdf

import (
	"time"
)

// LocationHistoryCapacity is the number of samples retained on a Trip
const LocationHistoryCapacity = 100

type TripStatus string

const (
	TripStatusActive    TripStatus = "active"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from this status
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripStatusActive, TripStatusCompleted, TripStatusCancelled:
		return true
	}
	return false
}

// Trip is a single vehicle run from trip start until completion or cancellation.
// One document per trip, keyed by PrimaryIdentifier.
type Trip struct {
	PrimaryIdentifier string `json:"id" groups:"basic"`

	DriverRef   string `json:"driverId" groups:"basic"`
	BusNumber   string `json:"busNumber" groups:"basic"`
	RouteNumber string `json:"routeNumber" groups:"basic"`
	RouteName   string `json:"routeName,omitempty" groups:"basic"`

	Status TripStatus `json:"status" groups:"basic"`

	StartTime time.Time  `json:"startTime" groups:"basic"`
	EndTime   *time.Time `json:"endTime,omitempty" groups:"basic"`

	CurrentLocation *LocationSample  `json:"currentLocation,omitempty" groups:"basic"`
	LocationHistory []LocationSample `json:"locationHistory,omitempty" groups:"detailed"`

	TotalDistance float64 `json:"totalDistance" groups:"basic"` // km
	AverageSpeed  float64 `json:"averageSpeed" groups:"basic"`  // km/h

	// Running sum of Speed over LocationHistory, kept so the average is O(1) per sample
	SpeedSum float64 `json:"-"`

	CreationDateTime     time.Time `json:"createdAt" groups:"detailed"`
	ModificationDateTime time.Time `json:"updatedAt" groups:"detailed"`
}

func (t *Trip) IsActive() bool {
	return t.Status == TripStatusActive
}

// OwnedBy reports whether the trip is active and belongs to driverRef.
// Location updates and trip closure are only accepted when this holds.
func (t *Trip) OwnedBy(driverRef string) bool {
	return t.IsActive() && t.DriverRef == driverRef
}

// WithoutHistory returns a copy of the trip with the location history removed,
// used for listings where the history is not needed.
func (t Trip) WithoutHistory() Trip {
	t.LocationHistory = nil
	return t
}
