package trips

import (
	"github.com/travigo/livetrack/pkg/ctdf"
)

// Ingest folds a location sample into a trip and returns the updated trip.
// The input trip is not modified.
//
// The history keeps the most recent ctdf.LocationHistoryCapacity samples in
// arrival order, dropping the oldest first. AverageSpeed is the mean speed over
// the retained history and is maintained from a running sum. TotalDistance
// accumulates the great-circle distance from the previous sample.
func Ingest(trip ctdf.Trip, sample ctdf.LocationSample) ctdf.Trip {
	if trip.CurrentLocation != nil {
		trip.TotalDistance += trip.CurrentLocation.DistanceKm(&sample)
	}

	current := sample
	trip.CurrentLocation = &current

	history := trip.LocationHistory
	if len(history) == 0 {
		trip.SpeedSum = 0
	}

	if overflow := len(history) + 1 - ctdf.LocationHistoryCapacity; overflow > 0 {
		for _, dropped := range history[:overflow] {
			trip.SpeedSum -= dropped.Speed
		}
		history = history[overflow:]
	}

	retained := make([]ctdf.LocationSample, len(history), len(history)+1)
	copy(retained, history)
	trip.LocationHistory = append(retained, sample)

	trip.SpeedSum += sample.Speed
	trip.AverageSpeed = trip.SpeedSum / float64(len(trip.LocationHistory))

	return trip
}
