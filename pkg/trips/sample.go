package trips

import (
	"time"

	"github.com/travigo/livetrack/pkg/ctdf"
)

// LocationInput is a position as reported by a driver device.
// Speed and heading are optional and default to 0.
type LocationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Sample validates the input and turns it into a LocationSample stamped with
// the arrival time.
func (l *LocationInput) Sample(arrivedAt time.Time) (ctdf.LocationSample, error) {
	if l == nil {
		return ctdf.LocationSample{}, ctdf.Validate(&LocationInput{})
	}

	if err := ctdf.Validate(l); err != nil {
		return ctdf.LocationSample{}, err
	}

	sample := ctdf.LocationSample{
		Latitude:  *l.Latitude,
		Longitude: *l.Longitude,
		Timestamp: arrivedAt,
	}

	if l.Speed != nil {
		sample.Speed = *l.Speed
	}
	if l.Heading != nil {
		sample.Heading = ctdf.NormaliseHeading(*l.Heading)
	}

	return sample, nil
}
