package ctdf

import (
	"time"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Body      interface{}
}

type EventType string

const (
	EventTypeTripStarted   EventType = "TripStarted"
	EventTypeTripEnded     EventType = "TripEnded"
	EventTypeTripCancelled EventType = "TripCancelled"
)

// TripEventBody is the body of the trip lifecycle events placed on the events queue.
// Field names follow Trip so a body can be copied straight from one.
type TripEventBody struct {
	PrimaryIdentifier string
	DriverRef         string
	BusNumber         string
	RouteNumber       string
	RouteName         string `json:",omitempty"`

	Status    TripStatus
	StartTime time.Time
	EndTime   *time.Time `json:",omitempty"`

	TotalDistance float64
	AverageSpeed  float64
}
