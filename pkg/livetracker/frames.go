package livetracker

import (
	"encoding/json"

	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/trips"
)

// Event names on the real-time channel
const (
	EventAuthenticate      = "authenticate"
	EventAuthenticated     = "authenticated"
	EventError             = "error"
	EventLocationUpdate    = "location:update"
	EventBusLocation       = "bus:location"
	EventRouteSubscribe    = "route:subscribe"
	EventRouteSubscribed   = "route:subscribed"
	EventRouteUnsubscribe  = "route:unsubscribe"
	EventRouteUnsubscribed = "route:unsubscribed"
	EventTripStarted       = "trip:started"
	EventTripNew           = "trip:new"
	EventTripEnded         = "trip:ended"
	EventHeartbeat         = "heartbeat"
)

// Frame is the envelope of every message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeFrame(event string, data interface{}) ([]byte, error) {
	encodedData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Frame{Event: event, Data: encodedData})
}

func DecodeFrame(raw []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Inbound payloads

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type LocationUpdatePayload struct {
	TripID   string               `json:"tripId" validate:"required"`
	Location *trips.LocationInput `json:"location" validate:"required"`
}

type RoutePayload struct {
	RouteNumber string `json:"routeNumber" validate:"required"`
}

type TripAnnouncementPayload struct {
	TripID      string `json:"tripId" validate:"required"`
	RouteNumber string `json:"routeNumber" validate:"required"`
}

// Outbound payloads

type AuthenticatedAck struct {
	Message   string    `json:"message"`
	SubjectID string    `json:"subjectId"`
	Role      ctdf.Role `json:"role"`
}

type ErrorAck struct {
	Message string         `json:"message"`
	Code    ctdf.ErrorCode `json:"code"`
}

type RouteAck struct {
	Message     string `json:"message"`
	RouteNumber string `json:"routeNumber"`
}

type BusLocation struct {
	TripID      string               `json:"tripId"`
	BusNumber   string               `json:"busNumber"`
	RouteNumber string               `json:"routeNumber"`
	Location    *ctdf.LocationSample `json:"location"`
}

type TripAnnouncement struct {
	Message     string `json:"message"`
	TripID      string `json:"tripId"`
	RouteNumber string `json:"routeNumber"`
}

type Heartbeat struct {
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}
