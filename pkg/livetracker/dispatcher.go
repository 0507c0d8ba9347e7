package livetracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/trips"
)

// Dispatcher handles inbound frames for a connection. Every failure is
// returned to the originating connection as an error frame; nothing here
// closes the connection.
type Dispatcher struct {
	connections   *ConnectionRegistry
	subscriptions *SubscriptionRegistry
	store         trips.Store
	router        *Router

	metrics *Collector
	now     func() time.Time
}

func NewDispatcher(connections *ConnectionRegistry, subscriptions *SubscriptionRegistry, store trips.Store, router *Router, metrics *Collector) *Dispatcher {
	return &Dispatcher{
		connections:   connections,
		subscriptions: subscriptions,
		store:         store,
		router:        router,
		metrics:       metrics,
		now:           time.Now,
	}
}

// operationError carries the message shown to the client when the cause is
// not one of the ctdf error taxonomy errors
type operationError struct {
	message string
	err     error
}

func (e *operationError) Error() string { return fmt.Sprintf("%s: %s", e.message, e.err) }
func (e *operationError) Unwrap() error { return e.err }

func failed(message string, err error) error {
	return &operationError{message: message, err: err}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, connectionID string, raw []byte) {
	d.connections.Touch(connectionID)

	frame, err := DecodeFrame(raw)
	if err != nil {
		d.reply(connectionID, "", fmt.Errorf("%w: malformed frame", ctdf.ErrValidation))
		return
	}

	d.metrics.EventsReceived.WithLabelValues(metricEventLabel(frame.Event)).Inc()

	var handleErr error
	switch frame.Event {
	case EventAuthenticate:
		handleErr = d.handleAuthenticate(ctx, connectionID, frame.Data)
	case EventLocationUpdate:
		handleErr = d.handleLocationUpdate(ctx, connectionID, frame.Data)
	case EventRouteSubscribe:
		handleErr = d.handleRouteSubscribe(connectionID, frame.Data)
	case EventRouteUnsubscribe:
		handleErr = d.handleRouteUnsubscribe(connectionID, frame.Data)
	case EventTripStarted:
		handleErr = d.handleTripAnnouncement(connectionID, frame.Data, d.router.TripStarted)
	case EventTripEnded:
		handleErr = d.handleTripAnnouncement(connectionID, frame.Data, d.router.TripEnded)
	default:
		handleErr = fmt.Errorf("%w: unknown event %q", ctdf.ErrValidation, frame.Event)
	}

	if handleErr != nil {
		d.reply(connectionID, frame.Event, handleErr)
	}
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, connectionID string, data json.RawMessage) error {
	var payload AuthenticatePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	verified, err := d.connections.Authenticate(ctx, connectionID, payload.Token)
	if err != nil {
		log.Info().Err(err).Str("connection", connectionID).Msg("Authentication failed")
		return err
	}

	log.Info().
		Str("connection", connectionID).
		Str("subject", verified.SubjectID).
		Str("role", string(verified.Role)).
		Msg("Connection authenticated")

	d.send(connectionID, EventAuthenticated, AuthenticatedAck{
		Message:   "Authentication successful",
		SubjectID: verified.SubjectID,
		Role:      verified.Role,
	})

	return nil
}

func (d *Dispatcher) handleLocationUpdate(ctx context.Context, connectionID string, data json.RawMessage) error {
	driver, err := d.requireDriver(connectionID, "Only drivers can share location")
	if err != nil {
		return err
	}

	var payload LocationUpdatePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	startTime := time.Now()

	sample, err := payload.Location.Sample(d.now())
	if err != nil {
		return err
	}

	trip, err := d.store.AppendLocation(ctx, payload.TripID, driver.SubjectID, sample)
	if errors.Is(err, ctdf.ErrNotFound) {
		return fmt.Errorf("%w: active trip not found", ctdf.ErrNotFound)
	}
	if err != nil {
		return failed("Failed to update location", err)
	}

	d.metrics.IngestDuration.Observe(time.Since(startTime).Seconds())

	delivered := d.router.LocationUpdated(trip)

	log.Debug().
		Str("connection", connectionID).
		Str("trip", trip.PrimaryIdentifier).
		Int("history", len(trip.LocationHistory)).
		Int("delivered", delivered).
		Msg("Location updated")

	return nil
}

func (d *Dispatcher) handleRouteSubscribe(connectionID string, data json.RawMessage) error {
	var payload RoutePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	if _, err := d.connections.Subscribe(connectionID, payload.RouteNumber); err != nil {
		return err
	}

	log.Debug().Str("connection", connectionID).Str("route", payload.RouteNumber).Msg("Subscribed to route")

	d.send(connectionID, EventRouteSubscribed, RouteAck{
		Message:     fmt.Sprintf("Subscribed to route %s", payload.RouteNumber),
		RouteNumber: payload.RouteNumber,
	})

	return nil
}

func (d *Dispatcher) handleRouteUnsubscribe(connectionID string, data json.RawMessage) error {
	var payload RoutePayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	d.subscriptions.Leave(connectionID, payload.RouteNumber)

	log.Debug().Str("connection", connectionID).Str("route", payload.RouteNumber).Msg("Unsubscribed from route")

	d.send(connectionID, EventRouteUnsubscribed, RouteAck{
		Message:     fmt.Sprintf("Unsubscribed from route %s", payload.RouteNumber),
		RouteNumber: payload.RouteNumber,
	})

	return nil
}

func (d *Dispatcher) handleTripAnnouncement(connectionID string, data json.RawMessage, announce func(tripRef string, routeNumber string) int) error {
	if _, err := d.requireDriver(connectionID, "Only drivers can announce trips"); err != nil {
		return err
	}

	var payload TripAnnouncementPayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	delivered := announce(payload.TripID, payload.RouteNumber)

	log.Info().
		Str("connection", connectionID).
		Str("trip", payload.TripID).
		Str("route", payload.RouteNumber).
		Int("delivered", delivered).
		Msg("Trip announced")

	return nil
}

func (d *Dispatcher) requireDriver(connectionID string, forbiddenMessage string) (ctdf.Identity, error) {
	identity, authenticated := d.connections.Identity(connectionID)
	if !authenticated {
		return ctdf.Identity{}, fmt.Errorf("%w: authentication required", ctdf.ErrAuth)
	}
	if !identity.IsDriver() {
		return ctdf.Identity{}, fmt.Errorf("%w: %s", ctdf.ErrForbidden, forbiddenMessage)
	}
	return identity, nil
}

func (d *Dispatcher) send(connectionID string, event string, payload interface{}) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode frame")
		return
	}

	d.connections.Send(connectionID, frame)
}

// reply sends the error frame for a failed operation
func (d *Dispatcher) reply(connectionID string, event string, err error) {
	code := ctdf.CodeOf(err)
	message := err.Error()

	var opErr *operationError
	if errors.As(err, &opErr) && code == ctdf.ErrorCodeInternal {
		message = opErr.message
	}

	var logEvent *zerolog.Event
	if code == ctdf.ErrorCodeInternal {
		logEvent = log.Error()
	} else {
		logEvent = log.Debug()
	}
	logEvent.Err(err).
		Str("connection", connectionID).
		Str("event", event).
		Str("code", string(code)).
		Msg("Operation failed")

	d.metrics.ErrorAcks.WithLabelValues(string(code)).Inc()

	d.send(connectionID, EventError, ErrorAck{Message: message, Code: code})
}

func decodePayload(data json.RawMessage, payload interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return ctdf.Validate(payload)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("%w: malformed payload", ctdf.ErrValidation)
	}

	return ctdf.Validate(payload)
}

// metricEventLabel keeps the label set bounded to the known inbound events
func metricEventLabel(event string) string {
	switch event {
	case EventAuthenticate, EventLocationUpdate, EventRouteSubscribe, EventRouteUnsubscribe, EventTripStarted, EventTripEnded:
		return event
	default:
		return "unknown"
	}
}
