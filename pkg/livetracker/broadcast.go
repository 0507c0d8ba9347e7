package livetracker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
)

// Router fans trip updates out to connections. Frames are encoded once per
// broadcast and delivery is best effort: a slow or closed connection only
// loses its own copy.
type Router struct {
	connections   *ConnectionRegistry
	subscriptions *SubscriptionRegistry
	scope         BroadcastScope

	metrics *Collector
}

func NewRouter(connections *ConnectionRegistry, subscriptions *SubscriptionRegistry, scope BroadcastScope, metrics *Collector) *Router {
	return &Router{
		connections:   connections,
		subscriptions: subscriptions,
		scope:         scope,
		metrics:       metrics,
	}
}

func (r *Router) Scope() BroadcastScope {
	return r.scope
}

// LocationUpdated announces the trip's current location as bus:location
func (r *Router) LocationUpdated(trip *ctdf.Trip) int {
	payload := BusLocation{
		TripID:      trip.PrimaryIdentifier,
		BusNumber:   trip.BusNumber,
		RouteNumber: trip.RouteNumber,
		Location:    trip.CurrentLocation,
	}

	var targets []string
	if r.scope == BroadcastScopeRoute {
		targets = r.subscriptions.MembersOf(trip.RouteNumber)
	} else {
		targets = r.connections.IDs()
	}

	return r.deliver(EventBusLocation, payload, targets)
}

// TripStarted announces a new trip on a route as trip:new
func (r *Router) TripStarted(tripRef string, routeNumber string) int {
	return r.announce(EventTripNew, TripAnnouncement{
		Message:     "New bus started on this route",
		TripID:      tripRef,
		RouteNumber: routeNumber,
	})
}

// TripEnded announces the end of a trip as trip:ended
func (r *Router) TripEnded(tripRef string, routeNumber string) int {
	return r.announce(EventTripEnded, TripAnnouncement{
		Message:     "Bus trip has ended",
		TripID:      tripRef,
		RouteNumber: routeNumber,
	})
}

func (r *Router) announce(event string, announcement TripAnnouncement) int {
	targets := r.subscriptions.MembersOf(announcement.RouteNumber)

	// Global scope sends to the route group and then to everyone
	if r.scope != BroadcastScopeRoute {
		targets = append(targets, r.connections.IDs()...)
	}

	return r.deliver(event, announcement, targets)
}

// Heartbeat sends the current time to every connection
func (r *Router) Heartbeat(now time.Time) int {
	return r.deliver(EventHeartbeat, Heartbeat{Timestamp: now.UnixMilli()}, r.connections.IDs())
}

func (r *Router) deliver(event string, payload interface{}, targets []string) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return 0
	}

	delivered := r.connections.SendMany(targets, frame)
	r.metrics.Deliveries.WithLabelValues(event).Add(float64(delivered))

	log.Debug().
		Str("event", event).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("Broadcast")

	return delivered
}
