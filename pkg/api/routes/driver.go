package routes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/trips"
)

// TripEventPublisher receives trip lifecycle changes made through the API
type TripEventPublisher interface {
	PublishTrip(eventType ctdf.EventType, trip *ctdf.Trip) error
}

// ActiveTripsLister lists active trips, optionally for one route
type ActiveTripsLister interface {
	ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error)
}

type activeTripsInvalidator interface {
	Invalidate(ctx context.Context, routeNumber string)
}

type TripRoutes struct {
	Store       trips.Store
	ActiveTrips ActiveTripsLister
	Events      TripEventPublisher

	Now func() time.Time
}

func (r *TripRoutes) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// DriverRouter serves the driver's own trips. Expects an authenticated driver.
func (r *TripRoutes) DriverRouter(router fiber.Router) {
	router.Post("/trip/start", r.startTrip)
	router.Post("/trip/location", r.updateLocation)
	router.Post("/trip/end", r.endTrip)
	router.Post("/trip/cancel", r.cancelTrip)
	router.Get("/trip/active", r.getActiveTrip)
	router.Get("/trips/history", r.getTripHistory)
}

type startTripRequest struct {
	BusNumber   string               `json:"busNumber" validate:"required"`
	RouteNumber string               `json:"routeNumber" validate:"required"`
	RouteName   string               `json:"routeName"`
	Location    *trips.LocationInput `json:"location" validate:"required"`
}

type tripLocationRequest struct {
	TripID   string               `json:"tripId" validate:"required"`
	Location *trips.LocationInput `json:"location" validate:"required"`
}

type tripRequest struct {
	TripID string `json:"tripId" validate:"required"`
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: malformed request body", ctdf.ErrValidation)
	}
	return ctdf.Validate(out)
}

func (r *TripRoutes) startTrip(c *fiber.Ctx) error {
	driver := identityFromContext(c)

	var request startTripRequest
	if err := parseBody(c, &request); err != nil {
		return sendError(c, err, "Server error while starting trip")
	}

	sample, err := request.Location.Sample(r.now())
	if err != nil {
		return sendError(c, err, "Server error while starting trip")
	}

	trip, err := r.Store.StartTrip(c.UserContext(), trips.StartTripParams{
		DriverRef:       driver.SubjectID,
		BusNumber:       request.BusNumber,
		RouteNumber:     request.RouteNumber,
		RouteName:       request.RouteName,
		InitialLocation: sample,
	})
	if err != nil {
		return sendError(c, err, "Server error while starting trip")
	}

	r.tripChanged(c.UserContext(), ctdf.EventTypeTripStarted, trip)

	reducedTrip, err := reduceTrip(trip, "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trip")
	}

	c.Status(fiber.StatusCreated)
	return c.JSON(fiber.Map{
		"message": "Trip started successfully",
		"trip":    reducedTrip,
	})
}

func (r *TripRoutes) updateLocation(c *fiber.Ctx) error {
	driver := identityFromContext(c)

	var request tripLocationRequest
	if err := parseBody(c, &request); err != nil {
		return sendError(c, err, "Server error while updating location")
	}

	sample, err := request.Location.Sample(r.now())
	if err != nil {
		return sendError(c, err, "Server error while updating location")
	}

	trip, err := r.Store.AppendLocation(c.UserContext(), request.TripID, driver.SubjectID, sample)
	if err != nil {
		return sendError(c, err, "Server error while updating location")
	}

	return c.JSON(fiber.Map{
		"message":         "Location updated successfully",
		"currentLocation": trip.CurrentLocation,
	})
}

func (r *TripRoutes) endTrip(c *fiber.Ctx) error {
	return r.finishTrip(c, r.Store.EndTrip, ctdf.EventTypeTripEnded, "Trip ended successfully", "Server error while ending trip")
}

func (r *TripRoutes) cancelTrip(c *fiber.Ctx) error {
	return r.finishTrip(c, r.Store.CancelTrip, ctdf.EventTypeTripCancelled, "Trip cancelled successfully", "Server error while cancelling trip")
}

type finishFunc func(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error)

func (r *TripRoutes) finishTrip(c *fiber.Ctx, finish finishFunc, eventType ctdf.EventType, message string, failureMessage string) error {
	driver := identityFromContext(c)

	var request tripRequest
	if err := parseBody(c, &request); err != nil {
		return sendError(c, err, failureMessage)
	}

	trip, err := finish(c.UserContext(), request.TripID, driver.SubjectID)
	if err != nil {
		return sendError(c, err, failureMessage)
	}

	r.tripChanged(c.UserContext(), eventType, trip)

	reducedTrip, err := reduceTrip(trip.WithoutHistory(), "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trip")
	}

	return c.JSON(fiber.Map{
		"message": message,
		"trip":    reducedTrip,
	})
}

func (r *TripRoutes) getActiveTrip(c *fiber.Ctx) error {
	driver := identityFromContext(c)

	trip, err := r.Store.FindActive(c.UserContext(), driver.SubjectID)
	if err != nil {
		return sendError(c, err, "Server error while fetching active trip")
	}

	if trip == nil {
		return c.JSON(fiber.Map{"trip": nil})
	}

	reducedTrip, err := reduceTrip(trip.WithoutHistory(), "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trip")
	}

	return c.JSON(fiber.Map{"trip": reducedTrip})
}

func (r *TripRoutes) getTripHistory(c *fiber.Ctx) error {
	driver := identityFromContext(c)

	query := trips.HistoryQuery{DriverRef: driver.SubjectID}

	if page := c.Query("page"); page != "" {
		parsed, err := strconv.Atoi(page)
		if err != nil {
			return sendError(c, fmt.Errorf("%w: page must be a number", ctdf.ErrValidation), "")
		}
		query.Page = parsed
	}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return sendError(c, fmt.Errorf("%w: limit must be a number", ctdf.ErrValidation), "")
		}
		query.PageSize = parsed
	}

	if statuses := c.Query("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			tripStatus := ctdf.TripStatus(strings.TrimSpace(status))
			if !tripStatus.IsTerminal() {
				return sendError(c, fmt.Errorf("%w: status must be completed or cancelled", ctdf.ErrValidation), "")
			}
			query.Statuses = append(query.Statuses, tripStatus)
		}
	}

	page, err := r.Store.ListHistory(c.UserContext(), query)
	if err != nil {
		return sendError(c, err, "Server error while fetching trip history")
	}

	reducedTrips, err := reduceTrip(page.Trips, "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trips")
	}

	return c.JSON(fiber.Map{
		"trips":       reducedTrips,
		"totalPages":  page.TotalPages,
		"currentPage": page.CurrentPage,
		"total":       page.Total,
	})
}

// tripChanged fans a lifecycle change out to the events queue and drops the
// cached active listings for the route. Failures are logged only.
func (r *TripRoutes) tripChanged(ctx context.Context, eventType ctdf.EventType, trip *ctdf.Trip) {
	if invalidator, ok := r.ActiveTrips.(activeTripsInvalidator); ok {
		invalidator.Invalidate(ctx, trip.RouteNumber)
	}

	if r.Events == nil {
		return
	}

	if err := r.Events.PublishTrip(eventType, trip); err != nil {
		log.Error().Err(err).Str("trip", trip.PrimaryIdentifier).Str("type", string(eventType)).Msg("Failed to publish trip event")
	}
}
