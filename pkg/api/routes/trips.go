package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/travigo/livetrack/pkg/ctdf"
)

// TripsRouter serves trip lookups to any authenticated user
func (r *TripRoutes) TripsRouter(router fiber.Router) {
	router.Get("/active", r.listActiveTrips)
	router.Get("/:tripId", r.getTrip)
}

func (r *TripRoutes) listActiveTrips(c *fiber.Ctx) error {
	lister := r.ActiveTrips
	if lister == nil {
		lister = r.Store
	}

	activeTrips, err := lister.ListActive(c.UserContext(), c.Query("routeNumber"))
	if err != nil {
		return sendError(c, err, "Server error while fetching active trips")
	}
	if activeTrips == nil {
		activeTrips = []ctdf.Trip{}
	}

	reducedTrips, err := reduceTrip(activeTrips, "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trips")
	}

	return c.JSON(fiber.Map{
		"trips": reducedTrips,
	})
}

func (r *TripRoutes) getTrip(c *fiber.Ctx) error {
	trip, err := r.Store.GetTrip(c.UserContext(), c.Params("tripId"))
	if err != nil {
		return sendError(c, err, "Server error while fetching trip")
	}

	reducedTrip, err := reduceTrip(trip.WithoutHistory(), "basic")
	if err != nil {
		return sendError(c, err, "Sherrif could not reduce trip")
	}

	return c.JSON(fiber.Map{
		"trip": reducedTrip,
	})
}
