package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/travigo/livetrack/pkg/api/routes"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/identity"
	"github.com/travigo/livetrack/pkg/livetracker"
	"github.com/travigo/livetrack/pkg/trips"
)

type ServerConfig struct {
	Verifier    identity.Verifier
	Store       trips.Store
	ActiveTrips routes.ActiveTripsLister
	Events      routes.TripEventPublisher
	Tracker     *livetracker.Tracker
}

func NewApp(config ServerConfig) *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())
	webApp.Use(recover.New())

	webApp.Get("/health", routes.Health(time.Now()))

	if config.Tracker != nil {
		webApp.Get("/metrics", adaptor.HTTPHandler(config.Tracker.Metrics.Handler()))
		webApp.Get("/ws", livetracker.UpgradeRequired, config.Tracker.WebsocketHandler())
	}

	tripRoutes := &routes.TripRoutes{
		Store:       config.Store,
		ActiveTrips: config.ActiveTrips,
		Events:      config.Events,
	}

	group := webApp.Group("/api")

	tripRoutes.DriverRouter(group.Group("/driver", EnsureValidToken(config.Verifier), RequireRole(ctdf.RoleDriver)))
	tripRoutes.TripsRouter(group.Group("/trips", EnsureValidToken(config.Verifier)))

	return webApp
}
