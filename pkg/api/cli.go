package api

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/livetrack/pkg/database"
	"github.com/travigo/livetrack/pkg/events"
	"github.com/travigo/livetrack/pkg/identity"
	"github.com/travigo/livetrack/pkg/livetracker"
	"github.com/travigo/livetrack/pkg/redis_client"
	"github.com/travigo/livetrack/pkg/trips"
	"github.com/travigo/livetrack/pkg/util"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Provides the trip REST API and the live tracking websocket",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
				},
				Action: func(c *cli.Context) error {
					env := util.GetEnvironmentVariables()

					if err := redis_client.Connect(); err != nil {
						return err
					}

					tripStore, err := setupStore(env["TRAVIGO_LIVETRACK_STORE"])
					if err != nil {
						return err
					}

					verifier, err := identity.NewJWTVerifier(identity.GetJWTConfig())
					if err != nil {
						return err
					}

					publisher, err := events.NewPublisher(redis_client.QueueConnection)
					if err != nil {
						return err
					}

					cacheTTL := trips.DefaultActiveTripsCacheTTL
					if env["TRAVIGO_LIVETRACK_ACTIVE_CACHE_TTL"] != "" {
						if cacheTTL, err = time.ParseDuration(env["TRAVIGO_LIVETRACK_ACTIVE_CACHE_TTL"]); err != nil {
							return fmt.Errorf("invalid TRAVIGO_LIVETRACK_ACTIVE_CACHE_TTL: %w", err)
						}
					}

					tracker := livetracker.New(livetracker.GetConfig(), verifier, tripStore)

					webApp := NewApp(ServerConfig{
						Verifier:    verifier,
						Store:       tripStore,
						ActiveTrips: trips.NewActiveTripsCache(tripStore, redis_client.Client, cacheTTL),
						Events:      publisher,
						Tracker:     tracker,
					})

					ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					var wg conc.WaitGroup
					wg.Go(func() {
						tracker.Monitor.Run(ctx)
					})
					wg.Go(func() {
						<-ctx.Done()
						log.Info().Msg("Shutting down web server")

						if err := webApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
							log.Error().Err(err).Msg("Web server shutdown failed")
						}
					})

					log.Info().Str("listen", c.String("listen")).Str("scope", string(tracker.Config.BroadcastScope)).Msg("Starting web server")

					listenErr := webApp.Listen(c.String("listen"))
					stop()
					wg.Wait()

					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if env["TRAVIGO_LIVETRACK_STORE"] != "memory" {
						if err := database.Disconnect(shutdownCtx); err != nil {
							log.Error().Err(err).Msg("Failed to disconnect from database")
						}
					}

					return listenErr
				},
			},
		},
	}
}

func setupStore(kind string) (trips.Store, error) {
	switch kind {
	case "", "mongodb":
		if err := database.Connect(); err != nil {
			return nil, err
		}

		return trips.NewMongoStore(database.GetCollection(database.TripsCollection)), nil
	case "memory":
		log.Warn().Msg("Using in-memory trip store, trips will not survive a restart")

		return trips.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown TRAVIGO_LIVETRACK_STORE %q", kind)
	}
}
