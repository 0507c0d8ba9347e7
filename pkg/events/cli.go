package events

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/consumer"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/elastic_client"
	"github.com/travigo/livetrack/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Consumes trip lifecycle events",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the trip events consumer",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "stats-listen",
						Value: ":3333",
						Usage: "listen target for the queue stats and health server",
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					defer elastic_client.WaitUntilQueueEmpty()

					redisConsumer := consumer.RedisConsumer{
						QueueName:       TripEventsQueue,
						NumberConsumers: 5,
						BatchSize:       20,
						Timeout:         2 * time.Second,
						Consumer:        NewBatchConsumer(elastic_client.IndexRequest),
						StatsListen:     c.String("stats-listen"),
						HealthChecks:    []consumer.HealthCheck{consumer.RedisHealthCheck(redis_client.Client)},
					}
					if err := redisConsumer.Setup(); err != nil {
						return err
					}

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					return nil
				},
			},
			{
				Name:  "cleaner",
				Usage: "run the queue cleaner for the trip events queue",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					consumer.RunCleaner(ctx, redis_client.QueueConnection, 5*time.Minute)

					return nil
				},
			},
			{
				Name:  "test-event",
				Usage: "publish a test TripEnded event",
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					publisher, err := NewPublisher(redis_client.QueueConnection)
					if err != nil {
						log.Fatal().Err(err).Msg("Failed to start event queue")
					}

					now := time.Now()
					startTime := now.Add(-45 * time.Minute)

					trip := &ctdf.Trip{
						PrimaryIdentifier: "test-trip",
						DriverRef:         "test-driver",
						BusNumber:         "101",
						RouteNumber:       "R1",
						Status:            ctdf.TripStatusCompleted,
						StartTime:         startTime,
						EndTime:           &now,
						TotalDistance:     12.4,
						AverageSpeed:      21.5,
					}

					return publisher.PublishTrip(ctdf.EventTypeTripEnded, trip)
				},
			},
		},
	}
}
