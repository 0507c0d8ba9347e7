package consumer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/redis_client"
)

// RedisConsumer runs a pool of batch consumers on one rmq queue
type RedisConsumer struct {
	QueueName string

	NumberConsumers int
	BatchSize       int

	Timeout time.Duration

	Consumer rmq.BatchConsumer

	// Defaults to redis_client.QueueConnection
	Connection rmq.Connection

	// Address for the queue stats and health server, empty to disable
	StatsListen  string
	HealthChecks []HealthCheck
}

func (c *RedisConsumer) Setup() error {
	if c.Connection == nil {
		c.Connection = redis_client.QueueConnection
	}

	if err := c.startConsumers(); err != nil {
		return err
	}

	if c.StatsListen != "" {
		go c.startStatsServer()
	}

	return nil
}

func (c *RedisConsumer) startConsumers() error {
	log.Info().Str("queue", c.QueueName).Int("consumers", c.NumberConsumers).Msg("Starting consumers")

	queue, err := c.Connection.OpenQueue(c.QueueName)
	if err != nil {
		return err
	}
	if err := queue.StartConsuming(int64(c.NumberConsumers*c.BatchSize), 1*time.Second); err != nil {
		return err
	}

	for i := 0; i < c.NumberConsumers; i++ {
		name := fmt.Sprintf("%s-%d", c.QueueName, i)
		if _, err := queue.AddBatchConsumer(name, int64(c.BatchSize), c.Timeout, c.Consumer); err != nil {
			return err
		}
	}

	return nil
}

func (c *RedisConsumer) startStatsServer() {
	mux := http.NewServeMux()

	endpoint := fmt.Sprintf("/%s/stats", c.QueueName)
	mux.Handle(endpoint, NewStatsHandler(c.Connection))
	mux.Handle("/health", NewHealthHandler(c.HealthChecks...))

	log.Info().Msgf("Stats server listening on http://%s%s", c.StatsListen, endpoint)
	if err := http.ListenAndServe(c.StatsListen, mux); err != nil {
		log.Error().Err(err).Msg("Stats server stopped")
	}
}

// RunCleaner returns deliveries left unacked by dead consumers to their
// queues every interval until ctx is cancelled
func RunCleaner(ctx context.Context, connection rmq.Connection, interval time.Duration) {
	cleaner := rmq.NewCleaner(connection)

	log.Info().Str("interval", interval.String()).Msg("Starting queue cleaner process")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			returned, err := cleaner.Clean()
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean")
				continue
			}

			if returned != 0 {
				log.Info().Msgf("Cleaned %d records", returned)
			}
		}
	}
}
