package redis_client

import (
	"context"
	"strconv"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/util"
)

var Client *redis.Client
var QueueConnection rmq.Connection

const defaultConnectionAddress = "localhost:6379"
const defaultConnectionPassword = ""
const defaultDatabase = 0

func Connect() error {
	address := defaultConnectionAddress
	password := defaultConnectionPassword
	database := defaultDatabase

	env := util.GetEnvironmentVariables()

	if env["TRAVIGO_REDIS_ADDRESS"] != "" {
		address = env["TRAVIGO_REDIS_ADDRESS"]
	}

	if env["TRAVIGO_REDIS_PASSWORD"] != "" {
		password = env["TRAVIGO_REDIS_PASSWORD"]
	}

	if env["TRAVIGO_REDIS_DATABASE"] != "" {
		if n, err := strconv.Atoi(env["TRAVIGO_REDIS_DATABASE"]); err == nil {
			database = n
		} else {
			return err
		}
	}

	Client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	statusCmd := Client.Ping(context.Background())
	err := statusCmd.Err()
	if err != nil {
		return err
	}

	errChan := make(chan error, 10)
	go logQueueErrors(errChan)

	QueueConnection, err = rmq.OpenConnectionWithRedisClient("livetrack", Client, errChan)
	if err != nil {
		return err
	}

	return nil
}

func logQueueErrors(errChan <-chan error) {
	for err := range errChan {
		switch err := err.(type) {
		case *rmq.HeartbeatError:
			if err.Count == rmq.HeartbeatErrorLimit {
				log.Error().Err(err).Msg("Queue heartbeat error limit reached")
			} else {
				log.Warn().Err(err).Msg("Queue heartbeat error")
			}
		case *rmq.ConsumeError:
			log.Error().Err(err).Msg("Queue consume error")
		case *rmq.DeliveryError:
			log.Error().Err(err).Msg("Queue delivery error")
		default:
			log.Error().Err(err).Msg("Queue error")
		}
	}
}
