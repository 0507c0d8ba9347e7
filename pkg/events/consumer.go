package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/livetrack/pkg/ctdf"
)

const archiveConcurrency = 4

// tripEvent is a ctdf.Event as read back from the queue
type tripEvent struct {
	Type      ctdf.EventType
	Timestamp time.Time
	Body      ctdf.TripEventBody
}

// ArchivedTrip is the document indexed for every finished trip
type ArchivedTrip struct {
	ctdf.TripEventBody

	Event      ctdf.EventType
	ArchivedAt time.Time
}

// IndexFunc stores a document in the named index
type IndexFunc func(indexName string, document io.ReadSeeker)

type BatchConsumer struct {
	index IndexFunc
	now   func() time.Time
}

func NewBatchConsumer(index IndexFunc) *BatchConsumer {
	return &BatchConsumer{index: index, now: time.Now}
}

// Consume archives the finished trips in the batch concurrently and acks each
// delivery once its archive request has been queued
func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	var decoded []rmq.Delivery
	p := pool.New().WithMaxGoroutines(archiveConcurrency)

	for _, delivery := range batch {
		var event tripEvent
		if err := json.Unmarshal([]byte(delivery.Payload()), &event); err != nil {
			log.Error().Err(err).Msg("Failed to decode trip event")

			if err := delivery.Reject(); err != nil {
				log.Error().Err(err).Msg("Failed to reject trip event")
			}
			continue
		}

		if log.Debug().Enabled() {
			pretty.Println(event)
		}

		log.Info().
			Str("type", string(event.Type)).
			Str("trip", event.Body.PrimaryIdentifier).
			Str("route", event.Body.RouteNumber).
			Msg("Trip event")

		switch event.Type {
		case ctdf.EventTypeTripEnded, ctdf.EventTypeTripCancelled:
			p.Go(func() {
				consumer.archive(&event)
			})
		}

		decoded = append(decoded, delivery)
	}

	p.Wait()

	for _, delivery := range decoded {
		if err := delivery.Ack(); err != nil {
			log.Error().Err(err).Msg("Failed to ack trip event")
		}
	}
}

func (consumer *BatchConsumer) archive(event *tripEvent) {
	if consumer.index == nil {
		return
	}

	now := consumer.now()
	document, err := json.Marshal(ArchivedTrip{
		TripEventBody: event.Body,
		Event:         event.Type,
		ArchivedAt:    now,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode archived trip")
		return
	}

	consumer.index(archiveIndexName(now), bytes.NewReader(document))
}

func archiveIndexName(t time.Time) string {
	return fmt.Sprintf("livetrack-trips-%d-%02d", t.Year(), t.Month())
}
