package events

import (
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/jinzhu/copier"
	"github.com/travigo/livetrack/pkg/ctdf"
)

const TripEventsQueue = "trip-events-queue"

// Publisher places trip lifecycle events on the trip events queue
type Publisher struct {
	queue rmq.Queue
	now   func() time.Time
}

func NewPublisher(connection rmq.Connection) (*Publisher, error) {
	queue, err := connection.OpenQueue(TripEventsQueue)
	if err != nil {
		return nil, err
	}

	return &Publisher{queue: queue, now: time.Now}, nil
}

func (p *Publisher) PublishTrip(eventType ctdf.EventType, trip *ctdf.Trip) error {
	event, err := NewTripEvent(eventType, trip, p.now())
	if err != nil {
		return err
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.queue.PublishBytes(eventBytes)
}

// NewTripEvent builds a lifecycle event carrying the trip summary, without location history
func NewTripEvent(eventType ctdf.EventType, trip *ctdf.Trip, timestamp time.Time) (*ctdf.Event, error) {
	var body ctdf.TripEventBody
	if err := copier.Copy(&body, trip); err != nil {
		return nil, err
	}

	return &ctdf.Event{
		Type:      eventType,
		Timestamp: timestamp,
		Body:      body,
	}, nil
}
