package trips

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists trips in the trips collection.
//
// Starting a trip is guarded by the driverref_active_unique partial index so
// concurrent starts across instances resolve to a single winner. Within an
// instance, work on the same driver or trip is serialised so updates to a
// trip are applied in arrival order.
type MongoStore struct {
	collection *mongo.Collection

	driverLocks *keyedMutex
	tripLocks   *keyedMutex

	now func() time.Time
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{
		collection:  collection,
		driverLocks: newKeyedMutex(),
		tripLocks:   newKeyedMutex(),
		now:         time.Now,
	}
}

func (m *MongoStore) StartTrip(ctx context.Context, params StartTripParams) (*ctdf.Trip, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	unlock := m.driverLocks.Lock(params.DriverRef)
	defer unlock()

	existing, err := m.FindActive(ctx, params.DriverRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ctdf.ErrConflict
	}

	trip := newTrip(params, m.now())

	_, err = m.collection.InsertOne(ctx, trip)
	if err != nil {
		return nil, mapWriteError(err)
	}

	log.Debug().
		Str("trip", trip.PrimaryIdentifier).
		Str("driver", trip.DriverRef).
		Str("route", trip.RouteNumber).
		Msg("Trip started")

	return &trip, nil
}

func (m *MongoStore) FindActive(ctx context.Context, driverRef string) (*ctdf.Trip, error) {
	var trip *ctdf.Trip
	err := m.collection.FindOne(ctx, bson.M{"driverref": driverRef, "status": ctdf.TripStatusActive}).Decode(&trip)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return trip, nil
}

func (m *MongoStore) GetTrip(ctx context.Context, tripRef string) (*ctdf.Trip, error) {
	var trip *ctdf.Trip
	err := m.collection.FindOne(ctx, bson.M{"primaryidentifier": tripRef}).Decode(&trip)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ctdf.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return trip, nil
}

func (m *MongoStore) ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error) {
	filter := bson.M{"status": ctdf.TripStatusActive}
	if routeNumber != "" {
		filter["routenumber"] = routeNumber
	}

	opts := options.Find().
		SetProjection(bson.D{{Key: "locationhistory", Value: 0}}).
		SetSort(bson.D{{Key: "starttime", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	trips := []ctdf.Trip{}
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, err
	}

	return trips, nil
}

func (m *MongoStore) AppendLocation(ctx context.Context, tripRef string, driverRef string, sample ctdf.LocationSample) (*ctdf.Trip, error) {
	unlock := m.tripLocks.Lock(tripRef)
	defer unlock()

	filter := ownedActiveTripFilter(tripRef, driverRef)

	var trip ctdf.Trip
	err := m.collection.FindOne(ctx, filter).Decode(&trip)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ctdf.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	updated := Ingest(trip, sample)
	updated.ModificationDateTime = m.now()

	result, err := m.collection.UpdateOne(ctx, filter, bson.M{"$set": locationUpdate(&updated)})
	if err != nil {
		return nil, err
	}

	// Closed by another instance between the read and the write
	if result.MatchedCount == 0 {
		return nil, ctdf.ErrNotFound
	}

	return &updated, nil
}

func (m *MongoStore) EndTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error) {
	return m.finish(ctx, tripRef, driverRef, ctdf.TripStatusCompleted)
}

func (m *MongoStore) CancelTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error) {
	return m.finish(ctx, tripRef, driverRef, ctdf.TripStatusCancelled)
}

func (m *MongoStore) finish(ctx context.Context, tripRef string, driverRef string, status ctdf.TripStatus) (*ctdf.Trip, error) {
	unlock := m.tripLocks.Lock(tripRef)
	defer unlock()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var trip *ctdf.Trip
	err := m.collection.FindOneAndUpdate(ctx, ownedActiveTripFilter(tripRef, driverRef), finishUpdate(status, m.now()), opts).Decode(&trip)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ctdf.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("trip", trip.PrimaryIdentifier).
		Str("driver", trip.DriverRef).
		Str("status", string(trip.Status)).
		Msg("Trip finished")

	return trip, nil
}

func (m *MongoStore) ListHistory(ctx context.Context, query HistoryQuery) (*HistoryPage, error) {
	query = query.Normalise()
	filter := historyFilter(query)

	total, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	cursor, err := m.collection.Find(ctx, filter, historyFindOptions(query))
	if err != nil {
		return nil, err
	}

	var trips []ctdf.Trip
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, err
	}

	return newHistoryPage(query, trips, total), nil
}

func ownedActiveTripFilter(tripRef string, driverRef string) bson.M {
	return bson.M{
		"primaryidentifier": tripRef,
		"driverref":         driverRef,
		"status":            ctdf.TripStatusActive,
	}
}

func locationUpdate(trip *ctdf.Trip) bson.M {
	return bson.M{
		"currentlocation":      trip.CurrentLocation,
		"locationhistory":      trip.LocationHistory,
		"totaldistance":        trip.TotalDistance,
		"averagespeed":         trip.AverageSpeed,
		"speedsum":             trip.SpeedSum,
		"modificationdatetime": trip.ModificationDateTime,
	}
}

func finishUpdate(status ctdf.TripStatus, now time.Time) bson.M {
	set := bson.M{
		"status":               status,
		"modificationdatetime": now,
	}
	if status == ctdf.TripStatusCompleted {
		set["endtime"] = now
	}

	return bson.M{"$set": set}
}

func historyFilter(query HistoryQuery) bson.M {
	return bson.M{
		"driverref": query.DriverRef,
		"status":    bson.M{"$in": query.Statuses},
	}
}

func historyFindOptions(query HistoryQuery) *options.FindOptions {
	return options.Find().
		SetProjection(bson.D{{Key: "locationhistory", Value: 0}}).
		SetSort(bson.D{{Key: "starttime", Value: -1}}).
		SetSkip(query.skip()).
		SetLimit(int64(query.PageSize))
}

// mapWriteError turns a violation of driverref_active_unique into ErrConflict
func mapWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ctdf.ErrConflict
	}
	return err
}
