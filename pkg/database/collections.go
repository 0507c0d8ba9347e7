package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const TripsCollection = "trips"

// indexCreator is the part of mongo.IndexView used to create indexes
type indexCreator interface {
	CreateMany(ctx context.Context, models []mongo.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error)
}

func createIndexes(ctx context.Context) error {
	return createTripsIndexes(ctx, GetCollection(TripsCollection).Indexes())
}

// TripsIndexes are the indexes on the trips collection.
// driverref_active_unique allows at most one active trip per driver.
func TripsIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "primaryidentifier", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "driverref", Value: 1}},
			Options: options.Index().
				SetName("driverref_active_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "active"}),
		},
		{
			Keys: bson.D{{Key: "driverref", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "routenumber", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "starttime", Value: -1}},
		},
	}
}

// createTripsIndexes fails when any trips index, driverref_active_unique in
// particular, cannot be created. Trip starts rely on it for exclusivity across instances.
func createTripsIndexes(ctx context.Context, indexes indexCreator) error {
	if _, err := indexes.CreateMany(ctx, TripsIndexes(), options.CreateIndexes()); err != nil {
		return fmt.Errorf("creating trips indexes: %w", err)
	}

	return nil
}
