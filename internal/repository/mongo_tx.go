package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoTransactor implements domain.Transactor on top of MongoDB sessions.
// The server must run as a replica set.
type MongoTransactor struct {
	client *mongo.Client
}

func NewMongoTransactor(db *mongo.Database) *MongoTransactor {
	return &MongoTransactor{client: db.Client()}
}

// WithinTransaction runs fn with a session context. Repository calls made with that
// context are committed or aborted together. Transient errors are retried by the driver.
func (t *MongoTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := t.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, opts)
	return err
}
