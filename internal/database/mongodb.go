package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noosphere/hub/pkg/logger"
)

// Collection names.
const (
	UsersCollection       = "users"
	AuthoritiesCollection = "authorities"
)

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// ConnectMongoWithRetry retries ConnectMongo with exponential backoff until
// maxElapsed has passed.
func ConnectMongoWithRetry(ctx context.Context, uri string, timeout, maxElapsed time.Duration) (*mongo.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = maxElapsed

	var client *mongo.Client
	op := func() error {
		c, err := ConnectMongo(ctx, uri, timeout)
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warnf("mongo not ready, retrying in %s: %v", next.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return client, nil
}

// userIndexes keeps email and api key unique when present. Both are
// partial so users without them do not collide.
func userIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$gt": ""}}),
		},
		{
			Keys: bson.D{{Key: "apiKey", Value: 1}},
			Options: options.Index().SetName("uniq_api_key").SetUnique(true).
				SetPartialFilterExpression(bson.M{"apiKey": bson.M{"$gt": ""}}),
		},
	}
}

// EnsureUserIndexes creates the user indexes if they do not exist.
func EnsureUserIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(UsersCollection).Indexes().CreateMany(ctx, userIndexes()); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}
