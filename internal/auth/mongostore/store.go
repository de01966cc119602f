// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Natours Contributors

// Package mongostore implements auth.UserRepository on MongoDB.
//
// Documents are serialized through bson tags on userDocument. Collection
// names and indexes are managed in EnsureIndexes.
package mongostore

import (
	"context"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ColUsers is the users collection name.
const ColUsers = "users"

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Store holds a MongoDB client and the database it serves.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri, pings the server and ensures indexes on dbName.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" || dbName == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("mongodb uri and database name are required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect").Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background()) //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background()) //nolint:errcheck // index error takes precedence
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return oops.Code("DB_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Ping reports whether the server answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

// Users returns a repository over the users collection.
func (s *Store) Users() *UserRepository {
	return NewUserRepository(s.col(ColUsers))
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the indexes the repositories rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	type idx struct {
		col     string
		keys    bson.D
		unique  bool
		partial bson.D
	}

	indexes := []idx{
		{col: ColUsers, keys: bson.D{{Key: "email", Value: 1}}, unique: true},
		{
			col:     ColUsers,
			keys:    bson.D{{Key: "password_reset_token", Value: 1}},
			unique:  true,
			partial: bson.D{{Key: "password_reset_token", Value: bson.D{{Key: "$type", Value: "string"}}}},
		},
		{col: ColUsers, keys: bson.D{{Key: "created_at", Value: -1}}},
	}

	for _, i := range indexes {
		opts := options.Index()
		if i.unique {
			opts.SetUnique(true)
		}
		if i.partial != nil {
			opts.SetPartialFilterExpression(i.partial)
		}
		model := mongo.IndexModel{Keys: i.keys, Options: opts}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return oops.Code("DB_INDEX_FAILED").With("collection", i.col).Wrap(err)
		}
	}
	return nil
}
