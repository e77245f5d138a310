package hibernate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/session"
)

const defaultSnapshotsCollection = "session_snapshots"

// snapshotDoc is the Mongo document shape for a session.Snapshot, keyed by
// session id so Save is naturally an upsert.
type snapshotDoc struct {
	ID        string                    `bson:"_id"`
	Version   int                       `bson:"version"`
	Tick      int                       `bson:"tick"`
	Timeline  []content.TimelineEntry   `bson:"timeline"`
	State     session.ComponentState    `bson:"component_state"`
	Usage     usageDoc                  `bson:"usage"`
	Timestamp time.Time                 `bson:"timestamp"`
}

type usageDoc struct {
	InputTokens  int `bson:"input_tokens"`
	OutputTokens int `bson:"output_tokens"`
	TotalTokens  int `bson:"total_tokens"`
}

// MongoOptions configures a Mongo-backed SnapshotStore.
type MongoOptions struct {
	// Client is an established Mongo connection. Required.
	Client *mongodriver.Client
	// Database names the database holding the snapshots collection.
	Database string
	// Collection overrides the default "session_snapshots" collection name.
	Collection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// MongoStore implements session.SnapshotStore against a MongoDB collection,
// used as an alternate durable backend to RedisStore when a deployment
// already standardizes on Mongo for other persistence.
type MongoStore struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewMongoStore constructs a MongoStore. opts.Client is required.
func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultSnapshotsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoStore{
		coll:    opts.Client.Database(opts.Database).Collection(collName),
		timeout: timeout,
	}, nil
}

// Save implements session.SnapshotStore, upserting by session id.
func (s *MongoStore) Save(ctx context.Context, snap session.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := snapshotDoc{
		ID:       snap.SessionID,
		Version:  snap.Version,
		Tick:     snap.Tick,
		Timeline: snap.Timeline,
		State:    snap.ComponentState,
		Usage: usageDoc{
			InputTokens:  snap.Usage.InputTokens,
			OutputTokens: snap.Usage.OutputTokens,
			TotalTokens:  snap.Usage.TotalTokens,
		},
		Timestamp: snap.Timestamp,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": snap.SessionID}, doc, opts)
	if err != nil {
		return fmt.Errorf("hibernate: replace snapshot: %w", err)
	}
	return nil
}

// Load implements session.SnapshotStore.
func (s *MongoStore) Load(ctx context.Context, sessionID string) (session.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc snapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("hibernate: find snapshot: %w", err)
	}

	return session.Snapshot{
		Version:        doc.Version,
		SessionID:      doc.ID,
		Tick:           doc.Tick,
		Timeline:       doc.Timeline,
		ComponentState: doc.State,
		Usage: adapter.Usage{
			InputTokens:  doc.Usage.InputTokens,
			OutputTokens: doc.Usage.OutputTokens,
			TotalTokens:  doc.Usage.TotalTokens,
		},
		Timestamp: doc.Timestamp,
	}, true, nil
}

// Delete implements session.SnapshotStore.
func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("hibernate: delete snapshot: %w", err)
	}
	return nil
}
