package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/chatflow/pkg/api"
)

// MongoExecutionStore is an ExecutionStore backed by a MongoDB collection.
// The snapshot is stored as JSON bytes next to indexed flow and status
// fields.
type MongoExecutionStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// Ensure it implements ExecutionStore.
var _ ExecutionStore = (*MongoExecutionStore)(nil)

// NewMongoExecutionStore creates a Mongo-backed execution store.
// dbName defaults to "chatflow" if empty, collName defaults to "executions".
func NewMongoExecutionStore(client *mongo.Client, dbName, collName string) *MongoExecutionStore {
	if dbName == "" {
		dbName = "chatflow"
	}
	if collName == "" {
		collName = "executions"
	}

	return &MongoExecutionStore{
		coll:    client.Database(dbName).Collection(collName),
		timeout: 5 * time.Second,
	}
}

type mongoExecutionDoc struct {
	ID        string    `bson:"_id"`
	FlowID    string    `bson:"flow_id"`
	Status    string    `bson:"status"`
	StartedAt time.Time `bson:"started_at"`
	Snapshot  []byte    `bson:"snapshot"`
}

func (s *MongoExecutionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoExecutionStore) Upsert(ctx context.Context, exec *api.FlowExecution) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	snapshot, err := EncodeExecution(exec)
	if err != nil {
		return err
	}

	doc := mongoExecutionDoc{
		ID:        exec.ID,
		FlowID:    exec.FlowID,
		Status:    string(exec.Status),
		StartedAt: exec.StartedAt,
		Snapshot:  snapshot,
	}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": exec.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoExecutionStore) Get(ctx context.Context, id string) (*api.FlowExecution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc mongoExecutionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return DecodeExecution(doc.Snapshot)
}

func (s *MongoExecutionStore) List(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := bson.M{}
	if filter.FlowID != "" {
		q["flow_id"] = filter.FlowID
	}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	executions := []*api.FlowExecution{}
	for cur.Next(ctx) {
		var doc mongoExecutionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		exec, err := DecodeExecution(doc.Snapshot)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return executions, nil
}
