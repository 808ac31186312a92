package output

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sluice/internal/constants"
	"sluice/pkg/metrics"
	"sluice/pkg/migrations"
)

const maxSampleMessages = 5

// FailedBatch is a batch that exhausted its delivery attempts.
type FailedBatch struct {
	BatchID     string    `bson:"batch_id" json:"batch_id"`
	Destination string    `bson:"destination" json:"destination"`
	Target      string    `bson:"target" json:"target"`
	EventCount  int       `bson:"event_count" json:"event_count"`
	EventIDs    []string  `bson:"event_ids" json:"event_ids"`
	Samples     []string  `bson:"samples" json:"samples"`
	Attempts    int       `bson:"attempts" json:"attempts"`
	Error       string    `bson:"error" json:"error"`
	FailedAt    time.Time `bson:"failed_at" json:"failed_at"`
}

type FailureQuery struct {
	Destination string
	Since       time.Time
	Limit       int
}

func (q FailureQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return constants.DefaultLimit
	case q.Limit > constants.MaxLimit:
		return constants.MaxLimit
	default:
		return q.Limit
	}
}

type FailureIndex interface {
	Record(ctx context.Context, batch FailedBatch) error
	List(ctx context.Context, q FailureQuery) ([]FailedBatch, error)
}

type MongoFailureIndex struct {
	coll *mongo.Collection
}

// NewMongoFailureIndex ensures the index collection's indexes and returns
// an index backed by it.
func NewMongoFailureIndex(ctx context.Context, db *mongo.Database, collection string) (*MongoFailureIndex, error) {
	if collection == "" {
		collection = constants.DefaultFailureCollection
	}
	if err := migrations.EnsureFailureIndex(ctx, db, collection); err != nil {
		return nil, err
	}
	return &MongoFailureIndex{coll: db.Collection(collection)}, nil
}

func (m *MongoFailureIndex) Record(ctx context.Context, batch FailedBatch) error {
	start := time.Now()
	_, err := m.coll.InsertOne(ctx, batch)
	metrics.ObserveDatabaseQueryDuration("mongodb", "failure_index_insert", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("mongodb", "failure_index_insert", "error")
		return fmt.Errorf("failed to record failed batch %s: %w", batch.BatchID, err)
	}
	metrics.IncDatabaseQuery("mongodb", "failure_index_insert", "success")
	return nil
}

func (m *MongoFailureIndex) List(ctx context.Context, q FailureQuery) ([]FailedBatch, error) {
	filter := bson.M{}
	if q.Destination != "" {
		filter["destination"] = q.Destination
	}
	if !q.Since.IsZero() {
		filter["failed_at"] = bson.M{"$gte": q.Since}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(int64(q.limit()))

	start := time.Now()
	cursor, err := m.coll.Find(ctx, filter, opts)
	metrics.ObserveDatabaseQueryDuration("mongodb", "failure_index_find", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("mongodb", "failure_index_find", "error")
		return nil, fmt.Errorf("failed to query failed batches: %w", err)
	}
	defer cursor.Close(ctx)

	batches := make([]FailedBatch, 0)
	if err := cursor.All(ctx, &batches); err != nil {
		metrics.IncDatabaseQuery("mongodb", "failure_index_find", "error")
		return nil, fmt.Errorf("failed to decode failed batches: %w", err)
	}
	metrics.IncDatabaseQuery("mongodb", "failure_index_find", "success")
	return batches, nil
}

// MemoryFailureIndex keeps the most recent failed batches in process. It is
// used when no document store is configured.
type MemoryFailureIndex struct {
	mu       sync.RWMutex
	batches  []FailedBatch
	capacity int
}

func NewMemoryFailureIndex(capacity int) *MemoryFailureIndex {
	if capacity <= 0 {
		capacity = constants.MaxLimit
	}
	return &MemoryFailureIndex{capacity: capacity}
}

func (m *MemoryFailureIndex) Record(_ context.Context, batch FailedBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, batch)
	if over := len(m.batches) - m.capacity; over > 0 {
		m.batches = append([]FailedBatch(nil), m.batches[over:]...)
	}
	return nil
}

func (m *MemoryFailureIndex) List(_ context.Context, q FailureQuery) ([]FailedBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FailedBatch, 0)
	for _, b := range m.batches {
		if q.Destination != "" && b.Destination != q.Destination {
			continue
		}
		if !q.Since.IsZero() && b.FailedAt.Before(q.Since) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if n := q.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
