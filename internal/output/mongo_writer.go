package output

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/health"
	"sluice/pkg/metrics"
	"sluice/pkg/migrations"
	"sluice/pkg/models"
)

const duplicateKeyCode = 11000

// MongoWriter inserts batches into one collection per target. Replayed
// events hit the unique event_id index; those duplicate-key errors are
// counted as delivered.
type MongoWriter struct {
	db      *mongo.Database
	checker *health.MongoDBChecker
	logger  logger.Logger
	indexed sync.Map
}

func NewMongoWriter(db *mongo.Database, log logger.Logger) *MongoWriter {
	return &MongoWriter{db: db, checker: health.NewMongoDBChecker(db.Client()), logger: log}
}

func (w *MongoWriter) Kind() string { return constants.WriterMongo }

func (w *MongoWriter) Ping(ctx context.Context) error {
	return w.checker.Check(ctx)
}

func (w *MongoWriter) Write(ctx context.Context, target string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	coll := w.db.Collection(target)

	if _, done := w.indexed.Load(target); !done {
		if err := migrations.EnsureEventIndexes(ctx, coll); err != nil {
			w.logger.WarnwCtx(ctx, "Failed to ensure event indexes", "collection", target, "error", err)
		} else {
			w.indexed.Store(target, struct{}{})
		}
	}

	docs := make([]interface{}, len(events))
	for i := range events {
		docs[i] = events[i].Document()
	}

	start := time.Now()
	_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	metrics.ObserveDatabaseQueryDuration("mongodb", "insert_many", time.Since(start))

	if err != nil && !onlyDuplicateKeys(err) {
		metrics.IncDatabaseQuery("mongodb", "insert_many", "error")
		return errors.ErrDestinationWrite.WithCause(fmt.Errorf("insert into %s: %w", target, err))
	}
	if err != nil {
		w.logger.DebugwCtx(ctx, "Duplicate events ignored", "collection", target)
	}
	metrics.IncDatabaseQuery("mongodb", "insert_many", "success")
	return nil
}

func onlyDuplicateKeys(err error) bool {
	var bulk mongo.BulkWriteException
	if !stderrors.As(err, &bulk) {
		return false
	}
	if bulk.WriteConcernError != nil || len(bulk.WriteErrors) == 0 {
		return false
	}
	for _, we := range bulk.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// Close is a no-op; the client is owned by the caller.
func (w *MongoWriter) Close(context.Context) error { return nil }
