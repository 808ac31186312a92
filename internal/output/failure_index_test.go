package output

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMemoryFailureIndex(t *testing.T) {
	idx := NewMemoryFailureIndex(3)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, dest := range []string{"primary", "dead_letter", "primary", "primary"} {
		require.NoError(t, idx.Record(ctx, FailedBatch{
			BatchID:     string(rune('a' + i)),
			Destination: dest,
			FailedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := idx.List(ctx, FailureQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3, "oldest entry evicted")
	assert.Equal(t, "d", all[0].BatchID, "newest first")

	primary, err := idx.List(ctx, FailureQuery{Destination: "primary"})
	require.NoError(t, err)
	assert.Len(t, primary, 2)

	recent, err := idx.List(ctx, FailureQuery{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := idx.List(ctx, FailureQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFailureQuery_Limit(t *testing.T) {
	assert.Equal(t, 100, FailureQuery{}.limit())
	assert.Equal(t, 10, FailureQuery{Limit: 10}.limit())
	assert.Equal(t, 1000, FailureQuery{Limit: 50000}.limit())
}

func TestOnlyDuplicateKeys(t *testing.T) {
	dup := mongo.BulkWriteError{WriteError: mongo.WriteError{Code: duplicateKeyCode}}
	other := mongo.BulkWriteError{WriteError: mongo.WriteError{Code: 121}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "all duplicates", err: mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, dup}}, want: true},
		{name: "mixed", err: mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, other}}, want: false},
		{name: "write concern", err: mongo.BulkWriteException{
			WriteErrors:       []mongo.BulkWriteError{dup},
			WriteConcernError: &mongo.WriteConcernError{Code: 64},
		}, want: false},
		{name: "network", err: stderrors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onlyDuplicateKeys(tt.err))
		})
	}
}
