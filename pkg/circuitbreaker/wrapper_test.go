package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapper_TripsAfterFailureRatio(t *testing.T) {
	var transitions []gobreaker.State
	cfg := DefaultConfig("geo-test")
	cfg.MinRequests = 3
	cfg.Timeout = time.Hour
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	}
	w := NewWrapper(cfg)

	fail := func(ctx context.Context) (string, error) { return "", errors.New("upstream down") }
	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), w, fail)
		require.Error(t, err)
	}

	assert.True(t, w.IsOpen())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := Do(context.Background(), w, func(ctx context.Context) (string, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestDo_ReturnsTypedResult(t *testing.T) {
	w := NewWrapper(DefaultConfig("typed"))

	got, err := Do(context.Background(), w, func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, uint32(1), w.Counts().TotalSuccesses)
}

func TestExecute_CancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("cancelled"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := w.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
