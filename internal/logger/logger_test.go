package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sluice/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: "WARN", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "", want: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("info", format)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestCtxFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))
	l.(*SugaredLogger).SetServiceName("sluice")

	ctx := logging.WithListener(logging.WithEventID(context.Background(), "ev-1"), "syslog-udp")
	l.Named("input").InfowCtx(ctx, "event decoded", "bytes", 42)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ev-1", fields["event_id"])
	assert.Equal(t, "syslog-udp", fields["listener"])
	assert.Equal(t, "sluice", fields["service_name"])
	assert.Equal(t, "input", fields["component"])
	assert.EqualValues(t, 42, fields["bytes"])
}
