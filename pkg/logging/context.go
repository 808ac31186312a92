package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey     ctxKey = "trace_id"
	EventIDKey     ctxKey = "event_id"
	ListenerKey    ctxKey = "listener"
	DestinationKey ctxKey = "destination"
	ServiceNameKey ctxKey = "service_name"
)

// fieldOrder fixes the order fields are emitted in.
var fieldOrder = []ctxKey{TraceIDKey, EventIDKey, ListenerKey, DestinationKey, ServiceNameKey}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

func WithListener(ctx context.Context, listener string) context.Context {
	return context.WithValue(ctx, ListenerKey, listener)
}

func WithDestination(ctx context.Context, destination string) context.Context {
	return context.WithValue(ctx, DestinationKey, destination)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func get(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetListener(ctx context.Context) string    { return get(ctx, ListenerKey) }
func GetDestination(ctx context.Context) string { return get(ctx, DestinationKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }

// GetLogFields returns the context values as zap sugared key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(fieldOrder))
	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
