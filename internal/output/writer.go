package output

import (
	"context"

	"sluice/pkg/models"
)

// Writer delivers one batch of events to a named target (collection, topic,
// stream). A Writer must be safe for concurrent use by flush workers.
//
// Errors are retried unless they are marked fatal via retry.Fatal.
type Writer interface {
	Kind() string
	Write(ctx context.Context, target string, events []models.Event) error
	Close(ctx context.Context) error
}

// Pinger is implemented by writers whose backend is health-checked before
// each batch attempt. A failed ping counts as a failed attempt.
type Pinger interface {
	Ping(ctx context.Context) error
}
