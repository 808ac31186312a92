package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"sluice/internal/constants"
	"sluice/pkg/models"
)

// ConsoleWriter prints events as JSON lines. It is only wired in debug
// pipeline mode.
type ConsoleWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (w *ConsoleWriter) Kind() string { return constants.WriterConsole }

func (w *ConsoleWriter) Write(_ context.Context, target string, events []models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	enc := json.NewEncoder(w.out)
	for i := range events {
		if _, err := fmt.Fprintf(w.out, "[%s] ", target); err != nil {
			return err
		}
		if err := enc.Encode(events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *ConsoleWriter) Close(context.Context) error { return nil }
