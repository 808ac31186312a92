package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateEvent reports the only condition that drops an event before
// processing: an empty or unreadable message.
func ValidateEvent(ev *Event) error {
	if ev == nil {
		return &ValidationError{
			Field:   "event",
			Message: "event cannot be nil",
		}
	}

	if ev.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "event ID is required",
		}
	}

	if !utf8.ValidString(ev.RawMessage) {
		return &ValidationError{
			Field:   "message",
			Message: "message is not valid UTF-8",
		}
	}

	if strings.TrimSpace(ev.RawMessage) == "" && len(ev.Attributes) == 0 {
		return &ValidationError{
			Field:   "message",
			Message: "message cannot be empty",
		}
	}

	return nil
}
