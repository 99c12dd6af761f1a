// Package schema checks outgoing events before they are published.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"chat-stt-gateway/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Validator checks required fields of known event types. Other values pass.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(event any) error {
	var missing string
	switch e := event.(type) {
	case models.TranscriptionEvent:
		missing = firstEmpty(
			"eventType", e.EventType,
			"requestId", e.RequestID,
			"engine", e.Engine,
			"detectedLanguage", e.DetectedLanguage,
		)
	case *models.TranscriptionEvent:
		return v.Validate(*e)
	case models.ChatSessionEvent:
		missing = firstEmpty(
			"eventType", e.EventType,
			"sessionId", e.SessionID,
			"outcome", e.Outcome,
		)
	case *models.ChatSessionEvent:
		return v.Validate(*e)
	default:
		return nil
	}

	if missing != "" {
		return fmt.Errorf("%w: %T missing %s", ErrInvalidEvent, event, missing)
	}
	log.Debug().Str("type", fmt.Sprintf("%T", event)).Msg("Schema validated")
	return nil
}

// firstEmpty takes name/value pairs and returns the first name with an empty value.
func firstEmpty(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return pairs[i]
		}
	}
	return ""
}
