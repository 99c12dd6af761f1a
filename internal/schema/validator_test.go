package schema

import (
	"errors"
	"testing"

	"chat-stt-gateway/internal/models"
)

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		event   any
		wantErr bool
	}{
		{
			"valid transcription",
			models.TranscriptionEvent{EventType: models.EventTranscriptionCompleted, RequestID: "r1", Engine: "mock", DetectedLanguage: "en"},
			false,
		},
		{
			"transcription pointer missing request id",
			&models.TranscriptionEvent{EventType: models.EventTranscriptionCompleted, Engine: "mock", DetectedLanguage: "en"},
			true,
		},
		{
			"valid chat session",
			models.ChatSessionEvent{EventType: models.EventChatSessionCompleted, SessionID: "s1", Outcome: "completed"},
			false,
		},
		{
			"chat session missing outcome",
			models.ChatSessionEvent{EventType: models.EventChatSessionCompleted, SessionID: "s1"},
			true,
		},
		{"other types pass", map[string]string{"text": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.event)
			if tt.wantErr && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
