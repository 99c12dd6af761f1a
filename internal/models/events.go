package models

// Published event types.
const (
	EventTranscriptionCompleted = "stt.transcription.completed"
	EventChatSessionCompleted   = "chat.session.completed"
)

// TranscriptionEvent is published after each successful transcription.
type TranscriptionEvent struct {
	EventType        string `json:"eventType"`
	RequestID        string `json:"requestId"`
	Timestamp        int64  `json:"timestamp"`
	Engine           string `json:"engine"`
	Language         string `json:"language"`
	DetectedLanguage string `json:"detectedLanguage"`
	Text             string `json:"text"`
	RawText          string `json:"rawText"`
	AudioBytes       int64  `json:"audioBytes"`
	ContentType      string `json:"contentType"`
	LatencyMs        int64  `json:"latencyMs"`
}

// ChatSessionEvent is published when a relay session ends.
type ChatSessionEvent struct {
	EventType      string         `json:"eventType"`
	SessionID      string         `json:"sessionId"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Timestamp      int64          `json:"timestamp"`
	Outcome        string         `json:"outcome"`
	Events         int            `json:"events"`
	EventsByKind   map[string]int `json:"eventsByKind,omitempty"`
	AnswerLength   int            `json:"answerLength"`
	Finished       bool           `json:"finished"`
	Error          string         `json:"error,omitempty"`
	DurationMs     int64          `json:"durationMs"`
}
