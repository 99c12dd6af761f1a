package models

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
}
