package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Upstream event kinds that get derived fields.
const (
	KindWorkflowStarted  = "workflow_started"
	KindMessage          = "message"
	KindWorkflowFinished = "workflow_finished"
	KindUnknown          = "unknown"
)

// ErrMalformedPayload is returned by Decode for payloads that are not JSON.
var ErrMalformedPayload = errors.New("malformed payload")

// Upstream is one decoded event from the conversational API.
type Upstream struct {
	Kind           string
	Payload        json.RawMessage // the payload as received
	ConversationID string
	MessageID      string
	Answer         string  // incremental fragment of a message event
	Output         *string // data.outputs.answer, when it is a string
}

// Decode parses one data payload. Valid JSON that is not an object, or has
// no string "event" field, decodes with Kind "unknown".
func Decode(payload string) (Upstream, error) {
	raw := []byte(payload)
	if !json.Valid(raw) {
		return Upstream{}, fmt.Errorf("%w: %.80q", ErrMalformedPayload, payload)
	}

	u := Upstream{Kind: KindUnknown, Payload: json.RawMessage(raw)}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return u, nil
	}

	if kind, ok := stringField(obj, "event"); ok && kind != "" {
		u.Kind = kind
	}
	u.ConversationID, _ = stringField(obj, "conversation_id")
	u.MessageID, _ = stringField(obj, "message_id")
	u.Answer, _ = stringField(obj, "answer")
	u.Output = outputAnswer(obj)
	return u, nil
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// outputAnswer digs out data.outputs.answer.
func outputAnswer(obj map[string]json.RawMessage) *string {
	var data struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	v, ok := obj["data"]
	if !ok || json.Unmarshal(v, &data) != nil {
		return nil
	}
	s, ok := stringField(data.Outputs, "answer")
	if !ok {
		return nil
	}
	return &s
}
