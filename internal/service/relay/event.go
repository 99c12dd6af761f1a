package relay

import (
	"bytes"
	"encoding/json"
)

// Locally generated event kinds.
const (
	KindRaw   = "raw"
	KindError = "error"
)

// Event is one normalized outgoing event.
//
// Events built from an upstream payload carry it in Data and render as
// {"event", "data", ...derived fields}. Local raw and error events have no
// Data and render as {"event", "raw_data"} and {"event", "error"}.
type Event struct {
	Kind string
	Data json.RawMessage

	ConversationID string
	MessageID      string
	AnswerPart     string
	CompleteAnswer string
	FinalAnswer    string

	RawData string
	Error   string
}

// MarshalJSON writes the fields in a fixed order per kind.
func (e Event) MarshalJSON() ([]byte, error) {
	var w objectWriter
	w.field("event", e.Kind)

	if e.Data == nil {
		switch e.Kind {
		case KindRaw:
			w.field("raw_data", e.RawData)
		case KindError:
			w.field("error", e.Error)
		default:
			w.field("data", nil)
		}
		return w.close()
	}

	w.field("data", e.Data)
	switch e.Kind {
	case KindWorkflowStarted:
		w.field("conversation_id", e.ConversationID)
		w.field("message_id", e.MessageID)
	case KindMessage:
		w.field("answer_part", e.AnswerPart)
		w.field("complete_answer", e.CompleteAnswer)
	case KindWorkflowFinished:
		w.field("final_answer", e.FinalAnswer)
		w.field("conversation_id", e.ConversationID)
	}
	return w.close()
}

// Frame renders the event as one "data: <json>\n\n" stream frame.
func (e Event) Frame() ([]byte, error) {
	b, err := e.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	return append(out, '\n', '\n'), nil
}

// objectWriter builds a JSON object with ordered keys and no HTML escaping.
type objectWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func (w *objectWriter) field(key string, v any) {
	if w.err != nil {
		return
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}
	w.n++
	if w.err = encodeValue(&w.buf, key); w.err != nil {
		return
	}
	w.buf.WriteByte(':')
	w.err = encodeValue(&w.buf, v)
}

func (w *objectWriter) close() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
