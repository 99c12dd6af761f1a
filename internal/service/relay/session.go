package relay

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Session is the running state of one relay. Not safe for concurrent use.
type Session struct {
	id             string
	started        bool
	conversationID string
	messageID      string
	answer         strings.Builder
	finalAnswer    *string
	events         int
	byKind         map[string]int
}

// NewSession creates empty session state.
func NewSession(id string) *Session {
	return &Session{id: id, byKind: make(map[string]int)}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ConversationID returns the id from the start event, or "".
func (s *Session) ConversationID() string { return s.conversationID }

// MessageID returns the id from the start event, or "".
func (s *Session) MessageID() string { return s.messageID }

// Answer returns the accumulated answer text.
func (s *Session) Answer() string { return s.answer.String() }

// Apply folds an upstream event into the session and builds its normalized
// event. Identifiers come only from the first workflow_started event; the
// answer only grows.
func (s *Session) Apply(u Upstream) Event {
	ev := Event{Kind: u.Kind, Data: u.Payload}
	switch u.Kind {
	case KindWorkflowStarted:
		if !s.started {
			s.started = true
			s.conversationID = u.ConversationID
			s.messageID = u.MessageID
		}
		ev.ConversationID = s.conversationID
		ev.MessageID = s.messageID
	case KindMessage:
		s.answer.WriteString(u.Answer)
		ev.AnswerPart = u.Answer
		ev.CompleteAnswer = s.answer.String()
	case KindWorkflowFinished:
		if u.Output != nil {
			ev.FinalAnswer = *u.Output
		} else {
			ev.FinalAnswer = s.answer.String()
		}
		final := ev.FinalAnswer
		s.finalAnswer = &final
		ev.ConversationID = s.conversationID
	}
	return ev
}

// Raw builds the passthrough event for an unparseable payload.
func (s *Session) Raw(payload string) Event {
	return Event{Kind: KindRaw, RawData: payload}
}

// Fail builds the terminal error event.
func (s *Session) Fail(err error) Event {
	return Event{Kind: KindError, Error: err.Error()}
}

func (s *Session) count(kind string) {
	s.events++
	s.byKind[kind]++
}

// Outcome describes how a relay session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Summary describes a finished relay session.
type Summary struct {
	SessionID      string
	ConversationID string
	MessageID      string
	Events         int
	EventsByKind   map[string]int
	AnswerLength   int // in characters
	Finished       bool
	Outcome        Outcome
	Error          string
	Duration       time.Duration
}

func (s *Session) summary(outcome Outcome, err error) Summary {
	answer := s.answer.String()
	if s.finalAnswer != nil {
		answer = *s.finalAnswer
	}
	sum := Summary{
		SessionID:      s.id,
		ConversationID: s.conversationID,
		MessageID:      s.messageID,
		Events:         s.events,
		EventsByKind:   s.byKind,
		AnswerLength:   utf8.RuneCountInString(answer),
		Finished:       s.finalAnswer != nil,
		Outcome:        outcome,
	}
	if err != nil {
		sum.Error = err.Error()
	}
	return sum
}
