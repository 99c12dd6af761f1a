// Package relay re-frames a conversational API event stream into normalized
// events carrying the running answer and conversation identifiers.
//
// Input is read line by line as it arrives. Each data line yields exactly one
// outgoing event, in input order; pings, comments and other fields yield
// nothing. A payload that is not JSON is passed through as a "raw" event. A
// read failure ends the stream with a single "error" event. The relay never
// panics or returns errors to its consumer.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chat-stt-gateway/internal/observability/metrics"
)

// DefaultDelay is the pause between consecutive outgoing events.
const DefaultDelay = 10 * time.Millisecond

// Relay is a single-use stream transformer.
type Relay struct {
	src       io.Reader
	delay     time.Duration
	sessionID string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onFinish  func(Summary)
	used      atomic.Bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithDelay sets the pause between events. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(r *Relay) {
		if d < 0 {
			d = 0
		}
		r.delay = d
	}
}

// WithSessionID tags logs and the summary with id.
func WithSessionID(id string) Option {
	return func(r *Relay) { r.sessionID = id }
}

// WithLogger sets the relay logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithOnFinish registers fn to receive the session summary when the stream
// ends for any reason.
func WithOnFinish(fn func(Summary)) Option {
	return func(r *Relay) { r.onFinish = fn }
}

// New creates a relay reading from src.
func New(src io.Reader, opts ...Option) *Relay {
	r := &Relay{
		src:     src,
		delay:   DefaultDelay,
		logger:  log.With().Str("component", "relay").Logger(),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns the normalized event sequence. The sequence can be ranged
// over once; later iterations yield nothing. Ending the range early or
// canceling ctx stops reading.
func (r *Relay) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !r.used.CompareAndSwap(false, true) {
			return
		}
		r.run(ctx, yield)
	}
}

// Frames returns the events rendered as "data: <json>\n\n" frames.
func (r *Relay) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for ev := range r.Events(ctx) {
			frame, err := ev.Frame()
			if err != nil {
				r.logger.Error().Err(err).Str("event", ev.Kind).Msg("Failed to encode event")
				frame, _ = Event{Kind: KindError, Error: err.Error()}.Frame()
			}
			if !yield(frame) {
				return
			}
		}
	}
}

func (r *Relay) run(ctx context.Context, yield func(Event) bool) {
	start := time.Now()
	sess := NewSession(r.sessionID)
	outcome := OutcomeCompleted
	var failure error

	r.metrics.RecordRelaySessionStart()
	defer func() {
		elapsed := time.Since(start)
		r.metrics.RecordRelaySessionEnd(string(outcome), elapsed.Seconds())
		sum := sess.summary(outcome, failure)
		sum.Duration = elapsed
		r.logger.Info().
			Str("sessionId", sum.SessionID).
			Str("conversationId", sum.ConversationID).
			Int("events", sum.Events).
			Int("answerLength", sum.AnswerLength).
			Str("outcome", string(outcome)).
			Dur("duration", elapsed).
			Msg("Relay session ended")
		if r.onFinish != nil {
			r.onFinish(sum)
		}
	}()

	emitted := 0
	emit := func(ev Event) bool {
		if emitted > 0 && r.delay > 0 && !sleep(ctx, r.delay) {
			outcome = OutcomeCanceled
			return false
		}
		emitted++
		sess.count(ev.Kind)
		r.metrics.RecordRelayEvent(metricKind(ev.Kind))
		if !yield(ev) {
			outcome = OutcomeCanceled
			return false
		}
		return true
	}

	br := bufio.NewReader(r.src)
	for {
		if ctx.Err() != nil {
			outcome = OutcomeCanceled
			return
		}

		ev, ok, eof, err := r.step(br, sess)
		if err != nil {
			if ctx.Err() != nil {
				outcome = OutcomeCanceled
				return
			}
			outcome = OutcomeFailed
			failure = err
			r.metrics.RecordUpstreamError("stream_read")
			r.logger.Error().Err(err).Str("sessionId", r.sessionID).Msg("Upstream stream failed")
			emit(sess.Fail(err))
			return
		}
		if ok && !emit(ev) {
			return
		}
		if eof {
			return
		}
	}
}

// step reads and converts one line. Panics here become errors; the
// consumer's yield is never called from inside.
func (r *Relay) step(br *bufio.Reader, sess *Session) (ev Event, ok, eof bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ev, ok, eof = Event{}, false, false
			err = fmt.Errorf("relay panic: %v", p)
		}
	}()

	line, rerr := br.ReadString('\n')
	switch {
	case rerr == nil:
	case errors.Is(rerr, io.EOF):
		eof = true
	default:
		// A partial line before a failure is dropped.
		return Event{}, false, false, rerr
	}
	if line == "" {
		return Event{}, false, eof, nil
	}

	kind, payload := Classify(line)
	if kind != LineData {
		return Event{}, false, eof, nil
	}

	u, derr := Decode(payload)
	if derr != nil {
		r.logger.Debug().Err(derr).Str("sessionId", r.sessionID).Msg("Passing through undecodable payload")
		return sess.Raw(payload), true, eof, nil
	}
	return sess.Apply(u), true, eof, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// metricKind bounds label cardinality to known kinds.
func metricKind(kind string) string {
	switch kind {
	case KindWorkflowStarted, KindMessage, KindWorkflowFinished, KindRaw, KindError, KindUnknown,
		"message_end", "message_replace", "node_started", "node_finished", "agent_message", "agent_thought":
		return kind
	default:
		return "other"
	}
}
