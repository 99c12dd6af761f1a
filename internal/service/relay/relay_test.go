package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/observability/metrics"
)

func newTestRelay(src io.Reader, opts ...Option) *Relay {
	base := []Option{
		WithDelay(0),
		WithLogger(zerolog.Nop()),
		WithMetrics(metrics.NewMetricsWith(prometheus.NewRegistry())),
	}
	return New(src, append(base, opts...)...)
}

func collect(r *Relay) []Event {
	var out []Event
	for ev := range r.Events(context.Background()) {
		out = append(out, ev)
	}
	return out
}

func stream(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

// failingReader returns data first, then err.
type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

type panicReader struct{}

func (panicReader) Read(p []byte) (int, error) { panic("reader exploded") }

func TestRelay_HelloExample(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"workflow_started","conversation_id":"5","message_id":"m1"}`,
		``,
		`data: {"event":"message","answer":"Hel"}`,
		``,
		`data: {"event":"message","answer":"lo"}`,
		``,
		`data: {"event":"workflow_finished","data":{}}`,
	))

	events := collect(r)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}

	if events[0].Kind != KindWorkflowStarted || events[0].ConversationID != "5" || events[0].MessageID != "m1" {
		t.Errorf("unexpected start event: %+v", events[0])
	}
	if events[1].AnswerPart != "Hel" || events[1].CompleteAnswer != "Hel" {
		t.Errorf("unexpected first message: %+v", events[1])
	}
	if events[2].AnswerPart != "lo" || events[2].CompleteAnswer != "Hello" {
		t.Errorf("unexpected second message: %+v", events[2])
	}
	final := events[3]
	if final.Kind != KindWorkflowFinished || final.FinalAnswer != "Hello" || final.ConversationID != "5" {
		t.Errorf("unexpected finished event: %+v", final)
	}
}

func TestRelay_FinalAnswerPrefersOutput(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"draft"}`,
		`data: {"event":"workflow_finished","data":{"outputs":{"answer":"Polished answer"}}}`,
	))

	events := collect(r)
	if got := events[len(events)-1].FinalAnswer; got != "Polished answer" {
		t.Errorf("expected explicit output, got %q", got)
	}
}

func TestRelay_PingsProduceNothing(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"a"}`,
		``,
		`event: ping`,
		``,
		`: comment`,
		`id: 7`,
		`data: {"event":"message","answer":"b"}`,
	))

	events := collect(r)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[1].CompleteAnswer != "ab" {
		t.Errorf("expected accumulated 'ab', got %q", events[1].CompleteAnswer)
	}
}

func TestRelay_AccumulatesInOrder(t *testing.T) {
	parts := []string{"The ", "quick ", "brown ", "fox", " 🦊", "<b>"}
	var lines []string
	for _, p := range parts {
		b, _ := json.Marshal(map[string]string{"event": "message", "answer": p})
		lines = append(lines, "data: "+string(b), "")
	}

	events := collect(newTestRelay(stream(lines...)))
	if len(events) != len(parts) {
		t.Fatalf("expected %d events, got %d", len(parts), len(events))
	}
	want := ""
	for i, ev := range events {
		want += parts[i]
		if ev.AnswerPart != parts[i] || ev.CompleteAnswer != want {
			t.Errorf("event %d: got part %q complete %q, want %q / %q", i, ev.AnswerPart, ev.CompleteAnswer, parts[i], want)
		}
	}
}

func TestRelay_MalformedPayloadBecomesRaw(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"x"}`,
		`data: {broken json`,
		`data: {"event":"message","answer":"y"}`,
	))

	events := collect(r)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Kind != KindRaw || events[1].RawData != `{broken json` {
		t.Errorf("expected raw passthrough, got %+v", events[1])
	}
	if events[2].CompleteAnswer != "xy" {
		t.Errorf("raw event must not disturb state, got %q", events[2].CompleteAnswer)
	}
}

func TestRelay_UnknownKindPassesThrough(t *testing.T) {
	r := newTestRelay(stream(`data: {"event":"node_started","conversation_id":"c9","answer":"ignored"}`))

	events := collect(r)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	b, err := events[0].MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event":"node_started","data":{"event":"node_started","conversation_id":"c9","answer":"ignored"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestRelay_IdentifiersSetOnce(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"workflow_started","conversation_id":"first","message_id":"m1"}`,
		`data: {"event":"message","conversation_id":"second","answer":"hi"}`,
		`data: {"event":"workflow_finished","conversation_id":"third","data":{}}`,
	))

	events := collect(r)
	if events[2].ConversationID != "first" {
		t.Errorf("expected first conversation id to stick, got %q", events[2].ConversationID)
	}
}

func TestRelay_IdentifiersOnlyFromStartEvent(t *testing.T) {
	var sum Summary
	r := newTestRelay(stream(
		`data: {"event":"message","conversation_id":"early","message_id":"m0","answer":"hi"}`,
		`data: {"event":"workflow_started","conversation_id":"start","message_id":"m1"}`,
		`data: {"event":"workflow_finished","data":{}}`,
	), WithOnFinish(func(s Summary) { sum = s }))

	events := collect(r)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].ConversationID != "start" || events[1].MessageID != "m1" {
		t.Errorf("start event must carry its own ids, got %q/%q", events[1].ConversationID, events[1].MessageID)
	}
	if events[2].ConversationID != "start" {
		t.Errorf("finished event: expected conversation id from start event, got %q", events[2].ConversationID)
	}
	if sum.ConversationID != "start" || sum.MessageID != "m1" {
		t.Errorf("summary: expected start ids, got %q/%q", sum.ConversationID, sum.MessageID)
	}

	frame, err := events[1].Frame()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(frame), "early") {
		t.Errorf("start frame must not mention ids from earlier events: %s", frame)
	}
}

func TestRelay_InvalidUTF8RawIsReplaced(t *testing.T) {
	events := collect(newTestRelay(stream("data: abc\xff\xfedef")))

	if len(events) != 1 || events[0].Kind != KindRaw {
		t.Fatalf("expected one raw event, got %+v", events)
	}
	if events[0].RawData != "abc\xff\xfedef" {
		t.Errorf("raw event should keep the original bytes, got %q", events[0].RawData)
	}
	frame, err := events[0].Frame()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(frame), `"raw_data":"abc\ufffd\ufffddef"`) {
		t.Errorf("expected invalid bytes replaced in the frame, got %s", frame)
	}
}

func TestRelay_TrailingLineWithoutNewline(t *testing.T) {
	r := newTestRelay(strings.NewReader(`data: {"event":"message","answer":"tail"}`))

	events := collect(r)
	if len(events) != 1 || events[0].AnswerPart != "tail" {
		t.Errorf("expected trailing line to be processed, got %+v", events)
	}
}

func TestRelay_ReadErrorEndsWithErrorEvent(t *testing.T) {
	src := &failingReader{
		data: "data: {\"event\":\"message\",\"answer\":\"a\"}\n\ndata: {\"event\":\"mess",
		err:  errors.New("connection reset by peer"),
	}

	var sum Summary
	r := newTestRelay(src, WithOnFinish(func(s Summary) { sum = s }))
	events := collect(r)

	if len(events) != 2 {
		t.Fatalf("expected message + error, got %d: %+v", len(events), events)
	}
	last := events[1]
	if last.Kind != KindError || !strings.Contains(last.Error, "connection reset") {
		t.Errorf("expected error event, got %+v", last)
	}
	if sum.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", sum.Outcome)
	}
}

func TestRelay_ReaderPanicBecomesErrorEvent(t *testing.T) {
	events := collect(newTestRelay(panicReader{}))

	if len(events) != 1 || events[0].Kind != KindError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !strings.Contains(events[0].Error, "reader exploded") {
		t.Errorf("expected panic message, got %q", events[0].Error)
	}
}

func TestRelay_SinglePass(t *testing.T) {
	r := newTestRelay(stream(`data: {"event":"message","answer":"once"}`))

	if n := len(collect(r)); n != 1 {
		t.Fatalf("first pass: expected 1 event, got %d", n)
	}
	if n := len(collect(r)); n != 0 {
		t.Errorf("second pass: expected 0 events, got %d", n)
	}
}

func TestRelay_EarlyBreak(t *testing.T) {
	var sum Summary
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"a"}`,
		`data: {"event":"message","answer":"b"}`,
	), WithOnFinish(func(s Summary) { sum = s }))

	for range r.Events(context.Background()) {
		break
	}
	if sum.Outcome != OutcomeCanceled || sum.Events != 1 {
		t.Errorf("unexpected summary after early break: %+v", sum)
	}
}

func TestRelay_DelayHonorsCancellation(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"a"}`,
		`data: {"event":"message","answer":"b"}`,
	), WithDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range r.Events(ctx) {
			got = append(got, ev)
			cancel()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancellation")
	}
	if len(got) != 1 {
		t.Errorf("expected exactly 1 event before cancel, got %d", len(got))
	}
}

func TestRelay_Summary(t *testing.T) {
	var sum Summary
	r := newTestRelay(stream(
		`data: {"event":"workflow_started","conversation_id":"c1","message_id":"m1"}`,
		`data: {"event":"message","answer":"你好"}`,
		`data: {"event":"workflow_finished","data":{}}`,
	), WithSessionID("s-1"), WithOnFinish(func(s Summary) { sum = s }))

	collect(r)

	if sum.SessionID != "s-1" || sum.ConversationID != "c1" || sum.MessageID != "m1" {
		t.Errorf("unexpected ids: %+v", sum)
	}
	if sum.Events != 3 || sum.EventsByKind[KindMessage] != 1 {
		t.Errorf("unexpected counts: %+v", sum)
	}
	if sum.AnswerLength != 2 || !sum.Finished || sum.Outcome != OutcomeCompleted {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRelay_Frames(t *testing.T) {
	r := newTestRelay(stream(
		`data: {"event":"message","answer":"<b>&"}`,
		`data: oops`,
	))

	var frames []string
	for f := range r.Frames(context.Background()) {
		frames = append(frames, string(f))
	}

	want := []string{
		"data: {\"event\":\"message\",\"data\":{\"event\":\"message\",\"answer\":\"<b>&\"},\"answer_part\":\"<b>&\",\"complete_answer\":\"<b>&\"}\n\n",
		"data: {\"event\":\"raw\",\"raw_data\":\"oops\"}\n\n",
	}
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d: %q", len(want), len(frames), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d:\n got %q\nwant %q", i, frames[i], want[i])
		}
	}
}
