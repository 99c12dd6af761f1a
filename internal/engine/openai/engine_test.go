package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"chat-stt-gateway/internal/engine"
)

type fakeTranscriber struct {
	req  openai.AudioRequest
	resp openai.AudioResponse
	err  error
}

func (f *fakeTranscriber) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestLoader_RequiresAPIKey(t *testing.T) {
	if _, err := Loader(Config{})(context.Background()); err == nil {
		t.Error("expected error without api key")
	}

	eng, err := Loader(Config{APIKey: "sk-test"})(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng.(*Engine).model != openai.Whisper1 {
		t.Errorf("expected default model whisper-1, got %s", eng.(*Engine).model)
	}
}

func TestTranscribe(t *testing.T) {
	fake := &fakeTranscriber{resp: openai.AudioResponse{Text: " 你好 ", Language: "Chinese"}}
	e := &Engine{client: fake, model: "whisper-1"}

	recs, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "/tmp/a.wav", Language: engine.LanguageChinese})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "你好" || recs[0].Language != "zh" {
		t.Errorf("unexpected records: %+v", recs)
	}
	if fake.req.FilePath != "/tmp/a.wav" {
		t.Errorf("expected file path to be forwarded, got %q", fake.req.FilePath)
	}
	if fake.req.Language != "zh" {
		t.Errorf("expected language hint zh, got %q", fake.req.Language)
	}
	if fake.req.Format != openai.AudioResponseFormatVerboseJSON {
		t.Errorf("expected verbose_json format, got %q", fake.req.Format)
	}
}

func TestTranscribe_AutoOmitsLanguage(t *testing.T) {
	fake := &fakeTranscriber{resp: openai.AudioResponse{Text: "hi", Language: "english"}}
	e := &Engine{client: fake, model: "whisper-1"}

	if _, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "a.wav", Language: engine.LanguageAuto}); err != nil {
		t.Fatal(err)
	}
	if fake.req.Language != "" {
		t.Errorf("expected no language hint for auto, got %q", fake.req.Language)
	}
}

func TestTranscribe_EmptyText(t *testing.T) {
	e := &Engine{client: &fakeTranscriber{}, model: "whisper-1"}

	recs, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "a.wav"})
	if err != nil || len(recs) != 0 {
		t.Errorf("expected no records, got %v, %v", recs, err)
	}
}

func TestTranscribe_Error(t *testing.T) {
	boom := errors.New("rate limited")
	e := &Engine{client: &fakeTranscriber{err: boom}, model: "whisper-1"}

	if _, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "a.wav"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
