package command

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chat-stt-gateway/internal/engine"
)

func shEngine(t *testing.T, script string) *Engine {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return &Engine{cfg: Config{
		Program:  "/bin/sh",
		Args:     []string{"-c", script, "infer"},
		ModelDir: t.TempDir(),
		Device:   "cpu",
	}}
}

func TestLoader_MissingModelDir(t *testing.T) {
	_, err := Loader(Config{Program: "sh", ModelDir: filepath.Join(t.TempDir(), "missing")})(context.Background())
	if err == nil {
		t.Error("expected error for missing model dir")
	}
}

func TestLoader_ModelPathIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "model.bin")
	_ = os.WriteFile(f, nil, 0o600)

	if _, err := Loader(Config{Program: "sh", ModelDir: f})(context.Background()); err == nil {
		t.Error("expected error when model path is a file")
	}
}

func TestLoader_MissingProgram(t *testing.T) {
	_, err := Loader(Config{Program: "definitely-not-a-real-binary-xyz", ModelDir: t.TempDir()})(context.Background())
	if err == nil {
		t.Error("expected error for missing program")
	}
}

func TestTranscribe(t *testing.T) {
	e := shEngine(t, `printf '[{"text":"<|en|><|NEUTRAL|><|Speech|><|withitn|>hello","language":"en"}]'`)

	recs, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "clip.wav", Language: engine.LanguageEnglish})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].Language != "en" || !strings.HasSuffix(recs[0].Text, "hello") {
		t.Errorf("unexpected records: %+v", recs)
	}
}

func TestTranscribe_PassesArguments(t *testing.T) {
	// $@ holds the flags appended after the script name.
	e := shEngine(t, `printf '[{"text":"%s","language":""}]' "$*"`)

	recs, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "clip.wav"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := recs[0].Text
	for _, want := range []string{"--device cpu", "--input clip.wav", "--language auto", "--model-dir"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in arguments %q", want, got)
		}
	}
}

func TestTranscribe_EmptyArray(t *testing.T) {
	e := shEngine(t, `printf '[]'`)

	recs, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "clip.wav"})
	if err != nil || len(recs) != 0 {
		t.Errorf("expected no records, got %v, %v", recs, err)
	}
}

func TestTranscribe_NonZeroExit(t *testing.T) {
	e := shEngine(t, `echo "CUDA out of memory" >&2; exit 3`)

	_, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "clip.wav"})
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestTranscribe_BadOutput(t *testing.T) {
	e := shEngine(t, `printf 'not json'`)

	if _, err := e.Transcribe(context.Background(), engine.Request{AudioPath: "clip.wav"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestTail(t *testing.T) {
	if got := tail("  abc  ", 10); got != "abc" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("abcdef", 3); got != "def" {
		t.Errorf("tail = %q", got)
	}
}
