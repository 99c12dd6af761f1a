// Package command runs a local inference program (the SenseVoice model
// behind a small script) once per request.
//
// The program is invoked as
//
//	<program> <args...> --model-dir DIR --device DEV --input FILE --language LANG
//
// and must print a JSON array of {"text": ..., "language": ...} objects on
// stdout. A non-zero exit status is a failure; stderr is kept for the error.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"chat-stt-gateway/internal/engine"
)

// Config describes the inference program.
type Config struct {
	Program  string
	Args     []string
	ModelDir string
	Device   string
}

// Engine implements engine.Engine by spawning Program.
type Engine struct {
	cfg Config
}

type record struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Loader checks that the model directory and program exist.
func Loader(cfg Config) engine.Loader {
	return func(ctx context.Context) (engine.Engine, error) {
		info, err := os.Stat(cfg.ModelDir)
		if err != nil {
			return nil, fmt.Errorf("command: model directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("command: model path %s is not a directory", cfg.ModelDir)
		}
		path, err := exec.LookPath(cfg.Program)
		if err != nil {
			return nil, fmt.Errorf("command: %w", err)
		}
		cfg.Program = path
		return &Engine{cfg: cfg}, nil
	}
}

// Transcribe runs the program for one file.
func (e *Engine) Transcribe(ctx context.Context, req engine.Request) ([]engine.Record, error) {
	lang := req.Language
	if lang == "" {
		lang = engine.LanguageAuto
	}

	args := append([]string{}, e.cfg.Args...)
	args = append(args,
		"--model-dir", e.cfg.ModelDir,
		"--device", e.cfg.Device,
		"--input", req.AudioPath,
		"--language", string(lang),
	)

	cmd := exec.CommandContext(ctx, e.cfg.Program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("command: %w: %s", err, tail(stderr.String(), 500))
	}

	var out []record
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, fmt.Errorf("command: decode output: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	// One file in, at most one record out.
	return []engine.Record{{Text: out[0].Text, Language: out[0].Language}}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Info describes the local model.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:      "SenseVoiceSmall",
		ModelPath: e.cfg.ModelDir,
		Features:  []string{"multilingual", "emotion recognition", "audio event detection", "inverse text normalization"},
	}
}

// Close is a no-op; nothing stays resident between calls.
func (e *Engine) Close() error { return nil }
