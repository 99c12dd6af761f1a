// Package openai provides a Whisper-backed recognition engine.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"chat-stt-gateway/internal/engine"
)

// Config holds Whisper API configuration.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the public API
	Model   string
}

type transcriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Engine implements engine.Engine with the audio transcription endpoint.
type Engine struct {
	client transcriber
	model  string
}

// whisperLanguages maps verbose_json language names to short codes.
var whisperLanguages = map[string]string{
	"chinese":   "zh",
	"english":   "en",
	"cantonese": "yue",
	"japanese":  "ja",
	"korean":    "ko",
}

// Loader validates the key and builds the client.
func Loader(cfg Config) engine.Loader {
	return func(ctx context.Context) (engine.Engine, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai: api key is not set")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		model := cfg.Model
		if model == "" {
			model = openai.Whisper1
		}
		return &Engine{client: openai.NewClientWithConfig(oc), model: model}, nil
	}
}

// Transcribe uploads the audio file and returns the transcript.
func (e *Engine) Transcribe(ctx context.Context, req engine.Request) ([]engine.Record, error) {
	ar := openai.AudioRequest{
		Model:    e.model,
		FilePath: req.AudioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if req.Language != "" && req.Language != engine.LanguageAuto {
		ar.Language = string(req.Language)
	}

	resp, err := e.client.CreateTranscription(ctx, ar)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}
	return []engine.Record{{Text: text, Language: languageCode(resp.Language)}}, nil
}

func languageCode(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := whisperLanguages[name]; ok {
		return code
	}
	return name
}

// Info describes the Whisper model.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:      "openai",
		ModelPath: "openai/" + e.model,
		Features:  []string{"language detection"},
	}
}

// Close is a no-op; the client holds no resources.
func (e *Engine) Close() error { return nil }
