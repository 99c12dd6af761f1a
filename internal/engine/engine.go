// Package engine defines the contract for speech recognition engines and the
// process-wide lifecycle of the single engine instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Language is the recognition language hint passed to an engine.
type Language string

const (
	LanguageAuto      Language = "auto"
	LanguageChinese   Language = "zh"
	LanguageEnglish   Language = "en"
	LanguageCantonese Language = "yue"
	LanguageJapanese  Language = "ja"
	LanguageKorean    Language = "ko"
)

// SupportedLanguages lists every accepted hint, "auto" first.
var SupportedLanguages = []Language{
	LanguageAuto,
	LanguageChinese,
	LanguageEnglish,
	LanguageCantonese,
	LanguageJapanese,
	LanguageKorean,
}

// ErrUnsupportedLanguage is returned by ParseLanguage for unknown hints.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ParseLanguage validates a language hint. An empty string means auto.
func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LanguageAuto, nil
	}
	for _, l := range SupportedLanguages {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// Record is one recognition result. Language is empty when the engine did
// not report one.
type Record struct {
	Text     string
	Language string
}

// Request describes one transcription call.
type Request struct {
	AudioPath string
	Language  Language
}

// Engine is an initialized speech recognition backend. Transcribe is
// synchronous and may be slow; callers offload it. It returns zero or one
// records.
type Engine interface {
	Transcribe(ctx context.Context, req Request) ([]Record, error)
	Close() error
}

// Info describes the loaded model for status endpoints.
type Info struct {
	Name      string
	ModelPath string
	Features  []string
}

// Describer is implemented by engines that can report model details.
type Describer interface {
	Info() Info
}

// Loader performs the once-per-process engine initialization.
type Loader func(ctx context.Context) (Engine, error)
