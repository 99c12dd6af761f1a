// Package mock provides a mock recognition engine for running without a model.
// It returns canned SenseVoice-style transcripts, cycling through a fixed set.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"chat-stt-gateway/internal/engine"
)

// Utterance is a canned recognition result.
type Utterance struct {
	Raw      string // engine output including SenseVoice tags
	Language string
}

// DefaultUtterances provides sample results for simulation.
var DefaultUtterances = []Utterance{
	{Raw: "<|zh|><|NEUTRAL|><|Speech|><|withitn|>你好，请问有什么可以帮您？", Language: "zh"},
	{Raw: "<|en|><|HAPPY|><|Speech|><|withitn|>I want to cancel my subscription.", Language: "en"},
	{Raw: "<|en|><|NEUTRAL|><|BGM|><|withitn|>Can you help me with my account?", Language: "en"},
	{Raw: "<|yue|><|NEUTRAL|><|Speech|><|withitn|>唔該晒。", Language: "yue"},
	{Raw: "<|ja|><|NEUTRAL|><|Laughter|><|withitn|>ありがとうございます。", Language: "ja"},
}

// Engine implements engine.Engine with canned responses.
type Engine struct {
	utterances []Utterance
	delay      time.Duration
	err        error

	mu     sync.Mutex
	next   int
	closed bool
}

// Option configures the mock engine.
type Option func(*Engine)

// WithDelay simulates inference latency.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// WithError makes every Transcribe call fail with err.
func WithError(err error) Option {
	return func(e *Engine) { e.err = err }
}

// WithUtterances replaces the canned results. An empty list yields no records.
func WithUtterances(u []Utterance) Option {
	return func(e *Engine) { e.utterances = u }
}

// New creates a new mock engine.
func New(opts ...Option) *Engine {
	e := &Engine{utterances: DefaultUtterances}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loader returns an engine.Loader that waits initDelay and then yields a
// mock engine, or initErr if set.
func Loader(initDelay time.Duration, initErr error, opts ...Option) engine.Loader {
	return func(ctx context.Context) (engine.Engine, error) {
		if initDelay > 0 {
			select {
			case <-time.After(initDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if initErr != nil {
			return nil, initErr
		}
		return New(opts...), nil
	}
}

// Transcribe returns the next canned utterance. The audio file must exist.
func (e *Engine) Transcribe(ctx context.Context, req engine.Request) ([]engine.Record, error) {
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, fmt.Errorf("mock: audio file: %w", err)
	}

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("mock: engine closed")
	}
	if e.err != nil {
		return nil, e.err
	}
	if len(e.utterances) == 0 {
		return nil, nil
	}

	u := e.utterances[e.next%len(e.utterances)]
	e.next++
	return []engine.Record{{Text: u.Raw, Language: u.Language}}, nil
}

// Info describes the mock model.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:      "mock",
		ModelPath: "mock://sensevoice",
		Features:  []string{"canned transcripts"},
	}
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
