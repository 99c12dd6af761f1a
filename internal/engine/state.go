package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of the engine.
type State int

const (
	// StateUninitialized - Initialize has not been called.
	StateUninitialized State = iota
	// StateInitializing - the loader is running.
	StateInitializing
	// StateReady - the engine accepts requests.
	StateReady
	// StateFailed - the loader failed. Terminal until restart.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateFailed
}

// Errors for lifecycle misuse.
var (
	ErrNotReady           = errors.New("engine not initialized or initialization failed")
	ErrAlreadyInitialized = errors.New("engine initialization already started")
	ErrNilEngine          = errors.New("loader returned nil engine")
)

// TransitionFunc observes a state change.
type TransitionFunc func(from, to State)

// Holder owns the single engine instance and its lifecycle.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	UNINITIALIZED → INITIALIZING → READY
//	                     │
//	                     └──────→ FAILED
//
// Rules:
//   - Initialize may run once; later calls return ErrAlreadyInitialized.
//   - Engine returns ErrNotReady in every state but READY.
//   - FAILED never recovers; the process must restart.
type Holder struct {
	mu          sync.RWMutex
	state       State
	engine      Engine
	info        Info
	err         error
	readyAt     time.Time
	observers   []TransitionFunc
	initialized chan struct{}
}

// NewHolder creates a holder in UNINITIALIZED state.
func NewHolder() *Holder {
	return &Holder{
		state:       StateUninitialized,
		initialized: make(chan struct{}),
	}
}

// OnTransition registers fn to be called after every state change.
// Observers run synchronously on the initializing goroutine.
func (h *Holder) OnTransition(fn TransitionFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, fn)
}

// State returns the current state.
func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Ready returns true if the engine accepts requests.
func (h *Holder) Ready() bool {
	return h.State() == StateReady
}

// Err returns the initialization error, if any.
func (h *Holder) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Info returns model details once ready.
func (h *Holder) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.info
}

// ReadyAt returns when the engine became ready (zero otherwise).
func (h *Holder) ReadyAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readyAt
}

// Engine returns the engine if READY, or ErrNotReady.
func (h *Holder) Engine() (Engine, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateReady {
		return nil, ErrNotReady
	}
	return h.engine, nil
}

// Done is closed once initialization reaches a terminal state.
func (h *Holder) Done() <-chan struct{} {
	return h.initialized
}

// Initialize runs loader and moves to READY or FAILED. It never panics on
// loader panics; those count as failures.
func (h *Holder) Initialize(ctx context.Context, loader Loader) error {
	if err := h.transition(StateUninitialized, StateInitializing); err != nil {
		return err
	}

	eng, err := safeLoad(ctx, loader)
	if err == nil && eng == nil {
		err = ErrNilEngine
	}

	h.mu.Lock()
	from := h.state
	if err != nil {
		h.state = StateFailed
		h.err = err
	} else {
		h.state = StateReady
		h.engine = eng
		h.readyAt = time.Now()
		if d, ok := eng.(Describer); ok {
			h.info = d.Info()
		}
	}
	to := h.state
	observers := append([]TransitionFunc(nil), h.observers...)
	h.mu.Unlock()

	close(h.initialized)
	for _, fn := range observers {
		fn(from, to)
	}
	return err
}

// Close releases the engine if one was loaded.
func (h *Holder) Close() error {
	h.mu.Lock()
	eng := h.engine
	h.engine = nil
	if h.state == StateReady {
		h.state = StateFailed
		h.err = errors.New("engine closed")
	}
	h.mu.Unlock()

	if eng != nil {
		return eng.Close()
	}
	return nil
}

func (h *Holder) transition(from, to State) error {
	h.mu.Lock()
	if h.state != from {
		h.mu.Unlock()
		return ErrAlreadyInitialized
	}
	h.state = to
	observers := append([]TransitionFunc(nil), h.observers...)
	h.mu.Unlock()

	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

func safeLoad(ctx context.Context, loader Loader) (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = fmt.Errorf("engine loader panicked: %v", r)
		}
	}()
	return loader(ctx)
}
