// Package lifecycle owns the one-time initialization of the semantic
// index and the generation engine, and gates query traffic on it.
package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vkarpenko/salesbot/internal/ai"
	"github.com/vkarpenko/salesbot/pkg/models"
)

// State is the lifecycle of the shared resources.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Retriever is the read side of the semantic index.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k, fetchK int) ([]models.SearchResult, error)
}

// NotReadyError is returned to request handlers while resources are not
// READY. Cause carries the recorded initialization failure, if any.
type NotReadyError struct {
	State State
	Cause error
}

func (e *NotReadyError) Error() string {
	if e.Cause != nil {
		return "resources " + e.State.String() + ": " + e.Cause.Error()
	}
	return "resources " + e.State.String()
}

func (e *NotReadyError) Unwrap() error { return e.Cause }

// ErrInitInFlight rejects a second concurrent initialization attempt.
var ErrInitInFlight = errors.New("initialization already in progress")

// Manager drives UNINITIALIZED -> INITIALIZING -> READY | FAILED.
// Exactly one initialization runs at a time; FAILED is recoverable by an
// explicit re-initialization. The handles are read-only once READY, so
// queries share them without locking.
type Manager struct {
	indexInit  func(ctx context.Context) (Retriever, error)
	engineInit func(ctx context.Context) (ai.Client, error)

	mu        sync.Mutex
	state     State
	cause     error
	retriever Retriever
	engine    ai.Client
}

// NewManager wires the two initialization steps. Neither runs until
// Initialize is called.
func NewManager(
	indexInit func(ctx context.Context) (Retriever, error),
	engineInit func(ctx context.Context) (ai.Client, error),
) *Manager {
	return &Manager{indexInit: indexInit, engineInit: engineInit}
}

// Initialize runs both steps once. A concurrent call observes the
// in-flight attempt and returns ErrInitInFlight instead of starting a
// second load. A READY manager returns nil immediately.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		m.mu.Unlock()
		return ErrInitInFlight
	}
	m.state = StateInitializing
	m.cause = nil
	m.mu.Unlock()

	log.Info().Msg("initializing semantic index")
	r, err := m.indexInit(ctx)
	if err != nil {
		m.fail(err)
		return err
	}
	log.Info().Msg("semantic index ready")

	log.Info().Msg("initializing generation engine")
	e, err := m.engineInit(ctx)
	if err != nil {
		m.fail(err)
		return err
	}
	log.Info().Msg("generation engine ready")

	m.mu.Lock()
	m.retriever = r
	m.engine = e
	m.state = StateReady
	m.mu.Unlock()
	return nil
}

// Reinitialize resets a FAILED (or READY, for operator-forced reloads)
// manager and runs initialization again. While an attempt is in flight
// it is rejected, not queued.
func (m *Manager) Reinitialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateInitializing {
		m.mu.Unlock()
		return ErrInitInFlight
	}
	m.state = StateUninitialized
	m.cause = nil
	m.mu.Unlock()
	return m.Initialize(ctx)
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = StateFailed
	m.cause = err
	m.mu.Unlock()
	log.Error().Err(err).Msg("resource initialization failed")
}

// State reports the current state and the recorded failure cause.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.cause
}

// Handles returns the shared retriever and engine, or a NotReadyError
// carrying the current state and recorded cause.
func (m *Manager) Handles() (Retriever, ai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return nil, nil, &NotReadyError{State: m.state, Cause: m.cause}
	}
	return m.retriever, m.engine, nil
}
