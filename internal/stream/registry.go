// Package stream converts agent-engine events into the public SSE event
// contract and owns the per-session cancellation and answer signals.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/tyin88/agentgw/internal/domain"
)

// Registry tracks live streams by session id. It is the only shared state
// between a request handler and an in-flight stream: interruption and
// answer injection both go through here, never through shared structs.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Handle is the signal surface for one live stream.
type Handle struct {
	sessionID string

	mu            sync.Mutex
	interrupted   bool
	correlationID string
	answerCh      chan string
}

// Begin registers a live stream for the session. A session has at most one
// live stream; a second Begin for the same id is rejected, never merged.
func (r *Registry) Begin(sessionID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[sessionID]; exists {
		return nil, fmt.Errorf("session %s already streaming: %w", sessionID, domain.ErrConflict)
	}
	h := &Handle{sessionID: sessionID, answerCh: make(chan string, 1)}
	r.handles[sessionID] = h
	return h, nil
}

// End removes the session's live stream registration.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, sessionID)
}

// Interrupt flags the session's live stream for cooperative cancellation.
// Returns ErrNotFound if the session is not actively streaming.
func (r *Registry) Interrupt(sessionID string) error {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not streaming: %w", sessionID, domain.ErrNotFound)
	}
	h.mu.Lock()
	h.interrupted = true
	h.mu.Unlock()
	return nil
}

// Answer resolves the session's pending question. The correlation id must
// match the one carried by the question event; an empty id matches any
// pending question.
func (r *Registry) Answer(sessionID, correlationID, answer string) error {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not streaming: %w", sessionID, domain.ErrNotFound)
	}

	h.mu.Lock()
	pending := h.correlationID
	h.mu.Unlock()
	if pending == "" {
		return fmt.Errorf("session %s has no pending question: %w", sessionID, domain.ErrValidation)
	}
	if correlationID != "" && correlationID != pending {
		return fmt.Errorf("correlation id mismatch: %w", domain.ErrValidation)
	}

	select {
	case h.answerCh <- answer:
		return nil
	default:
		return fmt.Errorf("answer already submitted: %w", domain.ErrConflict)
	}
}

// Interrupted reports whether an interrupt has been requested.
func (h *Handle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// expectAnswer records the correlation id of the question now pending.
func (h *Handle) expectAnswer(correlationID string) {
	h.mu.Lock()
	h.correlationID = correlationID
	h.mu.Unlock()
}

// awaitAnswer blocks until the pending question is answered or ctx ends.
func (h *Handle) awaitAnswer(ctx context.Context) (string, error) {
	select {
	case answer := <-h.answerCh:
		h.mu.Lock()
		h.correlationID = ""
		h.mu.Unlock()
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
