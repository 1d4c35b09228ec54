// Package promise joins a UI prompt with a later, independently-arriving
// inbound event through a short-lived correlation ID. It is cluster-local
// and never crosses the IPC channel.
package promise

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrForbidden signals a resolver that is not the pending entry's owner.
	// The entry is not consumed; the correct owner can still resolve it.
	ErrForbidden = errors.New("promise resolver is not the owner")
	// ErrNotFound signals an unknown or already-consumed correlation ID.
	ErrNotFound = errors.New("no pending promise for id")
)

// DefaultTimeout bounds how long a waiter blocks before auto-resolving
// with no value.
const DefaultTimeout = 60 * time.Second

type pending struct {
	ownerID string
	ch      chan string
}

// Handler tracks pending correlations. Each ID is single-use: the first
// successful resolution (or the timeout) consumes it.
type Handler struct {
	mu      sync.Mutex
	pending map[string]*pending
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a promise handler. A non-positive timeout falls back
// to DefaultTimeout.
func NewHandler(timeout time.Duration, logger *zap.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Handler{
		pending: make(map[string]*pending),
		timeout: timeout,
		logger:  logger.Named("promise"),
	}
}

// Create registers a pending correlation and blocks the caller until it is
// resolved, the timeout elapses, or the context is cancelled. The returned
// flag is false when the wait ended without a resolution. Registering an ID
// that is already pending auto-resolves the previous waiter with no value.
func (h *Handler) Create(ctx context.Context, id, ownerID string) (string, bool) {
	entry := &pending{
		ownerID: ownerID,
		ch:      make(chan string, 1),
	}

	h.mu.Lock()
	if old, ok := h.pending[id]; ok {
		h.logger.Warn("Replacing pending promise", zap.String("id", id))
		close(old.ch)
	}

	h.pending[id] = entry
	h.mu.Unlock()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case value, ok := <-entry.ch:
		return value, ok
	case <-timer.C:
	case <-ctx.Done():
	}

	h.remove(id, entry)

	return "", false
}

// Resolve delivers a value to the waiter registered under id. A caller
// other than the owner gets ErrForbidden without consuming the entry; an
// unknown or already-consumed id gets ErrNotFound.
func (h *Handler) Resolve(id, value, callerID string) error {
	h.mu.Lock()

	entry, ok := h.pending[id]
	if !ok {
		h.mu.Unlock()
		return ErrNotFound
	}

	if entry.ownerID != callerID {
		h.mu.Unlock()
		return ErrForbidden
	}

	delete(h.pending, id)
	h.mu.Unlock()

	entry.ch <- value
	close(entry.ch)

	return nil
}

// Pending returns the number of outstanding correlations.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.pending)
}

// remove drops the entry only if it is still the one the waiter registered;
// a concurrent Resolve already consumed it otherwise.
func (h *Handler) remove(id string, entry *pending) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.pending[id]; ok && current == entry {
		delete(h.pending, id)
	}
}
