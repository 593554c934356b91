package device

import (
	"context"

	"github.com/bnavetta/samwise/internal/id"
)

// Handle is a cheaply clonable reference to one device's channels: the
// DeviceId, a read side on the state broadcast, and a sender for the
// action queue. Cloning a Handle (simply copying the struct) shares the
// same underlying channels.
type Handle struct {
	id     id.DeviceId
	states *broadcast
	queue  *actionQueue
}

// ID returns the device this handle refers to.
func (h *Handle) ID() id.DeviceId { return h.id }

// Submit enqueues action without blocking, returning SubmitBusy if the
// handler hasn't drained the previous action yet, or SubmitClosed if
// the device's manager has shut down.
func (h *Handle) Submit(action Action) SubmitResult {
	return h.queue.trySend(action)
}

// LatestState reads the cached broadcast value without suspending.
func (h *Handle) LatestState() State {
	s, _ := h.states.snapshot()
	return s
}

// RecvState suspends until the next state publication after this call
// begins, or returns an error if ctx is
// cancelled or the broadcast closes first. Most callers should prefer
// LatestState; RecvState exists for code that needs to observe a
// transition rather than a point-in-time value.
func (h *Handle) RecvState(ctx context.Context) (State, error) {
	_, gen := h.states.snapshot()
	s, _, err := h.states.recv(ctx, gen)
	return s, err
}
