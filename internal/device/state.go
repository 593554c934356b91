// Package device implements the per-device concurrency core: a state
// poller and an action handler sharing a single-value broadcast of
// observed state and a capacity-1 action queue, plus a cheaply
// clonable handle onto both.
package device

import (
	"context"
	"sync"

	"github.com/bnavetta/samwise/internal/id"
)

// StateKind tags the variant of an observed State.
type StateKind int

const (
	// StateUnknown is the initial value before any Agent reply arrives.
	// It is a one-way initial state: once Running or Off is published,
	// Unknown is never published again.
	StateUnknown StateKind = iota
	// StateRunning means the Agent answered and reports Target booted.
	StateRunning
	// StateOff means the last Agent RPC failed -- conflating "off",
	// "suspended", and "network partition" by design.
	StateOff
)

// State is the Controller's observation of one device's power/OS state.
type State struct {
	Kind   StateKind
	Target id.TargetId // meaningful only when Kind == StateRunning
}

// Unknown is the initial State every device starts in.
var Unknown = State{Kind: StateUnknown}

// Off is the observed State when the Agent does not answer.
var Off = State{Kind: StateOff}

// Running builds the observed State for a device reporting target as
// currently booted.
func Running(target id.TargetId) State {
	return State{Kind: StateRunning, Target: target}
}

func (s State) String() string {
	switch s.Kind {
	case StateRunning:
		return "running(" + s.Target.String() + ")"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// broadcast is a single-value, latest-wins publish/subscribe cell: the
// Go equivalent of tokio::sync::watch, built from a mutex, a condition
// variable, and a monotonic generation counter, since nothing in the
// ecosystem provides this "broadcast the latest value, not a queue"
// primitive.
type broadcast struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  State
	gen    uint64
	closed bool
}

func newBroadcast(initial State) *broadcast {
	b := &broadcast{value: initial}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// publish overwrites the latest value and wakes every waiter that has
// not yet observed it. Publishing the same value again is allowed and
// still bumps the generation -- waiters parked in recv are woken, but
// the value they observe is unchanged, matching the "idempotent
// re-publication" semantics spec.md calls out for the poller.
func (b *broadcast) publish(v State) {
	b.mu.Lock()
	b.value = v
	b.gen++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// snapshot is a non-suspending read of the latest published value and
// the generation it was published at.
func (b *broadcast) snapshot() (State, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.gen
}

// recv blocks until a value newer than lastGen is published, the
// broadcast is closed, or ctx is done.
func (b *broadcast) recv(ctx context.Context, lastGen uint64) (State, uint64, error) {
	// sync.Cond has no context-aware wait, so a waiter goroutine
	// rebroadcasts ctx cancellation as a regular wakeup.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.cond.Broadcast()
		case <-stop:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.gen == lastGen && !b.closed && ctx.Err() == nil {
		b.cond.Wait()
	}
	if ctx.Err() != nil {
		return State{}, lastGen, ctx.Err()
	}
	if b.closed && b.gen == lastGen {
		return State{}, lastGen, errStateChannelClosed
	}
	return b.value, b.gen, nil
}

// close marks the broadcast closed and wakes every waiter, matching
// "closing channels" as the graceful-shutdown signal.
func (b *broadcast) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
