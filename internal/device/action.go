package device

import (
	"context"

	"github.com/bnavetta/samwise/internal/id"
)

// ActionKind tags the variant of a desired Action.
type ActionKind int

const (
	ActionRun ActionKind = iota
	ActionReboot
	ActionSuspend
	ActionShutDown
)

// Action is one high-level command submitted to a device's handler.
type Action struct {
	Kind   ActionKind
	Target id.TargetId // meaningful only when Kind == ActionRun
}

func (a Action) String() string {
	switch a.Kind {
	case ActionRun:
		return "run " + a.Target.String()
	case ActionReboot:
		return "reboot"
	case ActionSuspend:
		return "suspend"
	case ActionShutDown:
		return "shut down"
	default:
		return "unknown"
	}
}

// SubmitResult is the outcome of attempting to enqueue an Action.
type SubmitResult int

const (
	SubmitOK SubmitResult = iota
	SubmitBusy
	SubmitClosed
)

// actionQueue is a bounded, multi-producer single-consumer queue of
// capacity 1 with non-blocking send, matching spec.md §9's action
// channel semantics. It closes when ctx, passed to newActionQueue, is
// done -- shutdown is expressed by cancelling the device's context
// rather than by an explicit per-queue Close, since every producer
// (HTTP handlers) and the one consumer (the handler goroutine) already
// share that context's lifetime.
type actionQueue struct {
	ch  chan Action
	ctx context.Context
}

func newActionQueue(ctx context.Context) *actionQueue {
	return &actionQueue{ch: make(chan Action, 1), ctx: ctx}
}

// trySend attempts to enqueue a, never blocking.
func (q *actionQueue) trySend(a Action) SubmitResult {
	if q.ctx.Err() != nil {
		return SubmitClosed
	}
	select {
	case q.ch <- a:
		return SubmitOK
	default:
		return SubmitBusy
	}
}
