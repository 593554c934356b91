// Package samerr defines the error kinds shared across the Controller
// and Agent, and the HTTP status codes each kind maps to.
package samerr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purposes of HTTP status mapping.
// It deliberately mirrors the error kinds named in
// the design document rather than ad hoc string matching.
type Kind int

const (
	// KindInternal covers anything not classified below.
	KindInternal Kind = iota
	// KindConfigInvalid marks malformed configuration. Fatal at startup.
	KindConfigInvalid
	// KindDeviceBusy marks an action channel that is already full.
	KindDeviceBusy
	// KindUnknownDevice marks a device id absent from the config map.
	KindUnknownDevice
	// KindUnknownTarget marks a target id absent from a device's target map.
	KindUnknownTarget
	// KindAgentRPCFailed marks a reboot/shutdown/suspend RPC failure.
	KindAgentRPCFailed
	// KindWakeFailed marks a WoL send failure.
	KindWakeFailed
	// KindConfigWriteFailed marks a bootloader file write failure.
	KindConfigWriteFailed
	// KindTimeout marks an await-deadline-exceeded. Never surfaced over HTTP.
	KindTimeout
	// KindStateChannelClosed marks a broadcast channel disappearing mid-wait.
	KindStateChannelClosed
)

// Error carries a Kind alongside a wrapped cause, so callers can test
// classification with errors.As without string-matching messages.
type Error struct {
	Kind Kind
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.msg + ": " + e.Err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a samerr.Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap attaches kind and msg to an existing error, preserving it as the
// cause for errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error,
// defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code the HTTP surface returns.
func HTTPStatus(k Kind) int {
	switch k {
	case KindUnknownDevice:
		return http.StatusNotFound
	case KindDeviceBusy, KindUnknownTarget, KindAgentRPCFailed, KindWakeFailed, KindConfigWriteFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
