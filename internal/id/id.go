// Package id defines the opaque identifier types used to route requests
// to devices and targets without confusing the two at compile time.
package id

import (
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// DeviceId names one configured device. It must be non-empty and
// alphanumeric.
type DeviceId string

// TargetId names one bootable selection within a device's target map.
// Unlike DeviceId, a TargetId's validity is relative to a particular
// device's configuration, not to a global character-class rule.
type TargetId string

// ErrInvalidDeviceId is returned by ParseDeviceId when the given string
// contains anything outside [A-Za-z0-9], including the empty string.
var ErrInvalidDeviceId = errors.New("device id must be non-empty and alphanumeric")

// ParseDeviceId validates and wraps s as a DeviceId.
func ParseDeviceId(s string) (DeviceId, error) {
	if !isAlphanumeric(s) {
		return "", errors.Wrapf(ErrInvalidDeviceId, "%q", s)
	}
	return DeviceId(s), nil
}

func isAlphanumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			return false
		}
	}
	return true
}

func (d DeviceId) String() string { return string(d) }

func (t TargetId) String() string { return string(t) }

// MarshalLogObject lets a DeviceId be attached to a zap field group
// directly, matching how per-device loggers are built elsewhere.
func (d DeviceId) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("device", string(d))
	return nil
}
