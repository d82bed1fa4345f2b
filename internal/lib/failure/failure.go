package failure

import (
	"errors"
	"fmt"
)

// ErrTransient marks a recoverable service failure (HTTP error, non-OK status).
// The owning loop skips the current cycle and keeps its prior state.
var ErrTransient = errors.New("transient service error")

// ErrMalformedResponse marks a payload that could not be decoded into the expected shape.
// Pipelines treat it exactly like ErrTransient.
var ErrMalformedResponse = errors.New("malformed response")

// Kind classifies an error for pipeline control flow
type Kind int

const (
	KindNone Kind = iota
	KindDevice
	KindTransient
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDevice:
		return "device"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// DeviceError reports that a camera or location device is unavailable for the
// rest of the session (permission denied, device missing, stream ended).
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device error: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError wraps err as a DeviceError for the named device
func NewDeviceError(device string, err error) *DeviceError {
	return &DeviceError{Device: device, Err: err}
}

// RouteStatusError is a named routing failure such as "ZERO_RESULTS" or "OVER_QUERY_LIMIT"
type RouteStatusError struct {
	Status  string
	Message string
}

func (e *RouteStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("route status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("route status %s", e.Status)
}

// Is lets errors.Is(err, ErrTransient) match named route failures
func (e *RouteStatusError) Is(target error) bool {
	return target == ErrTransient
}

// Transient wraps a formatted message with ErrTransient
func Transient(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Malformed wraps err with ErrMalformedResponse
func Malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, what, err)
}

// Classify maps err onto the error taxonomy. Unknown errors count as transient
// so a single odd failure never stops a pipeline.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var deviceErr *DeviceError
	if errors.As(err, &deviceErr) {
		return KindDevice
	}
	if errors.Is(err, ErrMalformedResponse) {
		return KindMalformed
	}
	return KindTransient
}

// IsDevice reports whether err is fatal to the pipeline that produced it
func IsDevice(err error) bool {
	return Classify(err) == KindDevice
}
