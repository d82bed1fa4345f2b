package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoFrame means the source has not produced a frame with valid dimensions yet
	ErrNoFrame = errors.New("no frame available")

	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera unavailable")
	ErrStreamEnded       = errors.New("camera stream ended")
)

// Frame is the most recent camera sample as a JPEG image
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Empty reports whether the frame has no usable dimensions
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0
}

// Source is a live camera feed. Start acquires the device, Latest returns the
// newest sample, and Close releases the device. Once the device fails, Latest
// returns a *failure.DeviceError.
type Source interface {
	Start(ctx context.Context) error
	Latest() (Frame, error)
	Close() error
}
