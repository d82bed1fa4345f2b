package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	denied := errors.New("permission denied")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"device", NewDeviceError("camera", denied), KindDevice},
		{"wrapped device", fmt.Errorf("failed to open: %w", NewDeviceError("location", denied)), KindDevice},
		{"transient", Transient("API error %d", 503), KindTransient},
		{"route status", &RouteStatusError{Status: "ZERO_RESULTS"}, KindTransient},
		{"malformed", Malformed("inference response", errors.New("unexpected EOF")), KindMalformed},
		{"unknown", errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRouteStatusError_IsTransient(t *testing.T) {
	err := fmt.Errorf("failed to compute route: %w", &RouteStatusError{Status: "NOT_FOUND", Message: "no route found"})

	assert.True(t, errors.Is(err, ErrTransient))
	assert.Contains(t, err.Error(), "route status NOT_FOUND: no route found")

	var statusErr *RouteStatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "NOT_FOUND", statusErr.Status)
}

func TestDeviceError_Unwrap(t *testing.T) {
	denied := errors.New("permission denied")
	err := NewDeviceError("camera", denied)

	assert.ErrorIs(t, err, denied)
	assert.Equal(t, "camera device error: permission denied", err.Error())
	assert.True(t, IsDevice(err))
	assert.False(t, IsDevice(denied))
}
