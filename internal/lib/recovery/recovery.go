package recovery

import (
	"context"
	"runtime/debug"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Recover logs a panic in a background goroutine instead of crashing the
// process. It must be deferred directly: defer recovery.Recover(ctx, "name").
func Recover(ctx context.Context, goroutine string) {
	if r := recover(); r != nil {
		err, _ := errors.ParseStack(debug.Stack())
		skipFrames := 3
		numFrames := 5
		logging.Errorw(ctx, goroutine+": recovered from panic",
			"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
	}
}
