package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultPlayerCommand plays audio from stdin without a window
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"}

// ExecPlayer pipes clip bytes to an external command
type ExecPlayer struct {
	command string
	args    []string
}

// NewExecPlayer creates a player for the given command line
func NewExecPlayer(command []string) (*ExecPlayer, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("player command is empty")
	}
	return &ExecPlayer{
		command: command[0],
		args:    command[1:],
	}, nil
}

// Play runs the command with the clip on stdin and waits for it to exit
func (p *ExecPlayer) Play(ctx context.Context, clip Clip) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stdin = bytes.NewReader(clip.Data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("failed to play clip %q: %w: %s", clip.Text, err, msg)
		}
		return fmt.Errorf("failed to play clip %q: %w", clip.Text, err)
	}
	return nil
}
