package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/failure"
)

const maxFrameBytes = 16 << 20

// FFmpegOptions configures the capture process
type FFmpegOptions struct {
	Device    string // e.g. /dev/video0 on Linux, 0 on macOS
	Width     int
	Height    int
	FrameRate int
	Command   []string // Overrides the generated ffmpeg command line
}

// FFmpegSource reads a continuous MJPEG stream from ffmpeg and keeps only the
// newest frame
type FFmpegSource struct {
	opts   FFmpegOptions
	logger *zap.Logger

	mu      sync.Mutex
	latest  Frame
	err     error
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	frames  int
}

// NewFFmpegSource creates a camera source backed by an ffmpeg process
func NewFFmpegSource(opts FFmpegOptions, logger *zap.Logger) *FFmpegSource {
	return &FFmpegSource{
		opts:   opts,
		logger: logger.With(zap.String("component", "camera")),
	}
}

// Command returns the command line used to capture frames
func (s *FFmpegSource) Command() []string {
	if len(s.opts.Command) > 0 {
		return s.opts.Command
	}

	var input []string
	switch runtime.GOOS {
	case "darwin":
		input = []string{"-f", "avfoundation", "-framerate", strconv.Itoa(s.opts.FrameRate)}
	case "windows":
		input = []string{"-f", "dshow"}
	default:
		input = []string{"-f", "v4l2", "-framerate", strconv.Itoa(s.opts.FrameRate)}
	}

	args := []string{"ffmpeg", "-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-video_size", fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		"-i", s.opts.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-")
	return args
}

// Start launches the capture process. Device failures that surface after the
// process starts are reported through Latest.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("camera already started")
	}

	command := s.Command()
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open camera stream: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return failure.NewDeviceError("camera", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
	}

	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("Camera capture started", zap.Strings("command", command))

	go s.read(runCtx, cmd, stdout, stderr)
	return nil
}

func (s *FFmpegSource) read(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *syncBuffer) {
	defer close(s.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		data := append([]byte(nil), scanner.Bytes()...)
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			s.logger.Debug("Skipping undecodable frame", zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.latest = Frame{
			Data:       data,
			Width:      cfg.Width,
			Height:     cfg.Height,
			CapturedAt: time.Now(),
		}
		s.frames++
		s.mu.Unlock()
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || ctx.Err() != nil {
		return
	}

	cause := classifyExit(stderr.String(), waitErr, scanner.Err())
	s.err = failure.NewDeviceError("camera", cause)
	s.logger.Error("Camera stream stopped", zap.Error(s.err), zap.Int("frames", s.frames))
}

// classifyExit maps the capture process's exit onto a device error cause
func classifyExit(stderr string, waitErr, scanErr error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case strings.Contains(lower, "no such file") || strings.Contains(lower, "cannot open") ||
		strings.Contains(lower, "device or resource busy"):
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
	case scanErr != nil:
		return fmt.Errorf("%w: %v", ErrStreamEnded, scanErr)
	case waitErr != nil:
		return fmt.Errorf("%w: %v", ErrStreamEnded, waitErr)
	default:
		return ErrStreamEnded
	}
}

// Latest returns the newest frame. Before the first frame arrives it returns
// an empty Frame and no error.
func (s *FFmpegSource) Latest() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return Frame{}, s.err
	}
	return s.latest, nil
}

// Close stops the capture process and releases the device
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("Camera capture stopped")
	return nil
}

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images delimited by
// the SOI (FFD8) and EOI (FFD9) markers
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, []byte{0xFF, 0xD8})
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it begins a marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}

	end += start + 2 + 2
	return end, data[start:end], nil
}

// syncBuffer collects stderr written by the exec copier goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 64<<10 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
