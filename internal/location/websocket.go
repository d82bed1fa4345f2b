package location

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/failure"
	"github.com/dpup/crosswalk/server/internal/lib/geo"
	"github.com/dpup/crosswalk/server/internal/lib/recovery"
)

// Device clocks drift from the server's; fixes this far before the watch
// started are still accepted when MaxCachedAge is 0
const clockSkew = 2 * time.Second

// Message types exchanged with the device
const (
	MessageWatch      = "watch"
	MessageClearWatch = "clearWatch"
	MessagePosition   = "position"
	MessageError      = "error"
	MessagePing       = "ping"
	MessagePong       = "pong"
)

// Geolocation error codes reported by the device
const (
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodePositionUnavailable = "POSITION_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Devices connect from the companion page on any origin
	},
}

// WebSocketSource receives positions from a device connected over a websocket.
// One device may be attached at a time.
type WebSocketSource struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	watch   *watch
	writeMu sync.Mutex
}

// NewWebSocketSource creates a websocket-backed location source
func NewWebSocketSource(logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		logger: logger.With(zap.String("component", "location")),
		now:    time.Now,
	}
}

type watch struct {
	opts      WatchOptions
	startedAt time.Time
	events    chan DeviceMessage
	done      chan struct{}
}

// Watch starts a location watch. Only one watch may be active.
func (s *WebSocketSource) Watch(ctx context.Context, opts WatchOptions) (*Subscription, error) {
	s.mu.Lock()
	if s.watch != nil {
		s.mu.Unlock()
		return nil, ErrWatchActive
	}

	w := &watch{
		opts:      opts,
		startedAt: s.now(),
		events:    make(chan DeviceMessage, 16),
		done:      make(chan struct{}),
	}
	s.watch = w
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, watchMessage(opts))
	}

	ctx, cancel := context.WithCancel(ctx)
	locations := make(chan geo.Location)
	errs := make(chan error, 1)

	go s.run(ctx, w, locations, errs)

	s.logger.Info("Location watch started",
		zap.Bool("high_accuracy", opts.HighAccuracy),
		zap.Duration("max_cached_age", opts.MaxCachedAge),
		zap.Duration("timeout", opts.Timeout))

	return NewSubscription(locations, errs, cancel, w.done), nil
}

func (s *WebSocketSource) run(ctx context.Context, w *watch, locations chan<- geo.Location, errs chan<- error) {
	defer recovery.Recover(ctx, "Location watch")
	defer func() {
		close(locations)
		close(errs)

		s.mu.Lock()
		if s.watch == w {
			s.watch = nil
		}
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			s.send(conn, DeviceMessage{Type: MessageClearWatch})
		}
		close(w.done)
	}()

	var timeout <-chan time.Time
	var timer *time.Timer
	if w.opts.Timeout > 0 {
		timer = time.NewTimer(w.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Location watch stopped")
			return

		case <-timeout:
			s.logger.Warn("No position fix within timeout", zap.Duration("timeout", w.opts.Timeout))
			timer.Reset(w.opts.Timeout)

		case msg := <-w.events:
			switch msg.Type {
			case MessagePosition:
				loc, ok := s.accept(w, msg)
				if !ok {
					continue
				}
				if timer != nil {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.opts.Timeout)
				}
				select {
				case locations <- loc:
				case <-ctx.Done():
					return
				}

			case MessageError:
				if msg.Code == CodePermissionDenied {
					err := failure.NewDeviceError("location", fmt.Errorf("%w: %s", ErrPermissionDenied, msg.Message))
					s.logger.Error("Location watch failed", zap.Error(err))
					errs <- err
					return
				}
				s.logger.Warn("Location error from device",
					zap.String("code", msg.Code),
					zap.String("message", msg.Message))
			}
		}
	}
}

// accept applies the watch's caching policy to a position message
func (s *WebSocketSource) accept(w *watch, msg DeviceMessage) (geo.Location, bool) {
	point := geo.Point{Latitude: msg.Lat, Longitude: msg.Lng}
	if !point.Valid() || (msg.Lat == 0 && msg.Lng == 0) {
		s.logger.Warn("Dropping invalid position", zap.Float64("lat", msg.Lat), zap.Float64("lng", msg.Lng))
		return geo.Location{}, false
	}

	now := s.now()
	ts := now
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	if w.opts.MaxCachedAge <= 0 {
		if ts.Before(w.startedAt.Add(-clockSkew)) {
			s.logger.Debug("Dropping cached position taken before watch started", zap.Time("timestamp", ts))
			return geo.Location{}, false
		}
	} else if now.Sub(ts) > w.opts.MaxCachedAge {
		s.logger.Debug("Dropping position older than max cached age", zap.Time("timestamp", ts))
		return geo.Location{}, false
	}

	return geo.Location{Point: point, Timestamp: ts}, true
}

// ServeHTTP upgrades a device connection and forwards its messages to the
// active watch
func (s *WebSocketSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	attached := s.conn != nil
	s.mu.Unlock()
	if attached {
		http.Error(w, "a location device is already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "device already connected"),
			time.Now().Add(time.Second))
		return
	}
	s.conn = conn
	active := s.watch
	s.mu.Unlock()

	s.logger.Info("Location device connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		s.logger.Info("Location device disconnected")
	}()

	if active != nil {
		s.send(conn, watchMessage(active.opts))
	}

	for {
		var msg DeviceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Location websocket error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MessagePing:
			s.send(conn, DeviceMessage{Type: MessagePong})
		case MessagePosition, MessageError:
			s.deliver(msg)
		default:
			s.logger.Warn("Unknown message type", zap.String("type", msg.Type))
		}
	}
}

func (s *WebSocketSource) deliver(msg DeviceMessage) {
	s.mu.Lock()
	w := s.watch
	s.mu.Unlock()

	if w == nil {
		s.logger.Debug("Dropping device message, no active watch", zap.String("type", msg.Type))
		return
	}

	select {
	case w.events <- msg:
	case <-w.done:
	}
}

// Connected reports whether a device is attached
func (s *WebSocketSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *WebSocketSource) send(conn *websocket.Conn, msg DeviceMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("Failed to send websocket message", zap.Error(err), zap.String("type", msg.Type))
	}
}

func watchMessage(opts WatchOptions) DeviceMessage {
	return DeviceMessage{
		Type:         MessageWatch,
		HighAccuracy: opts.HighAccuracy,
		MaximumAgeMs: opts.MaxCachedAge.Milliseconds(),
		TimeoutMs:    opts.Timeout.Milliseconds(),
	}
}

// DeviceMessage is the JSON envelope exchanged with the device
type DeviceMessage struct {
	Type string `json:"type"`

	// watch
	HighAccuracy bool  `json:"highAccuracy,omitempty"`
	MaximumAgeMs int64 `json:"maximumAgeMs,omitempty"`
	TimeoutMs    int64 `json:"timeoutMs,omitempty"`

	// position
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"` // Unix milliseconds

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
