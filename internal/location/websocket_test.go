package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/failure"
)

var defaultOpts = WatchOptions{HighAccuracy: true, MaxCachedAge: 0, Timeout: 20 * time.Second}

func newTestServer(t *testing.T) (*WebSocketSource, string) {
	src := NewWebSocketSource(zap.NewNop())
	server := httptest.NewServer(src)
	t.Cleanup(server.Close)
	return src, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialDevice(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) DeviceMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg DeviceMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketSource_DeliversPositions(t *testing.T) {
	src, url := newTestServer(t)

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)
	defer sub.Stop()

	device := dialDevice(t, url)

	watch := readMessage(t, device)
	assert.Equal(t, MessageWatch, watch.Type)
	assert.True(t, watch.HighAccuracy)
	assert.Equal(t, int64(20000), watch.TimeoutMs)

	require.NoError(t, device.WriteJSON(DeviceMessage{
		Type:      MessagePosition,
		Lat:       40.758,
		Lng:       -73.9855,
		Timestamp: time.Now().UnixMilli(),
	}))

	select {
	case loc := <-sub.Locations:
		assert.InDelta(t, 40.758, loc.Latitude, 1e-9)
		assert.InDelta(t, -73.9855, loc.Longitude, 1e-9)
		assert.False(t, loc.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no location delivered")
	}
}

func TestWebSocketSource_DropsCachedFixes(t *testing.T) {
	src, url := newTestServer(t)

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)
	defer sub.Stop()

	device := dialDevice(t, url)
	readMessage(t, device)

	stale := time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessagePosition, Lat: 1, Lng: 1, Timestamp: stale}))
	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessagePosition, Lat: 91, Lng: 1}))
	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessagePosition, Lat: 2, Lng: 2, Timestamp: time.Now().UnixMilli()}))

	select {
	case loc := <-sub.Locations:
		assert.Equal(t, 2.0, loc.Latitude, "stale and invalid fixes must be skipped")
	case <-time.After(2 * time.Second):
		t.Fatal("no location delivered")
	}
}

func TestWebSocketSource_MaxCachedAge(t *testing.T) {
	src := NewWebSocketSource(zap.NewNop())
	w := &watch{opts: WatchOptions{MaxCachedAge: 10 * time.Second}, startedAt: time.Now()}

	_, ok := src.accept(w, DeviceMessage{Lat: 1, Lng: 1, Timestamp: time.Now().Add(-5 * time.Second).UnixMilli()})
	assert.True(t, ok)

	_, ok = src.accept(w, DeviceMessage{Lat: 1, Lng: 1, Timestamp: time.Now().Add(-15 * time.Second).UnixMilli()})
	assert.False(t, ok)
}

func TestWebSocketSource_PermissionDenied(t *testing.T) {
	src, url := newTestServer(t)

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)

	device := dialDevice(t, url)
	readMessage(t, device)

	require.NoError(t, device.WriteJSON(DeviceMessage{
		Type:    MessageError,
		Code:    CodePermissionDenied,
		Message: "User denied Geolocation",
	}))

	select {
	case err := <-sub.Errors:
		assert.True(t, failure.IsDevice(err))
		assert.True(t, errors.Is(err, ErrPermissionDenied))
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not end")
	}
	_, open := <-sub.Locations
	assert.False(t, open, "no further events after a device error")

	// A new watch may start once the failed one has ended
	sub2, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)
	sub2.Stop()
}

func TestWebSocketSource_NonFatalDeviceErrors(t *testing.T) {
	src, url := newTestServer(t)

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)
	defer sub.Stop()

	device := dialDevice(t, url)
	readMessage(t, device)

	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessageError, Code: CodeTimeout}))
	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessagePosition, Lat: 3, Lng: 3, Timestamp: time.Now().UnixMilli()}))

	select {
	case loc := <-sub.Locations:
		assert.Equal(t, 3.0, loc.Latitude)
	case err := <-sub.Errors:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no location delivered")
	}
}

func TestWebSocketSource_SingleDevice(t *testing.T) {
	src, url := newTestServer(t)
	dialDevice(t, url)

	require.Eventually(t, src.Connected, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocketSource_SingleWatch(t *testing.T) {
	src := NewWebSocketSource(zap.NewNop())

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)

	_, err = src.Watch(context.Background(), defaultOpts)
	assert.ErrorIs(t, err, ErrWatchActive)

	sub.Stop()
	_, open := <-sub.Locations
	assert.False(t, open)
}

func TestWebSocketSource_StopClearsDeviceWatch(t *testing.T) {
	src, url := newTestServer(t)
	device := dialDevice(t, url)
	require.Eventually(t, src.Connected, time.Second, 5*time.Millisecond)

	sub, err := src.Watch(context.Background(), defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, MessageWatch, readMessage(t, device).Type)

	sub.Stop()
	assert.Equal(t, MessageClearWatch, readMessage(t, device).Type)
}

func TestWebSocketSource_Ping(t *testing.T) {
	_, url := newTestServer(t)
	device := dialDevice(t, url)

	require.NoError(t, device.WriteJSON(DeviceMessage{Type: MessagePing}))
	assert.Equal(t, MessagePong, readMessage(t, device).Type)
}
