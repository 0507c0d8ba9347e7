package livetracker

import (
	"errors"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrameWriter struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	closed   int
	writeErr error
}

func (f *fakeFrameWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeFrameWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeFrameWriter) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeFrameWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeFrameWriter) written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestSocketSenderDeliversInOrder(t *testing.T) {
	writer := &fakeFrameWriter{}
	sender := newSocketSender(writer, 8)

	done := make(chan struct{})
	go func() {
		sender.writeLoop(time.Hour)
		close(done)
	}()

	for _, frame := range []string{"a", "b", "c"} {
		require.NoError(t, sender.Send([]byte(frame)))
	}

	assert.Eventually(t, func() bool { return writer.written() == 3 }, time.Second, time.Millisecond)

	writer.mu.Lock()
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, writer.messages)
	writer.mu.Unlock()

	require.NoError(t, sender.Close())
	<-done
}

func TestSocketSenderDropsWhenFull(t *testing.T) {
	sender := newSocketSender(&fakeFrameWriter{}, 1)

	assert.NoError(t, sender.Send([]byte("a")))
	assert.ErrorIs(t, sender.Send([]byte("b")), ErrSendBufferFull)
}

func TestSocketSenderClose(t *testing.T) {
	writer := &fakeFrameWriter{}
	sender := newSocketSender(writer, 1)

	assert.NoError(t, sender.Close())
	assert.NoError(t, sender.Close())
	assert.Equal(t, 1, writer.closed)

	assert.ErrorIs(t, sender.Send([]byte("a")), ErrConnectionClosed)
}

func TestSocketSenderClosesOnWriteFailure(t *testing.T) {
	writer := &fakeFrameWriter{writeErr: errors.New("broken pipe")}
	sender := newSocketSender(writer, 1)

	done := make(chan struct{})
	go func() {
		sender.writeLoop(time.Hour)
		close(done)
	}()

	require.NoError(t, sender.Send([]byte("a")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write loop did not stop")
	}
	assert.ErrorIs(t, sender.Send([]byte("b")), ErrConnectionClosed)
}

func TestSocketSenderPings(t *testing.T) {
	writer := &fakeFrameWriter{}
	sender := newSocketSender(writer, 1)

	go sender.writeLoop(5 * time.Millisecond)
	defer sender.Close()

	assert.Eventually(t, func() bool {
		writer.mu.Lock()
		defer writer.mu.Unlock()
		return writer.pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestUpgradeRequired(t *testing.T) {
	app := fiber.New()
	app.Get("/ws", UpgradeRequired, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func startWebsocketServer(t *testing.T, tracker *testTracker) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", UpgradeRequired, tracker.WebsocketHandler())

	go app.Listener(listener)
	t.Cleanup(func() {
		app.Shutdown()
	})

	return "ws://" + listener.Addr().String() + "/ws"
}

func writeFrame(t *testing.T, conn *fastws.Conn, event string, data interface{}) {
	t.Helper()

	raw, err := EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(fastws.TextMessage, raw))
}

func readFrame(t *testing.T, conn *fastws.Conn) *Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	return frame
}

func TestWebsocketConnectionLifecycle(t *testing.T) {
	tracker := newTestTracker(t, BroadcastScopeRoute)
	url := startWebsocketServer(t, tracker)

	conn, _, err := fastws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	writeFrame(t, conn, EventAuthenticate, AuthenticatePayload{Token: "passenger:P1"})
	assert.Equal(t, EventAuthenticated, readFrame(t, conn).Event)

	writeFrame(t, conn, EventRouteSubscribe, RoutePayload{RouteNumber: "R1"})
	assert.Equal(t, EventRouteSubscribed, readFrame(t, conn).Event)

	assert.Equal(t, 1, tracker.Connections.Count())
	assert.Len(t, tracker.Subscriptions.MembersOf("R1"), 1)
	assert.Len(t, tracker.Connections.ConnectionsForSubject("P1"), 1)

	assert.Equal(t, 1, tracker.Router.TripStarted("trip-1", "R1"))
	assert.Equal(t, EventTripNew, readFrame(t, conn).Event)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return tracker.Connections.Count() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Empty(t, tracker.Subscriptions.MembersOf("R1"))
	assert.Equal(t, 0, tracker.Subscriptions.Count())
	assert.Empty(t, tracker.Connections.ConnectionsForSubject("P1"))
	assert.Equal(t, 0, tracker.Router.TripStarted("trip-1", "R1"))
}

func TestWebsocketServerClosesEvictedConnection(t *testing.T) {
	tracker := newTestTracker(t, BroadcastScopeGlobal)
	url := startWebsocketServer(t, tracker)

	conn, _, err := fastws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, EventRouteSubscribe, RoutePayload{RouteNumber: "R1"})
	assert.Equal(t, EventRouteSubscribed, readFrame(t, conn).Event)

	ids := tracker.Connections.IDs()
	require.Len(t, ids, 1)
	require.True(t, tracker.Connections.Deregister(ids[0]))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	assert.Empty(t, tracker.Subscriptions.MembersOf("R1"))
	assert.Equal(t, 0, tracker.Connections.Count())
}
