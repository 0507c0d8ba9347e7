package livetracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	maxInboundFrameBytes = 64 * 1024
	writeTimeout         = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// frameWriter is the part of a websocket connection the sender writes through
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// socketSender queues frames for a single writer goroutine so broadcasts
// never wait on a slow client
type socketSender struct {
	conn     frameWriter
	outbound chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSocketSender(conn frameWriter, buffer int) *socketSender {
	return &socketSender{
		conn:     conn,
		outbound: make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (s *socketSender) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (s *socketSender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// writeLoop drains the queue onto the socket and pings on pingInterval
// until the sender is closed or a write fails
func (s *socketSender) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.Close()
				return
			}
		}
	}
}

// UpgradeRequired rejects plain HTTP requests to the websocket endpoint
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebsocketHandler serves the real-time channel over a websocket
func (t *Tracker) WebsocketHandler() fiber.Handler {
	return websocket.New(t.serveConnection)
}

func (t *Tracker) serveConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := newSocketSender(conn, t.Config.SendBuffer)
	connectionID := t.Connections.Register(sender)

	var writer conc.WaitGroup
	defer writer.Wait()
	defer t.Connections.Deregister(connectionID)

	writer.Go(func() {
		sender.writeLoop(t.Config.HeartbeatInterval)
	})

	conn.SetReadLimit(maxInboundFrameBytes)
	conn.SetPongHandler(func(string) error {
		t.Connections.Touch(connectionID)
		return nil
	})

	log.Info().Str("connection", connectionID).Str("ip", conn.IP()).Msg("Client connected")

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		t.Dispatcher.HandleMessage(ctx, connectionID, payload)
	}

	log.Info().Str("connection", connectionID).Msg("Client disconnected")
}
