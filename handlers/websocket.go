package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay/broker"
	"chatrelay/config"
	"chatrelay/models"
	"chatrelay/registry"
)

// ErrClientClosed is returned by Send after the connection's read loop has
// exited.
var ErrClientClosed = errors.New("client connection closed")

// ErrSendTimeout is returned by Send when the client's outbound buffer stays
// full past the write deadline.
var ErrSendTimeout = errors.New("send to client timed out")

const publishTimeout = 5 * time.Second

// Publisher sends a serialized message to a broker subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Deps carries the shared collaborators a connection needs. Injected
// explicitly per connection rather than captured from package state.
type Deps struct {
	Registry  *registry.Registry
	Publisher Publisher
	Log       *zerolog.Logger
}

// Client is one live WebSocket connection bound to a room identifier.
type Client struct {
	Conn      *websocket.Conn
	Publisher Publisher
	Room      string
	ConnID    string
	Log       *zerolog.Logger
	SendChan  chan []byte   // raw payloads from the outbound relay
	DoneChan  chan struct{} // closed when the read loop exits
}

// NewClient builds a Client for an accepted connection. ConnID is
// server-assigned and distinguishes connections that claim the same room.
func NewClient(conn *websocket.Conn, pub Publisher, room string, logger *zerolog.Logger) *Client {
	return &Client{
		Conn:      conn,
		Publisher: pub,
		Room:      room,
		ConnID:    uuid.NewString(),
		Log:       logger,
		SendChan:  make(chan []byte, 256),
		DoneChan:  make(chan struct{}),
	}
}

// Send implements registry.Sender. It hands the raw payload to the write
// pump; if the client is gone or its buffer stays full, the payload is lost,
// which is the accepted outcome for a closed or stalled connection.
func (c *Client) Send(payload []byte) error {
	select {
	case c.SendChan <- payload:
		return nil
	case <-c.DoneChan:
		return ErrClientClosed
	case <-time.After(config.WriteWait):
		return ErrSendTimeout
	}
}

// buildRouted parses a raw client payload and stamps it for the work queue.
// The session's room identifier overwrites both the sender and any
// client-supplied room claim.
func buildRouted(room string, raw []byte) ([]byte, error) {
	var msg models.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	routed := models.RoutedMessage{
		ChatMessage: msg,
		ID:          uuid.NewString(),
		Room:        room,
	}
	routed.Sender = room
	return json.Marshal(routed)
}

// HandleRead reads messages from the WebSocket connection and publishes them
// to the work queue. A malformed payload is dropped; the connection stays
// open.
func (c *Client) HandleRead(ctx context.Context) {
	defer func() {
		c.Log.Debug().Str("room", c.Room).Str("conn_id", c.ConnID).Msg("reader closed")
		close(c.DoneChan)
	}()
	c.Conn.SetReadLimit(config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn().Err(err).Str("room", c.Room).Msg("websocket read error")
			} else {
				c.Log.Debug().Err(err).Str("room", c.Room).Msg("websocket closed")
			}
			break
		}

		data, err := buildRouted(c.Room, raw)
		if err != nil {
			c.Log.Warn().Err(err).Str("room", c.Room).Msg("dropping malformed client payload")
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := c.Publisher.Publish(pubCtx, broker.SubjectChatQueue, data); err != nil {
			c.Log.Warn().Err(err).Str("room", c.Room).Msg("failed to publish inbound message")
		}
		cancel()
	}
}

// HandleWrite writes payloads from SendChan to the WebSocket connection and
// keeps the connection alive with pings.
func (c *Client) HandleWrite() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Log.Debug().Str("room", c.Room).Str("conn_id", c.ConnID).Msg("writer closed")
	}()

	for {
		select {
		case payload := <-c.SendChan:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Log.Warn().Err(err).Str("room", c.Room).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Log.Debug().Err(err).Str("room", c.Room).Msg("websocket ping error")
				return
			}

		case <-c.DoneChan:
			return
		}
	}
}

// HandleWebSocket manages the lifecycle of one WebSocket connection: it
// validates the handshake room identifier, registers the session, runs the
// read and write pumps, and unregisters on exit.
func HandleWebSocket(conn *websocket.Conn, deps Deps) {
	room := conn.Params("room")
	if room == "" {
		deps.Log.Warn().Msg("rejecting connection without room identifier")
		conn.WriteJSON(fiber.Map{"error": "missing room identifier"})
		conn.Close()
		return
	}

	client := NewClient(conn, deps.Publisher, room, deps.Log)
	deps.Registry.Register(room, client.ConnID, client)
	deps.Log.Info().Str("room", room).Str("conn_id", client.ConnID).Msg("client connected")

	defer func() {
		deps.Registry.Unregister(room, client.ConnID)
		conn.Close()
		deps.Log.Info().Str("room", room).Str("conn_id", client.ConnID).Msg("client disconnected")
	}()

	go client.HandleWrite()

	// Blocks until the connection closes or errors, triggering the defers.
	client.HandleRead(context.Background())
}
