package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lexiqai/transcription-gateway/internal/protocol"
)

const writeTimeout = 10 * time.Second

// WebSocketDialer opens channels to the session server.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer returns a dialer with a bounded handshake
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects and tags the connection with a fresh correlation id.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = v
	}
	header.Set("X-Correlation-ID", uuid.New().String())

	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsChannel) Send(msg protocol.ClientMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Receive blocks for the next server message. Malformed frames are returned
// as errors wrapping protocol.ErrMalformed and do not end the channel.
func (c *wsChannel) Receive() (protocol.ServerMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.ServerMessage{}, err
	}
	return protocol.DecodeServer(data)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// isMalformed reports whether a Receive error left the channel usable.
func isMalformed(err error) bool {
	return errors.Is(err, protocol.ErrMalformed)
}
