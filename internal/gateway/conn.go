package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn wraps a gorilla websocket connection with the serialized-write
// discipline gorilla requires (one writer goroutine at a time) and
// implements registry.Connection.
type wsConn struct {
	conn     *websocket.Conn
	deviceID string

	writeMu sync.Mutex
	closed  bool
}

func newWSConn(conn *websocket.Conn, deviceID string) *wsConn {
	return &wsConn{conn: conn, deviceID: deviceID}
}

// DeviceID implements registry.Connection.
func (c *wsConn) DeviceID() string { return c.deviceID }

// Send implements registry.Connection, writing a JSON envelope.
func (c *wsConn) Send(messageType string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	return c.conn.WriteJSON(envelope{
		Type:      messageType,
		Data:      payload,
		Timestamp: time.Now(),
	})
}

// SendBinary writes a raw binary frame (audio) bypassing the JSON envelope.
func (c *wsConn) SendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close implements registry.Connection.
func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// CloseWithCode implements registry.Connection.
func (c *wsConn) CloseWithCode(code int, reason string) {
	c.closeWithCode(code, reason)
}

func (c *wsConn) closeWithCode(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	c.closed = true
	_ = c.conn.Close()
}

func decodeEnvelope(raw []byte) (envelope, map[string]any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, nil, err
	}
	data, _ := env.Data.(map[string]any)
	return env, data, nil
}
