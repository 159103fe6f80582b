// Package transport adapts an upgraded websocket connection into discrete
// text messages and control events. It owns frame assembly, masking and
// write serialization; everything above it deals in whole messages.
package transport

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Time allowed for a single frame write before the peer is considered stuck.
const writeWait = 5 * time.Second

// EventType classifies what ReadEvent surfaced.
type EventType int

const (
	Data EventType = iota
	Ping
	Pong
	Close
)

func (t EventType) String() string {
	switch t {
	case Data:
		return "data"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Close:
		return "close"
	}
	return "unknown"
}

// Event is one inbound transport event. Payload holds the message bytes for
// Data, the application payload for Ping/Pong, and the close reason for
// Close. Code is set on Close events only.
type Event struct {
	Type    EventType
	Payload []byte
	Code    ws.StatusCode
}

// Conn is a server-side websocket connection. Reads are single-consumer;
// writes from the connection writer goroutine and transport-level control
// replies are serialized behind one mutex so frames never interleave.
type Conn struct {
	raw net.Conn

	// fragments accumulates a partially received data message across
	// ReadEvent calls, so control frames interleaved between fragments can be
	// surfaced without losing the payload read so far. Single-consumer, like
	// reads in general.
	fragments []byte

	writeMu sync.Mutex

	closeOnce sync.Once
}

// Upgrade hijacks an HTTP request into a websocket Conn.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, err
	}
	return &Conn{raw: conn}, nil
}

// NewConn wraps an already-established connection. Used by tests.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

// ReadEvent blocks for the next transport event. Fragmented data messages are
// reassembled; control frames interleaved between fragments are surfaced in
// arrival order. Ws-level pings are answered here, out of band of the
// outbound message queue, and still surfaced so the session can observe
// activity.
func (c *Conn) ReadEvent() (Event, error) {
	for {
		frame, err := ws.ReadFrame(c.raw)
		if err != nil {
			return Event{}, err
		}
		if frame.Header.Masked {
			frame = ws.UnmaskFrame(frame)
		}

		switch frame.Header.OpCode {
		case ws.OpPing:
			_ = c.writeFrame(ws.NewPongFrame(frame.Payload))
			return Event{Type: Ping, Payload: frame.Payload}, nil

		case ws.OpPong:
			return Event{Type: Pong, Payload: frame.Payload}, nil

		case ws.OpClose:
			code, reason := ws.ParseCloseFrameData(frame.Payload)
			return Event{Type: Close, Payload: []byte(reason), Code: code}, nil

		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			c.fragments = append(c.fragments, frame.Payload...)
			if frame.Header.Fin {
				message := c.fragments
				c.fragments = nil
				return Event{Type: Data, Payload: message}, nil
			}
		}
	}
}

// WriteText sends one text message.
func (c *Conn) WriteText(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.raw, ws.OpText, p)
}

// WritePing sends a keepalive ping.
func (c *Conn) WritePing() error {
	return c.writeFrame(ws.NewPingFrame(nil))
}

// WriteClose sends a close frame with a normal-closure status and the given
// reason as payload.
func (c *Conn) WriteClose(reason string) error {
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, reason)
	return c.writeFrame(ws.NewCloseFrame(body))
}

func (c *Conn) writeFrame(frame ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteFrame(c.raw, frame)
}

// Close tears down the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.raw.Close()
	})
	return err
}
