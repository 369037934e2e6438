package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"annothub/internal/presence"
)

// Connection lifecycle states. The state is an explicit tagged value,
// not a pile of booleans, so a pending reconnect timer can only exist
// in StateBackoff and Disconnect can always cancel it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

const (
	defaultBackoffBase   = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultMaxReconnects = 5
)

var ErrNotConnected = errors.New("not connected")

// Transport is the minimal surface of *websocket.Conn the connection
// needs; injectable so tests can run without a server.
type Transport interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer func(url string) (Transport, error)

// DialWebSocket is the production dialer.
func DialWebSocket(url string) (Transport, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ws, nil
}

type Options struct {
	URL        string // full ws:// URL including the token query param
	DocumentID string
	UserID     string

	Router *Router

	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxAttempts int
	Dial        Dialer
}

// Connection manages one client's presence transport: connect, join,
// reconnect with exponential backoff, and deliberate disconnect.
type Connection struct {
	mu       sync.Mutex
	opts     Options
	state    State
	attempts int
	timer    *time.Timer
	tr       Transport
	connErr  string

	// generation invalidates stale read loops and timers: Disconnect
	// bumps it, and callbacks holding an old generation do nothing.
	generation int
}

func NewConnection(opts Options) *Connection {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxReconnects
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	return &Connection{opts: opts, state: StateDisconnected}
}

// Connect opens the transport and joins the document. No-op when
// already connected or a connect is in flight.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = StateConnecting
	gen := c.generation
	c.mu.Unlock()

	c.dial(gen)
}

func (c *Connection) dial(gen int) {
	tr, err := c.opts.Dial(c.opts.URL)

	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		return
	}
	if err != nil {
		log.Printf("[client] connect failed: %v", err)
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		return
	}

	c.tr = tr
	c.state = StateConnected
	c.attempts = 0
	c.connErr = ""
	c.mu.Unlock()

	join := presence.NewEnvelope(presence.TypeJoinDocument, c.opts.UserID, presence.JoinDocumentData{
		DocumentID: c.opts.DocumentID,
		UserID:     c.opts.UserID,
	})
	if werr := tr.WriteJSON(join); werr != nil {
		log.Printf("[client] join failed: %v", werr)
		c.handleDrop(gen, tr)
		return
	}

	go c.readLoop(gen, tr)
}

func (c *Connection) readLoop(gen int, tr Transport) {
	for {
		_, payload, err := tr.ReadMessage()
		if err != nil {
			c.handleDrop(gen, tr)
			return
		}

		var env presence.Envelope
		if uerr := json.Unmarshal(payload, &env); uerr != nil {
			// malformed frames never kill the connection
			log.Printf("[client] dropping malformed frame: %v", uerr)
			continue
		}
		if c.opts.Router != nil {
			c.opts.Router.Dispatch(env)
		}
	}
}

// handleDrop runs when the transport closes or errors underneath us.
func (c *Connection) handleDrop(gen int, tr Transport) {
	_ = tr.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.tr != tr {
		return // deliberate disconnect or already superseded
	}
	c.tr = nil
	c.scheduleReconnectLocked(gen)
}

func (c *Connection) scheduleReconnectLocked(gen int) {
	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateDisconnected
		c.connErr = fmt.Sprintf("connection failed after %d attempts", c.attempts)
		log.Printf("[client] giving up: %s", c.connErr)
		return
	}

	delay := backoffDelay(c.attempts, c.opts.BackoffBase, c.opts.BackoffMax)
	c.attempts++
	c.state = StateBackoff
	log.Printf("[client] reconnecting in %s (attempt %d/%d)", delay, c.attempts, c.opts.MaxAttempts)

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.generation || c.state != StateBackoff {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.state = StateConnecting
		c.mu.Unlock()

		c.dial(gen)
	})
}

// backoffDelay is min(base*2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Disconnect cancels any pending reconnect timer, closes the transport
// and clears the local presence registry. No reconnect fires afterward.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	tr := c.tr
	c.tr = nil
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
	if c.opts.Router != nil {
		c.opts.Router.Registry().Clear()
	}
}

// Reconnect re-arms a connection whose retry budget was exhausted.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.connErr = ""
	c.mu.Unlock()

	c.Connect()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionError reports the persistent failure after the reconnect
// cap is exhausted, or "" while the connection is healthy or retrying.
func (c *Connection) ConnectionError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErr
}

func (c *Connection) send(msgType string, data any) error {
	c.mu.Lock()
	tr := c.tr
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || tr == nil {
		return ErrNotConnected
	}
	return tr.WriteJSON(presence.NewEnvelope(msgType, c.opts.UserID, data))
}

func (c *Connection) SendAnnotationCreated(data any) error {
	return c.send(presence.TypeAnnotationCreated, data)
}

func (c *Connection) SendAnnotationUpdated(data any) error {
	return c.send(presence.TypeAnnotationUpdated, data)
}

func (c *Connection) SendAnnotationDeleted(data any) error {
	return c.send(presence.TypeAnnotationDeleted, data)
}

func (c *Connection) SendCursor(page int, x, y float64) error {
	return c.send(presence.TypeCursorMove, presence.CursorMoveData{Page: page, X: x, Y: y})
}

func (c *Connection) SendTyping(isTyping bool, location string) error {
	return c.send(presence.TypeUserTyping, presence.UserTypingData{IsTyping: isTyping, Location: location})
}
