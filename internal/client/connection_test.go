package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annothub/internal/presence"
)

type fakeTransport struct {
	mu     sync.Mutex
	in     chan []byte
	done   chan struct{}
	once   sync.Once
	writes []presence.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return 1, b, nil
	case <-f.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeTransport) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env presence.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) sent() []presence.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]presence.Envelope(nil), f.writes...)
}

// dialScript returns a dialer that fails `failures` times before
// handing out fake transports, and counts every dial.
type dialScript struct {
	mu       sync.Mutex
	failures int
	dials    int
	current  *fakeTransport
}

func (d *dialScript) dial(string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	d.current = newFakeTransport()
	return d.current, nil
}

func (d *dialScript) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestConnection(d *dialScript) *Connection {
	registry := NewRegistry()
	router := NewRouter("u1", registry, Callbacks{})
	return NewConnection(Options{
		URL:         "ws://test/ws",
		DocumentID:  "doc1",
		UserID:      "u1",
		Router:      router,
		Dial:        d.dial,
		BackoffBase: time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
	})
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, backoffDelay(attempt, base, max), "attempt %d", attempt)
	}

	// capped thereafter
	assert.Equal(t, max, backoffDelay(5, base, max))
	assert.Equal(t, max, backoffDelay(9, base, max))
}

func TestConnectSendsJoinDocument(t *testing.T) {
	script := &dialScript{}
	conn := newTestConnection(script)
	defer conn.Disconnect()

	conn.Connect()
	require.Equal(t, StateConnected, conn.State())

	sent := script.current.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, presence.TypeJoinDocument, sent[0].Type)

	var join presence.JoinDocumentData
	require.NoError(t, json.Unmarshal(sent[0].Data, &join))
	assert.Equal(t, "doc1", join.DocumentID)
	assert.Equal(t, "u1", join.UserID)
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	script := &dialScript{}
	conn := newTestConnection(script)
	defer conn.Disconnect()

	conn.Connect()
	conn.Connect()
	conn.Connect()

	assert.Equal(t, 1, script.dialCount())
}

func TestReconnectWithBackoffThenRecovers(t *testing.T) {
	script := &dialScript{failures: 2}
	conn := newTestConnection(script)
	defer conn.Disconnect()

	conn.Connect()

	require.Eventually(t, func() bool {
		return conn.State() == StateConnected
	}, time.Second, time.Millisecond)

	assert.Equal(t, 3, script.dialCount())
	assert.Empty(t, conn.ConnectionError())
}

func TestReconnectCapExhausted(t *testing.T) {
	script := &dialScript{failures: 1 << 30}
	conn := newTestConnection(script)

	conn.Connect()

	require.Eventually(t, func() bool {
		return conn.ConnectionError() != ""
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateDisconnected, conn.State())
	assert.Contains(t, conn.ConnectionError(), "5 attempts")
	// initial dial plus five retries
	assert.Equal(t, 6, script.dialCount())

	// explicit Reconnect re-arms the budget
	script.mu.Lock()
	script.failures = script.dials // next dial succeeds
	script.mu.Unlock()

	conn.Reconnect()
	require.Eventually(t, func() bool {
		return conn.State() == StateConnected
	}, time.Second, time.Millisecond)
	assert.Empty(t, conn.ConnectionError())
	conn.Disconnect()
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	script := &dialScript{failures: 1 << 30}
	conn := NewConnection(Options{
		URL:         "ws://test/ws",
		DocumentID:  "doc1",
		UserID:      "u1",
		Router:      NewRouter("u1", NewRegistry(), Callbacks{}),
		Dial:        script.dial,
		BackoffBase: 50 * time.Millisecond,
		BackoffMax:  time.Second,
	})

	conn.Connect()
	require.Equal(t, 1, script.dialCount())
	require.Equal(t, StateBackoff, conn.State())

	conn.Disconnect()
	require.Equal(t, StateDisconnected, conn.State())

	// the scheduled timer must never fire
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, script.dialCount())
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestDisconnectAfterDropStopsRetrying(t *testing.T) {
	script := &dialScript{}
	conn := newTestConnection(script)

	conn.Connect()
	require.Equal(t, StateConnected, conn.State())
	tr := script.current

	conn.Disconnect()
	// the read loop observes the closed transport after disconnect
	_ = tr.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, script.dialCount())
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestDropTriggersReconnectAndResync(t *testing.T) {
	script := &dialScript{}
	conn := newTestConnection(script)
	defer conn.Disconnect()

	conn.Connect()
	require.Equal(t, StateConnected, conn.State())
	first := script.current

	// server drops the connection
	_ = first.Close()

	require.Eventually(t, func() bool {
		return conn.State() == StateConnected && script.dialCount() == 2
	}, time.Second, time.Millisecond)

	// the fresh transport sent a fresh join
	sent := script.current.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, presence.TypeJoinDocument, sent[0].Type)
}

func TestSendRequiresConnection(t *testing.T) {
	conn := newTestConnection(&dialScript{failures: 1 << 30})
	err := conn.SendCursor(1, 0.5, 0.5)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendAttachesLocalUser(t *testing.T) {
	script := &dialScript{}
	conn := newTestConnection(script)
	defer conn.Disconnect()

	conn.Connect()
	require.NoError(t, conn.SendTyping(true, "p3"))

	sent := script.current.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, presence.TypeUserTyping, sent[1].Type)
	assert.Equal(t, "u1", sent[1].UserID)
}
