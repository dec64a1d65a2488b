// Package transport is the client side of the session WebSocket: connection
// lifecycle, reconnection with backoff, heartbeat, and outbox resend (spec
// §4.4). It knows nothing about session semantics — inbound envelopes are
// handed to a caller-supplied callback, normally internal/clientsync.Reducer.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adewale/keyboardia/internal/protocol"
)

// State is the connection's lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
	// StateDisconnected is terminal: Run gave up after maxReconnectAttempts
	// consecutive failures without ever reaching StateOpen, and will not
	// retry again (spec §7's "permanent disconnection" must surface to the
	// user rather than retry forever).
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const (
	dialTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Second
	heartbeatInterval = 30 * time.Second
	pongTimeout       = 10 * time.Second

	// maxReconnectAttempts bounds consecutive connection failures before
	// Run gives up; with the backoff's 1s-doubling-to-30s schedule this is
	// roughly a minute of retrying (spec §7).
	maxReconnectAttempts = 5
)

// Transport owns one reconnecting WebSocket session. Safe for concurrent use
// from any goroutine.
type Transport struct {
	url       string
	sessionID string
	clientID  string

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	outbox       []protocol.Envelope
	backoff      *reconnectBackoff
	dialFailures int // consecutive connectOnce calls that never reached StateOpen

	cbMu          sync.RWMutex
	onEnvelope    func(protocol.Envelope)
	onStateChange func(State)
}

// New returns a Transport ready to Run against the given session WebSocket
// URL (e.g. "ws://host:port/session/abc123").
func New(url, sessionID, clientID string) *Transport {
	return &Transport{
		url:       url,
		sessionID: sessionID,
		clientID:  clientID,
		backoff:   newReconnectBackoff(),
	}
}

// SetOnEnvelope registers the callback invoked for every inbound envelope.
func (t *Transport) SetOnEnvelope(fn func(protocol.Envelope)) {
	t.cbMu.Lock()
	t.onEnvelope = fn
	t.cbMu.Unlock()
}

// SetOnStateChange registers the callback invoked whenever the connection
// lifecycle state changes.
func (t *Transport) SetOnStateChange(fn func(State)) {
	t.cbMu.Lock()
	t.onStateChange = fn
	t.cbMu.Unlock()
}

// State reports the current connection lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run connects, and on any unexpected close reconnects with exponential
// backoff (1s doubling to 30s, ±25% jitter) until ctx is cancelled. After
// maxReconnectAttempts consecutive failures it gives up, transitions to
// StateDisconnected, and returns — the caller's onStateChange callback is
// the place to surface a permanent-disconnection message to the user.
func (t *Transport) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			t.setState(StateClosed)
			return
		}

		if err := t.connectOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("transport connect failed", "error", err)
		}
		if ctx.Err() != nil {
			t.setState(StateClosed)
			return
		}

		t.mu.Lock()
		failures := t.dialFailures
		t.mu.Unlock()
		if failures >= maxReconnectAttempts {
			slog.Error("giving up after repeated reconnect failures", "attempts", failures)
			t.setState(StateDisconnected)
			return
		}

		delay := t.backoff.next()
		select {
		case <-ctx.Done():
			t.setState(StateClosed)
			return
		case <-time.After(delay):
		}
	}
}

// Send enqueues env for delivery. mutate envelopes are held in the outbox
// until their ack arrives so a reconnect can resend them in order (spec
// §4.4's "Outbox"); other envelope types are sent best-effort only while
// OPEN.
func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	if env.Type == protocol.TypeMutate {
		t.outbox = append(t.outbox, env)
	}
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()

	if !open || conn == nil {
		return nil // a mutate stays queued for the (re)connect flush; anything else is dropped
	}
	return t.writeEnv(conn, env)
}

func (t *Transport) connectOnce(ctx context.Context) error {
	t.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		t.mu.Lock()
		t.dialFailures++
		t.mu.Unlock()
		return fmt.Errorf("dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.dialFailures = 0
	t.mu.Unlock()
	t.setState(StateOpen)
	t.backoff.reset()
	defer func() {
		conn.Close()
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}()

	if err := t.writeEnv(conn, protocol.Envelope{
		Type: protocol.TypeHello, SessionID: t.sessionID, ClientID: t.clientID,
	}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	t.flushOutbox(conn)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	pongDeadline := make(chan struct{})
	conn.SetPongHandler(func(string) error {
		select {
		case pongDeadline <- struct{}{}:
		default:
		}
		return nil
	})

	go t.heartbeatLoop(connCtx, conn, pongDeadline)

	err = t.readLoop(conn)
	t.setState(StateClosing)
	return err
}

// flushOutbox resends every queued mutate envelope in submission order, as
// required on reconnect (spec §4.4).
func (t *Transport) flushOutbox(conn *websocket.Conn) {
	t.mu.Lock()
	pending := append([]protocol.Envelope(nil), t.outbox...)
	t.mu.Unlock()

	for _, env := range pending {
		if err := t.writeEnv(conn, env); err != nil {
			slog.Warn("outbox flush failed", "clientOpId", env.ClientOpID, "error", err)
			return
		}
	}
}

// OnAck retires an outbox entry once its mutation has been confirmed.
// Callers wire this to the clientsync.Reducer's own ack handling so the
// outbox and the reducer's pending list stay in lockstep.
func (t *Transport) OnAck(clientOpID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, env := range t.outbox {
		if env.ClientOpID == clientOpID {
			t.outbox = append(t.outbox[:i], t.outbox[i+1:]...)
			return
		}
	}
}

// OnNack retires an outbox entry that the coordinator rejected — it will
// never be acked, so there is nothing left to resend.
func (t *Transport) OnNack(clientOpID string) { t.OnAck(clientOpID) }

func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn, pong <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts := uint64(time.Now().UnixMilli())
			if err := t.writeEnv(conn, protocol.Envelope{Type: protocol.TypePing, ClientTimeMs: ts}); err != nil {
				return
			}
			select {
			case <-pong:
			case <-time.After(pongTimeout):
				slog.Warn("heartbeat timeout, forcing reconnect")
				conn.Close()
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if env.Type == protocol.TypeAck {
			t.OnAck(env.ClientOpID)
		}
		t.cbMu.RLock()
		cb := t.onEnvelope
		t.cbMu.RUnlock()
		if cb != nil {
			cb(env)
		}
	}
}

func (t *Transport) writeEnv(conn *websocket.Conn, env protocol.Envelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(env)
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.cbMu.RLock()
	cb := t.onStateChange
	t.cbMu.RUnlock()
	if cb != nil {
		cb(s)
	}
}

// reconnectBackoff implements exponential backoff with jitter for
// reconnection attempts: 1s doubling to 30s max, ±25% jitter (spec §4.4).
type reconnectBackoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newReconnectBackoff() *reconnectBackoff {
	return &reconnectBackoff{baseDelay: time.Second, maxDelay: 30 * time.Second}
}

func (b *reconnectBackoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *reconnectBackoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	jitter := float64(d) * 0.25 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *reconnectBackoff) reset() { b.attempt = 0 }
