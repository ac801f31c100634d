package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by outbound sends attempted while the socket
// is down. The command is dropped, not queued; callers re-invoke after
// observing TopicConnected.
var ErrNotConnected = errors.New("chatsync: not connected")

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Outbound wire event names.
const (
	cmdJoinConversation  = "join_conversation"
	cmdLeaveConversation = "leave_conversation"
	cmdTyping            = "typing"
	cmdMarkRead          = "mark_read"
)

// ConnConfig configures the realtime connection.
type ConnConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *ConnConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ConnConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Connection
// ============================================================================

// ConnInfo is a point-in-time snapshot for inspection and diagnostics.
type ConnInfo struct {
	State            ConnState
	HasCredential    bool
	ReconnectAttempt int
}

// Connection owns the single persistent socket for a signed-in identity.
// Transport lifecycle and inbound server events are published to the
// EventBus; no other component touches the socket directly.
type Connection struct {
	baseURL string
	config  ConnConfig
	bus     *EventBus
	logf    func(string, ...any)

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	credential       string
	intentionalClose bool
	cancelFn         context.CancelFunc
	recon            *reconnector
}

// NewConnection creates a disconnected Connection that publishes to bus.
// config may be nil for defaults.
func NewConnection(baseURL string, bus *EventBus, config *ConnConfig, logf func(string, ...any)) *Connection {
	cfg := ConnConfig{AutoReconnect: true}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Connection{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
		bus:     bus,
		logf:    logf,
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Inspect returns a snapshot of the connection internals.
func (c *Connection) Inspect() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnInfo{
		State:            c.state,
		HasCredential:    c.credential != "",
		ReconnectAttempt: c.recon.attempt,
	}
}

// Connect opens the transport with credential attached for server-side
// authentication. An existing connection is torn down first so an identity
// never holds two sockets. Non-blocking: completion is observed via the
// TopicConnected event, failure via TopicError.
func (c *Connection) Connect(credential string) {
	c.mu.Lock()
	if c.conn != nil || c.cancelFn != nil {
		c.teardownLocked()
	}
	c.credential = credential
	c.state = StateConnecting
	c.intentionalClose = false
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFn = cancel
	c.mu.Unlock()

	go c.dial(ctx)
}

// Disconnect closes the transport if present and clears the handle.
// Idempotent: calling while already disconnected is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected && c.conn == nil && c.cancelFn == nil {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()

	c.bus.Emit(TopicDisconnected, nil)
}

// teardownLocked cancels loops and closes the socket. Caller holds c.mu.
func (c *Connection) teardownLocked() {
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.conn = nil
	}
	c.state = StateDisconnected
}

func (c *Connection) wsURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + c.credential
}

func (c *Connection) dial(ctx context.Context) {
	conn, resp, err := websocket.Dial(ctx, c.wsURL(), nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		if authRejected(resp) {
			// Credential rejected: surface and stop. Callers re-invoke
			// Connect with a refreshed credential.
			c.bus.Emit(TopicError, ErrorPayload{Message: fmt.Sprintf("authentication failed: %v", err)})
			return
		}
		c.bus.Emit(TopicError, ErrorPayload{Message: err.Error()})
		c.maybeReconnect(ctx)
		return
	}

	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	c.recon.markConnected()

	// Listeners are attached identically on every (re)open: topic names and
	// payload shapes are the same across reconnects, so subscribers never
	// re-register.
	c.bus.Emit(TopicConnected, nil)

	go c.readLoop(ctx, conn)
	go c.heartbeatLoop(ctx, conn)
}

func authRejected(resp *http.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if c.conn == conn {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if intentional {
				return
			}

			c.bus.Emit(TopicDisconnected, nil)
			c.maybeReconnect(ctx)
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.dispatch(env)
	}
}

// dispatch decodes an inbound envelope into its typed payload and publishes
// it on the matching topic. Unknown event types are dropped.
func (c *Connection) dispatch(env Envelope) {
	switch env.Type {
	case "new_message":
		var m Message
		if json.Unmarshal(env.Payload, &m) == nil {
			c.bus.Emit(TopicNewMessage, m)
		}
	case "messages_read":
		var p MessagesReadPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.bus.Emit(TopicMessagesRead, p)
		}
	case "user_typing":
		var p UserTypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.bus.Emit(TopicUserTyping, p)
		}
	case "user_status":
		var p UserStatusPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.bus.Emit(TopicUserStatus, p)
		}
	case "new_conversation":
		var p NewConversationPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.bus.Emit(TopicNewConversation, p)
		}
	case "error":
		var p ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			c.bus.Emit(TopicError, p)
		}
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Force close; readLoop observes the error and handles
				// the disconnect path.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Connection) maybeReconnect(ctx context.Context) {
	if !c.config.AutoReconnect || !c.recon.shouldReconnect() {
		return
	}
	delay := c.recon.nextDelay()
	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.logf("chatsync: reconnecting in %s (attempt %d)", delay, c.recon.attempt)

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	c.dial(ctx)
}

// ============================================================================
// Outbound commands
// ============================================================================

// Send writes one envelope to the socket. Returns ErrNotConnected while the
// transport is down.
func (c *Connection) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Connection) sendCommand(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Send(ctx, Envelope{Type: eventType, Payload: raw})
}

// JoinConversation requests membership in the conversation's room. The wire
// contract takes the bare conversation id, never a structured object.
func (c *Connection) JoinConversation(ctx context.Context, conversationID string) error {
	return c.sendCommand(ctx, cmdJoinConversation, conversationID)
}

// LeaveConversation requests removal from the conversation's room.
func (c *Connection) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.sendCommand(ctx, cmdLeaveConversation, conversationID)
}

// SetTyping broadcasts a typing indicator for the conversation.
func (c *Connection) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return c.sendCommand(ctx, cmdTyping, TypingCommand{ConversationID: conversationID, IsTyping: isTyping})
}

// MarkRead notifies the server that messageIDs have been read.
func (c *Connection) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return c.sendCommand(ctx, cmdMarkRead, MarkReadCommand{ConversationID: conversationID, MessageIDs: messageIDs})
}
