package chatsync

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// frame is the envelope for events in both directions on the duplex channel.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of a named push event.
type Handler func(data json.RawMessage)

// EventChannel is the channel surface the engine consumes: room-scoped
// subscription plus fire-and-forget emission. *Channel implements it.
type EventChannel interface {
	JoinRoom(conversationID string) error
	LeaveRoom(conversationID string) error
	On(event string, h Handler) (off func())
	Emit(event string, payload any) error
	IsConnected() bool
}

// ============================================================================
// Configuration
// ============================================================================

// ChannelConfig configures the realtime channel.
type ChannelConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *ChannelConfig) defaults() {
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

// ChannelState represents the connection state.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateConnected    ChannelState = "connected"
	StateReconnecting ChannelState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string]map[int]Handler)}
}

// add registers a handler and returns its unregister func. Registration
// identity is the returned func, not the handler value, so the same handler
// can be registered for several conversations independently.
func (d *dispatcher) add(event string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[int]Handler)
	}
	id := d.nextID
	d.nextID++
	d.handlers[event][id] = h
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[event], id)
	}
}

// dispatch invokes handlers synchronously on the caller's goroutine so that
// frames for one conversation apply in delivery order.
func (d *dispatcher) dispatch(f frame) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.handlers[f.Event]))
	for _, h := range d.handlers[f.Event] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(f.Data)
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

func newReconnector(cfg *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
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
// Channel
// ============================================================================

// Channel wraps one persistent duplex websocket connection shared by every
// active conversation in the process. Its lifecycle (connect once, join and
// leave many rooms) is independent of any single conversation's lifecycle.
// Reconnect backoff is internal; the engine observes only the resulting
// connected/disconnected state.
type Channel struct {
	wsURL string
	token string
	cfg   ChannelConfig
	log   zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ChannelState
	intentionalClose bool
	cancelFn         context.CancelFunc
	rooms            map[string]struct{}

	dispatcher *dispatcher
	recon      *reconnector
}

// NewChannel creates a realtime channel against the given base URL. http(s)
// schemes are rewritten to ws(s). cfg may be nil for defaults.
func NewChannel(baseURL, token string, cfg *ChannelConfig, opts ...ChannelOption) *Channel {
	c := ChannelConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.defaults()

	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws"

	ch := &Channel{
		wsURL:      wsURL,
		token:      token,
		cfg:        c,
		log:        zerolog.Nop(),
		state:      StateDisconnected,
		rooms:      make(map[string]struct{}),
		dispatcher: newDispatcher(),
		recon:      newReconnector(&c),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithChannelLogger attaches a logger for connection lifecycle events.
func WithChannelLogger(log zerolog.Logger) ChannelOption {
	return func(c *Channel) { c.log = log }
}

// State returns the current connection state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is currently usable.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the websocket connection. Calling it while connected
// or connecting is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	u := c.wsURL
	if c.token != "" {
		u += "?token=" + c.token
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return &TransportError{Reason: "dial: " + err.Error()}
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()
	c.recon.markConnected()
	c.log.Debug().Str("url", c.wsURL).Msg("channel connected")

	// Rejoin rooms that were active before a reconnect.
	for _, room := range rooms {
		if err := c.Emit(EventJoinRoom, RoomEvent{ConversationID: room}); err != nil {
			c.log.Warn().Err(err).Str("room", room).Msg("rejoin failed")
		}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelFn = cancel
	c.mu.Unlock()

	go c.readLoop(connCtx)
	go c.heartbeatLoop(connCtx)
	return nil
}

// Disconnect gracefully closes the connection. Joined rooms are forgotten;
// a later Connect starts from a clean subscription slate on the server.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// JoinRoom scopes event delivery to a conversation. Joining a room the
// channel is already in is a no-op, which keeps rapid open/close cycles of a
// conversation view from producing duplicate subscriptions.
func (c *Channel) JoinRoom(conversationID string) error {
	c.mu.Lock()
	if _, ok := c.rooms[conversationID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return c.Emit(EventJoinRoom, RoomEvent{ConversationID: conversationID})
}

// LeaveRoom removes a conversation's event scope.
func (c *Channel) LeaveRoom(conversationID string) error {
	c.mu.Lock()
	if _, ok := c.rooms[conversationID]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.Emit(EventLeaveRoom, RoomEvent{ConversationID: conversationID})
}

// On registers a handler for a named push event and returns its unregister
// func.
func (c *Channel) On(event string, h Handler) func() {
	return c.dispatcher.add(event, h)
}

// Emit sends a fire-and-forget event. While disconnected it returns a
// TransportError; the caller decides whether that matters (typing signals
// are silently dropped, room joins are retried after reconnect).
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state != StateConnected {
		return &TransportError{Reason: "not connected"}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
		return &TransportError{Reason: "write: " + err.Error()}
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.mu.Unlock()
			if intentional {
				return
			}

			c.mu.Lock()
			c.state = StateDisconnected
			c.conn = nil
			c.mu.Unlock()
			c.log.Warn().Err(err).Msg("channel read failed")

			if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
				go c.scheduleReconnect()
			}
			return
		}

		var f frame
		if json.Unmarshal(data, &f) != nil || f.Event == "" {
			continue
		}
		c.dispatcher.dispatch(f)
	}
}

func (c *Channel) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Channel) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.mu.Lock()
	c.state = StateReconnecting
	c.mu.Unlock()
	c.log.Info().Dur("delay", delay).Int("attempt", c.recon.attempt).Msg("channel reconnecting")

	time.Sleep(delay)

	c.mu.Lock()
	if c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
			return
		}
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("channel reconnect gave up")
	}
}
