package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"molva/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed      = errors.New("channel is closed")
	ErrAlreadyOpen = errors.New("channel is already open")
)

// Handler receives the raw payload of one server event.
type Handler func(payload json.RawMessage)

// Envelope is the wire frame for every channel event in both directions.
// AckID correlates a client publish with the server's acknowledgement.
type Envelope struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client owns a single persistent connection to the real-time transport.
// It is constructed explicitly and injected; there is no package-level
// connection. Events are delivered to subscribers in receipt order on one
// dispatch goroutine, so handlers never run concurrently.
type Client struct {
	url      string
	attempts int
	delay    time.Duration

	mu         sync.Mutex // guards conn, credential, closed
	conn       *websocket.Conn
	credential string
	closed     bool

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	acksMu sync.Mutex
	acks   map[string]Handler

	events chan Envelope
	cancel context.CancelFunc
	done   chan struct{}

	authed atomic.Bool
}

type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		url:      cfg.URL,
		attempts: cfg.ReconnectAttempts,
		delay:    cfg.ReconnectDelay,
		handlers: make(map[string]Handler),
		acks:     make(map[string]Handler),
	}
}

// Open dials the transport, starts the pump loops and performs the
// authentication handshake. Until an auth_success event arrives the
// connection must be treated as unauthenticated; Authenticated reports
// the handshake state.
func (c *Client) Open(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to dial channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.credential = credential
	c.closed = false
	c.cancel = cancel
	c.events = make(chan Envelope, 64)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	go c.dispatchLoop()

	return c.Publish(models.EventAuthenticate, models.AuthenticatePayload{Credential: credential}, nil)
}

// Close tears the connection down and removes every subscription, so a
// later Open starts from a clean registration state. Pending ack callbacks
// are dropped, never invoked.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	err := conn.Close()
	<-done

	c.handlersMu.Lock()
	c.handlers = make(map[string]Handler)
	c.handlersMu.Unlock()

	c.dropAcks()
	c.authed.Store(false)
	return err
}

// Authenticated reports whether the server confirmed the handshake on the
// current connection.
func (c *Client) Authenticated() bool {
	return c.authed.Load()
}

// Subscribe registers the handler for a named server event, replacing any
// previous registration for that name.
func (c *Client) Subscribe(event string, handler Handler) {
	c.handlersMu.Lock()
	c.handlers[event] = handler
	c.handlersMu.Unlock()
}

func (c *Client) Unsubscribe(event string) {
	c.handlersMu.Lock()
	delete(c.handlers, event)
	c.handlersMu.Unlock()
}

// Publish sends a client-originated event. When ack is non-nil it is
// invoked at most once, with the server's acknowledgement payload, on the
// dispatch goroutine.
func (c *Client) Publish(event string, payload any, ack Handler) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	env := Envelope{Event: event, Payload: data}
	if ack != nil {
		env.AckID = uuid.NewString()
		c.acksMu.Lock()
		c.acks[env.AckID] = ack
		c.acksMu.Unlock()
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.forgetAck(env.AckID)
		return ErrClosed
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.forgetAck(env.AckID)
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

// run reads from the current connection until it fails, then attempts a
// bounded reconnect. It owns the events channel.
func (c *Client) run(ctx context.Context) {
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		err := c.readPump(ctx, conn)
		if ctx.Err() != nil || c.isClosed() {
			return
		}

		slog.Warn("channel connection lost", "error", err)
		c.authed.Store(false)
		c.dropAcks()

		if !c.reconnect(ctx) {
			c.deliverLocal(models.EventConnError, models.ErrorPayload{
				Message: fmt.Sprintf("connection lost after %d reconnect attempts", c.attempts),
			})
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		select {
		case c.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return false
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			slog.Warn("channel reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return false
		}
		c.conn = conn
		credential := c.credential
		c.mu.Unlock()

		// Handlers stay registered across reconnects; only the handshake
		// needs to be replayed.
		if err := c.Publish(models.EventAuthenticate, models.AuthenticatePayload{Credential: credential}, nil); err != nil {
			slog.Warn("channel re-authentication failed", "attempt", attempt, "error", err)
			continue
		}

		slog.Info("channel reconnected", "attempt", attempt)
		return true
	}
	return false
}

func (c *Client) dispatchLoop() {
	for env := range c.events {
		c.dispatch(env)
	}
	close(c.done)
}

func (c *Client) dispatch(env Envelope) {
	if env.AckID != "" {
		c.acksMu.Lock()
		ack, ok := c.acks[env.AckID]
		delete(c.acks, env.AckID)
		c.acksMu.Unlock()
		if ok {
			ack(env.Payload)
			return
		}
		// Unknown ack id: fall through and treat as a plain event.
	}

	switch env.Event {
	case models.EventAuthSuccess:
		c.authed.Store(true)
	case models.EventAuthError:
		c.authed.Store(false)
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[env.Event]
	c.handlersMu.RUnlock()
	if ok {
		handler(env.Payload)
	}
}

// deliverLocal injects a locally synthesized error event into the ordered
// stream. Only called from run, before the events channel closes.
func (c *Client) deliverLocal(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.events <- Envelope{Event: event, Payload: data}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) forgetAck(id string) {
	if id == "" {
		return
	}
	c.acksMu.Lock()
	delete(c.acks, id)
	c.acksMu.Unlock()
}

func (c *Client) dropAcks() {
	c.acksMu.Lock()
	c.acks = make(map[string]Handler)
	c.acksMu.Unlock()
}
