// Package endpoint is the client half of the channel: one websocket with
// automatic reconnect, keyed event handlers, and a connection-status
// observable. Room membership does not survive a reconnect; callers rejoin
// from the OnConnect hook.
package endpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"tablewire/pkg/event"
)

var ErrNotConnected = errors.New("not connected")

// Status is what the UI observes instead of an exception: a boolean plus a
// human-readable detail string.
type Status struct {
	Connected bool
	Detail    string
}

type Handler func(payload any)

type Client struct {
	url     string
	backoff time.Duration
	log     *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	running   bool
	cancel    context.CancelFunc
	handlers  map[event.Name]map[string]Handler
	onConnect []func()
	onStatus  []func(Status)
}

func New(url string, log *zap.Logger) *Client {
	return &Client{
		url:      url,
		backoff:  2 * time.Second,
		log:      log,
		handlers: make(map[event.Name]map[string]Handler),
	}
}

// On registers a handler under a caller-chosen key. Registering the same key
// twice replaces the handler; it never double-fires.
func (c *Client) On(name event.Name, key string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.handlers[name]
	if set == nil {
		set = make(map[string]Handler)
		c.handlers[name] = set
	}
	set[key] = h
}

func (c *Client) Off(name event.Name, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set := c.handlers[name]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(c.handlers, name)
		}
	}
}

// OnConnect registers a hook run on every successful connect, including
// reconnects. Room joins belong here.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnStatusChange registers an observer for connection-status transitions.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

// Connect starts the connect/read/reconnect loop. Idempotent: a second call
// while running is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
}

// Disconnect tears the session down. The server releases every room
// membership on its side when the socket closes.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.running = false
	c.cancel = nil
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	c.setStatus(false, "disconnected")
}

// Connected reports the current link state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends one typed event. Returns ErrNotConnected while the link is
// down; the reconnect loop does not queue outbound frames.
func (c *Client) Emit(name event.Name, payload any) error {
	frame, err := event.Encode(name, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (c *Client) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.setStatus(false, "connection failed, retrying")
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		hooks := append([]func(){}, c.onConnect...)
		c.mu.Unlock()
		c.setStatus(true, "connected")
		for _, fn := range hooks {
			fn()
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		stillRunning := c.running
		c.connected = false
		c.mu.Unlock()
		if !stillRunning || ctx.Err() != nil {
			return
		}
		c.setStatus(false, "connection lost, reconnecting")
		if !sleep(ctx, c.backoff) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := event.Decode(data)
		if err != nil {
			// A handler is never invoked with a payload whose shape does
			// not match its event.
			c.log.Warn("dropped frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg event.Message) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[msg.Event]))
	for _, h := range c.handlers[msg.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(msg.Payload)
	}
}

func (c *Client) setStatus(connected bool, detail string) {
	c.mu.Lock()
	observers := append([]func(Status){}, c.onStatus...)
	c.mu.Unlock()
	st := Status{Connected: connected, Detail: detail}
	for _, fn := range observers {
		fn(st)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
