// Package ws implements the space.Channel over a gorilla websocket with a
// session handshake, reconnect backoff, and a typed handler table.
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pixelcove.gg/internal/protocol"
	"pixelcove.gg/internal/space"
)

type Config struct {
	URL        string
	ClientName string
	Wallet     string
	AuthToken  string
}

// Status is a point-in-time snapshot for admin/metrics endpoints.
type Status struct {
	Connected     bool
	SessionID     string
	Wallet        string
	Username      string
	Authenticated bool
	LastError     string
	Connects      int64
	SentFrames    int64
	DroppedFrames int64
}

// Client dials cfg.URL in a background goroutine, performs the
// session_hello/session_welcome handshake, and redelivers inbound frames to
// handlers registered by type. Reconnects start at 200ms and back off to a
// 5s cap. Malformed frames and unregistered types are dropped, never fatal.
type Client struct {
	cfg Config
	log *log.Logger

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	sessionID string
	identity  space.Identity
	lastErr   string
	connects  int64
	sent      int64
	dropped   int64

	handlers map[string]map[int]func([]byte)
	watchers map[int]func(space.Identity)
	nextID   int

	writeMu sync.Mutex
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.ClientName == "" {
		cfg.ClientName = "agent"
	}
	return &Client{
		cfg:      cfg,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		handlers: map[string]map[int]func([]byte){},
		watchers: map[int]func(space.Identity){},
	}
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.run()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// Ensure any blocking ReadMessage wakes up promptly.
		c.disconnect()
		c.mu.RLock()
		started := c.started
		c.mu.RUnlock()
		if started {
			<-c.done
		}
	})
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send marshals v and writes one frame. Sending while disconnected is an
// error; the caller decides whether to retry after reconnection.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func (c *Client) Identity() space.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Handle registers fn for one inbound message type. Multiple handlers per
// type are allowed; each is invoked with the raw frame.
func (c *Client) Handle(msgType string, fn func(raw []byte)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.handlers[msgType] == nil {
		c.handlers[msgType] = map[int]func([]byte){}
	}
	c.handlers[msgType][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[msgType], id)
	}
}

func (c *Client) OnIdentityChange(fn func(space.Identity)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Connected:     c.connected,
		SessionID:     c.sessionID,
		Wallet:        c.identity.Wallet,
		Username:      c.identity.Username,
		Authenticated: c.identity.Authenticated,
		LastError:     c.lastErr,
		Connects:      c.connects,
		SentFrames:    c.sent,
		DroppedFrames: c.dropped,
	}
}

func (c *Client) run() {
	defer close(c.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-c.stop:
			c.disconnect()
			return
		default:
		}

		if err := c.connectAndReadLoop(); err != nil {
			c.mu.Lock()
			c.connected = false
			c.conn = nil
			c.lastErr = err.Error()
			c.mu.Unlock()
			// The session's authentication does not survive the socket.
			c.setIdentity(space.Identity{}, false)
			c.logf("channel: %v (retry in %s)", err, backoff)
			select {
			case <-c.stop:
				c.disconnect()
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			continue
		}
		// Clean exit.
		return
	}
}

func (c *Client) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeSessionHello,
		ProtocolVersion: protocol.Version,
		ClientName:      c.cfg.ClientName,
		Wallet:          c.cfg.Wallet,
		AuthToken:       c.cfg.AuthToken,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.lastErr = ""
	c.mu.Unlock()

	for {
		select {
		case <-c.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type == "" {
			c.countDrop()
			continue
		}
		switch base.Type {
		case protocol.TypeSessionWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				c.countDrop()
				continue
			}
			if !protocol.IsSupportedVersion(w.ProtocolVersion) {
				c.countDrop()
				continue
			}
			c.mu.Lock()
			c.sessionID = w.SessionID
			c.connected = true
			c.connects++
			c.mu.Unlock()
			// Connecting is itself a transition; watchers fire even when the
			// welcome carries the same identity as before.
			c.setIdentity(space.Identity{
				Wallet:        w.Wallet,
				Username:      w.Username,
				Authenticated: w.Authenticated,
			}, true)

		case protocol.TypeAuthStatus:
			var a protocol.AuthStatusMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				c.countDrop()
				continue
			}
			c.setIdentity(space.Identity{
				Wallet:        a.Wallet,
				Username:      a.Username,
				Authenticated: a.Authenticated,
			}, false)

		default:
			c.dispatch(base.Type, msg)
		}
	}
}

// dispatch fans one frame out to the handlers registered for its type.
// Unregistered types are dropped (fail closed).
func (c *Client) dispatch(msgType string, raw []byte) {
	c.mu.RLock()
	set := c.handlers[msgType]
	fns := make([]func([]byte), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	if len(fns) == 0 {
		c.countDrop()
		return
	}
	for _, fn := range fns {
		fn(raw)
	}
}

// setIdentity stores id and notifies watchers when it differs from the
// previous identity, or unconditionally when force is set. Watchers run
// outside the client's lock.
func (c *Client) setIdentity(id space.Identity, force bool) {
	c.mu.Lock()
	if !force && c.identity == id {
		c.mu.Unlock()
		return
	}
	c.identity = id
	fns := make([]func(space.Identity), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (c *Client) countDrop() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

func (c *Client) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
