// Package spacetest provides an in-memory channel and a recording UI sink
// for driving the access engine in tests without a socket.
package spacetest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"pixelcove.gg/internal/protocol"
	"pixelcove.gg/internal/space"
)

// Sent is one recorded outbound message.
type Sent struct {
	Type string
	Raw  []byte
}

// Channel is a scriptable space.Channel: outbound messages are recorded,
// inbound ones are delivered straight into registered handlers on the
// caller's goroutine. Handlers are never invoked while the channel's own
// lock is held.
type Channel struct {
	mu       sync.Mutex
	identity space.Identity
	handlers map[string]map[int]func([]byte)
	watchers map[int]func(space.Identity)
	nextID   int
	sent     []Sent
	sendErr  error
}

func NewChannel() *Channel {
	return &Channel{
		handlers: map[string]map[int]func([]byte){},
		watchers: map[int]func(space.Identity){},
	}
}

func (c *Channel) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{Type: base.Type, Raw: b})
	return nil
}

func (c *Channel) Identity() space.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Channel) Handle(msgType string, fn func(raw []byte)) (cancel func()) {
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

func (c *Channel) OnIdentityChange(fn func(space.Identity)) (cancel func()) {
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

// SetSendErr makes subsequent Sends fail, as a disconnected channel would.
func (c *Channel) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SetIdentity changes the local identity and notifies watchers.
func (c *Channel) SetIdentity(id space.Identity) {
	c.mu.Lock()
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

// Deliver marshals v and dispatches it to the handlers registered for its
// type, like an inbound frame. Messages with no registered handler are
// dropped.
func (c *Channel) Deliver(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.DeliverRaw(b)
	return nil
}

// DeliverRaw dispatches a raw frame; malformed frames are dropped silently,
// mirroring the production transport.
func (c *Channel) DeliverRaw(raw []byte) {
	base, err := protocol.DecodeBase(raw)
	if err != nil || base.Type == "" {
		return
	}
	c.mu.Lock()
	fns := make([]func([]byte), 0, len(c.handlers[base.Type]))
	for _, fn := range c.handlers[base.Type] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

// SentTypes returns the types of all recorded outbound messages in order.
func (c *Channel) SentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, s := range c.sent {
		out[i] = s.Type
	}
	return out
}

// CountSent reports how many outbound messages of type t were recorded.
func (c *Channel) CountSent(t string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sent {
		if s.Type == t {
			n++
		}
	}
	return n
}

// LastSent decodes the most recent outbound message of type t into out and
// reports whether one existed.
func (c *Channel) LastSent(t string, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == t {
			if out != nil {
				if err := json.Unmarshal(c.sent[i].Raw, out); err != nil {
					return false
				}
			}
			return true
		}
	}
	return false
}

// LockedCall is one ShowLocked invocation.
type LockedCall struct {
	SpaceID string
	Reason  string
}

// SettingsCall is one SettingsSaved invocation.
type SettingsCall struct {
	SpaceID string
	OK      bool
	Reason  string
}

// RentCall is one RentPaid invocation.
type RentCall struct {
	SpaceID    string
	OK         bool
	NewDueDate time.Time
	Reason     string
}

// Sink records every UI transition the coordinator emits.
type Sink struct {
	mu           sync.Mutex
	requirements []space.Requirements
	locked       []LockedCall
	settings     []SettingsCall
	rents        []RentCall
	toasts       []string
}

func (s *Sink) ShowRequirements(v space.Requirements) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requirements = append(s.requirements, v)
}

func (s *Sink) ShowLocked(spaceID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, LockedCall{SpaceID: spaceID, Reason: reason})
}

func (s *Sink) SettingsSaved(spaceID string, ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append(s.settings, SettingsCall{SpaceID: spaceID, OK: ok, Reason: reason})
}

func (s *Sink) RentPaid(spaceID string, ok bool, newDueDate time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rents = append(s.rents, RentCall{SpaceID: spaceID, OK: ok, NewDueDate: newDueDate, Reason: reason})
}

func (s *Sink) Toast(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, text)
}

func (s *Sink) RequirementsCalls() []space.Requirements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]space.Requirements(nil), s.requirements...)
}

func (s *Sink) LockedCalls() []LockedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LockedCall(nil), s.locked...)
}

func (s *Sink) SettingsCalls() []SettingsCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SettingsCall(nil), s.settings...)
}

func (s *Sink) RentCalls() []RentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RentCall(nil), s.rents...)
}

func (s *Sink) Toasts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.toasts...)
}

// Harness wires a Coordinator to a scripted channel and a recording sink,
// attached and cleaned up with the test.
type Harness struct {
	T    *testing.T
	Ch   *Channel
	Sink *Sink
	Co   *space.Coordinator
}

func New(t *testing.T, opts space.Options) *Harness {
	t.Helper()
	h := &Harness{T: t, Ch: NewChannel(), Sink: &Sink{}}
	h.Co = space.New(h.Ch, h.Sink, opts)
	h.Co.Attach()
	t.Cleanup(h.Co.Detach)
	return h
}

// Deliver pushes an inbound message through the channel.
func (h *Harness) Deliver(v any) {
	h.T.Helper()
	if err := h.Ch.Deliver(v); err != nil {
		h.T.Fatalf("deliver: %v", err)
	}
}

// WaitFor polls cond until it holds or the wait times out.
func (h *Harness) WaitFor(cond func() bool, what string) {
	h.T.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.T.Fatalf("timed out waiting for %s", what)
}

// Bool returns a pointer to b, for tri-state verdict fields.
func Bool(b bool) *bool { return &b }
