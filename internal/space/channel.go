package space

// Identity is the local wallet identity as reported by the channel.
type Identity struct {
	Wallet        string
	Username      string
	Authenticated bool
}

// Authed reports whether the identity can act as an authenticated user.
// An unset wallet counts as unauthenticated regardless of the flag.
func (id Identity) Authed() bool {
	return id.Authenticated && id.Wallet != ""
}

// Channel is the duplex message channel the coordinator runs over. The
// transport owns connect/auth lifecycle and message framing; the coordinator
// only sends JSON-shaped messages and subscribes to inbound types by tag.
//
// Handle registers fn for one message type and returns a cancel func;
// multiple handlers per type are allowed. Implementations must not invoke
// handlers while holding internal locks, and must drop unknown or malformed
// frames rather than surfacing them.
type Channel interface {
	Send(v any) error
	Identity() Identity
	Handle(msgType string, fn func(raw []byte)) (cancel func())
	OnIdentityChange(fn func(id Identity)) (cancel func())
}
