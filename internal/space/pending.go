package space

// Continuation runs when a requested entry is granted. It is invoked at
// most once and never on denial.
type Continuation func()

// PendingChecks tracks the single outstanding entry-check continuation per
// space id. There are no request ids on the wire: a response for a space is
// always interpreted as the response to whichever continuation is currently
// registered for that space, so registering over an existing key supersedes
// the earlier continuation rather than queueing a second one.
//
// Owned by the Coordinator; not safe for concurrent use on its own.
type PendingChecks struct {
	pending map[string]Continuation
}

func NewPendingChecks() *PendingChecks {
	return &PendingChecks{pending: map[string]Continuation{}}
}

// Register stores cont as the one outstanding continuation for spaceID and
// reports whether it superseded a previous one.
func (p *PendingChecks) Register(spaceID string, cont Continuation) (superseded bool) {
	_, superseded = p.pending[spaceID]
	p.pending[spaceID] = cont
	return superseded
}

// Resolve removes the pending entry for spaceID. The returned continuation
// is non-nil only when an entry existed and the verdict granted entry;
// denials still consume the entry so a late duplicate verdict finds nothing.
func (p *PendingChecks) Resolve(spaceID string, granted bool) Continuation {
	cont, ok := p.pending[spaceID]
	if !ok {
		return nil
	}
	delete(p.pending, spaceID)
	if !granted {
		return nil
	}
	return cont
}

// Has reports whether a check is outstanding for spaceID.
func (p *PendingChecks) Has(spaceID string) bool {
	_, ok := p.pending[spaceID]
	return ok
}

func (p *PendingChecks) Clear(spaceID string) {
	delete(p.pending, spaceID)
}

func (p *PendingChecks) ClearAll() {
	p.pending = map[string]Continuation{}
}

func (p *PendingChecks) Len() int { return len(p.pending) }
