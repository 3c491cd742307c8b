package space

import (
	"sort"

	"pixelcove.gg/internal/protocol"
)

// Directory mirrors the server's space list plus the subset rented by the
// local identity. The full list is replaced wholesale on refresh; broadcast
// updates and settings results patch single entries in place.
//
// Owned by the Coordinator; not safe for concurrent use on its own.
type Directory struct {
	spaces map[string]protocol.Space
	mine   map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		spaces: map[string]protocol.Space{},
		mine:   map[string]struct{}{},
	}
}

// ReplaceAll swaps in the full space list. The "mine" subset is kept; it is
// maintained only by ReplaceMine and ClearMine.
func (d *Directory) ReplaceAll(spaces []protocol.Space) {
	next := make(map[string]protocol.Space, len(spaces))
	for _, s := range spaces {
		if s.ID == "" {
			continue
		}
		next[s.ID] = s
	}
	d.spaces = next
}

// ReplaceMine swaps in the owned/rented subset and upserts those spaces into
// the full list (the rentals response is at least as fresh as the last full
// refresh).
func (d *Directory) ReplaceMine(spaces []protocol.Space) {
	next := make(map[string]struct{}, len(spaces))
	for _, s := range spaces {
		if s.ID == "" {
			continue
		}
		next[s.ID] = struct{}{}
		d.spaces[s.ID] = s
	}
	d.mine = next
}

// Patch inserts or replaces the entry for s.ID without disturbing unrelated
// entries. Update broadcasts carry the complete space object, so the entry
// is replaced rather than field-merged.
func (d *Directory) Patch(s protocol.Space) {
	if s.ID == "" {
		return
	}
	d.spaces[s.ID] = s
}

// ClearMine drops the rented subset. Runs on identity change; the full list
// is identity-independent and survives.
func (d *Directory) ClearMine() {
	d.mine = map[string]struct{}{}
}

func (d *Directory) Get(spaceID string) (protocol.Space, bool) {
	s, ok := d.spaces[spaceID]
	return s, ok
}

// OwnerOf reports whether wallet owns spaceID, through either signal: the
// rentals subset, or ownerIdentity on the directory entry directly.
// Permanent/reserved owners may not appear through the rental-query path,
// so both are checked.
func (d *Directory) OwnerOf(spaceID, wallet string) bool {
	if spaceID == "" {
		return false
	}
	if _, ok := d.mine[spaceID]; ok {
		return true
	}
	if wallet == "" {
		return false
	}
	s, ok := d.spaces[spaceID]
	return ok && s.OwnerIdentity == wallet
}

// Spaces returns the full list sorted by id.
func (d *Directory) Spaces() []protocol.Space {
	out := make([]protocol.Space, 0, len(d.spaces))
	for _, s := range d.spaces {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mine returns the rented subset sorted by id.
func (d *Directory) Mine() []protocol.Space {
	out := make([]protocol.Space, 0, len(d.mine))
	for id := range d.mine {
		if s, ok := d.spaces[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Len() int { return len(d.spaces) }
