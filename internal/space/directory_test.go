package space

import (
	"testing"

	"pixelcove.gg/internal/protocol"
)

func TestDirectory_ReplaceAllKeepsMineSubset(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]protocol.Space{
		{ID: "cove-1", AccessPolicy: protocol.PolicyPublic},
		{ID: "cove-2", AccessPolicy: protocol.PolicyPrivate},
	})
	d.ReplaceMine([]protocol.Space{
		{ID: "cove-2", AccessPolicy: protocol.PolicyPrivate, OwnerIdentity: "0xabc"},
	})

	d.ReplaceAll([]protocol.Space{
		{ID: "cove-2", AccessPolicy: protocol.PolicyPrivate},
		{ID: "cove-3", AccessPolicy: protocol.PolicyPublic},
	})

	if d.Len() != 2 {
		t.Fatalf("expected wholesale replacement, got %d entries", d.Len())
	}
	if _, ok := d.Get("cove-1"); ok {
		t.Fatalf("cove-1 must be gone after replacement")
	}
	mine := d.Mine()
	if len(mine) != 1 || mine[0].ID != "cove-2" {
		t.Fatalf("mine subset must survive a list refresh, got %+v", mine)
	}
}

func TestDirectory_ReplaceMineUpserts(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]protocol.Space{
		{ID: "cove-1", Name: "stale", AccessPolicy: protocol.PolicyPublic},
	})
	d.ReplaceMine([]protocol.Space{
		{ID: "cove-1", Name: "fresh", AccessPolicy: protocol.PolicyPublic},
		{ID: "cove-9", Name: "unseen", AccessPolicy: protocol.PolicyPrivate},
	})

	if s, _ := d.Get("cove-1"); s.Name != "fresh" {
		t.Fatalf("rentals are fresher than the list, got %+v", s)
	}
	if s, ok := d.Get("cove-9"); !ok || s.Name != "unseen" {
		t.Fatalf("rentals must insert unknown spaces, got %+v ok=%v", s, ok)
	}

	// A later rentals response drops cove-9 from mine but not from the list.
	d.ReplaceMine([]protocol.Space{
		{ID: "cove-1", Name: "fresh", AccessPolicy: protocol.PolicyPublic},
	})
	if len(d.Mine()) != 1 {
		t.Fatalf("expected mine replaced, got %+v", d.Mine())
	}
	if _, ok := d.Get("cove-9"); !ok {
		t.Fatalf("full list keeps entries mine no longer claims")
	}
}

func TestDirectory_PatchReplacesEntry(t *testing.T) {
	d := NewDirectory()
	gate := &protocol.TokenGate{TokenID: "0xtok", MinimumBalance: 500}
	d.ReplaceAll([]protocol.Space{
		{ID: "cove-1", AccessPolicy: protocol.PolicyToken, TokenGate: gate},
	})

	d.Patch(protocol.Space{ID: "cove-1", AccessPolicy: protocol.PolicyPublic})

	s, _ := d.Get("cove-1")
	if s.AccessPolicy != protocol.PolicyPublic || s.TokenGate != nil {
		t.Fatalf("patch must replace, not merge: %+v", s)
	}

	d.Patch(protocol.Space{ID: ""})
	if d.Len() != 1 {
		t.Fatalf("empty-id patch must be dropped, got %d entries", d.Len())
	}
}

func TestDirectory_OwnerOfChecksBothSignals(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]protocol.Space{
		{ID: "cove-1", OwnerIdentity: "0xabc", AccessPolicy: protocol.PolicyPrivate},
		{ID: "cove-2", OwnerIdentity: "0xother", AccessPolicy: protocol.PolicyPublic},
	})
	d.ReplaceMine([]protocol.Space{
		{ID: "cove-3", AccessPolicy: protocol.PolicyPrivate},
	})

	if !d.OwnerOf("cove-1", "0xabc") {
		t.Fatalf("ownerIdentity on the entry must count")
	}
	if !d.OwnerOf("cove-3", "0xabc") {
		t.Fatalf("membership in mine must count even without ownerIdentity")
	}
	if d.OwnerOf("cove-2", "0xabc") {
		t.Fatalf("someone else's space")
	}
	if d.OwnerOf("cove-1", "") {
		t.Fatalf("empty wallet owns nothing outside mine")
	}

	d.ClearMine()
	if d.OwnerOf("cove-3", "0xabc") {
		t.Fatalf("ClearMine must drop rental-derived ownership")
	}
}

func TestDirectory_SortedViews(t *testing.T) {
	d := NewDirectory()
	d.ReplaceAll([]protocol.Space{
		{ID: "cove-3"}, {ID: "cove-1"}, {ID: "cove-2"},
	})

	spaces := d.Spaces()
	for i, want := range []string{"cove-1", "cove-2", "cove-3"} {
		if spaces[i].ID != want {
			t.Fatalf("expected sorted ids, got %+v", spaces)
		}
	}
}
