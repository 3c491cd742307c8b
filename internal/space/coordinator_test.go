package space_test

import (
	"errors"
	"testing"
	"time"

	"pixelcove.gg/internal/protocol"
	"pixelcove.gg/internal/space"
	"pixelcove.gg/internal/space/spacetest"
)

func grant(spaceID string) protocol.CanEnterMsg {
	return protocol.CanEnterMsg{Type: protocol.TypeSpaceCanEnter, SpaceID: spaceID, CanEnter: true}
}

func deny(spaceID, reason string) protocol.CanEnterMsg {
	return protocol.CanEnterMsg{Type: protocol.TypeSpaceCanEnter, SpaceID: spaceID, CanEnter: false, BlockingReason: reason}
}

func TestGrantResolvesContinuationAndCaches(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	entered := 0
	h.Co.RequestEntry("cove-1", func() { entered++ })
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 1 {
		t.Fatalf("expected 1 entry check sent, got %d", got)
	}
	if entered != 0 {
		t.Fatalf("continuation must wait for the verdict")
	}

	h.Deliver(grant("cove-1"))
	if entered != 1 {
		t.Fatalf("expected continuation after grant, ran %d times", entered)
	}
	if n := h.Co.PendingCount(); n != 0 {
		t.Fatalf("expected no pending checks, got %d", n)
	}

	// The cached grant answers the next request without a round trip.
	h.Co.RequestEntry("cove-1", func() { entered++ })
	if entered != 2 {
		t.Fatalf("expected immediate entry from cache, ran %d times", entered)
	}
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 1 {
		t.Fatalf("cache hit must not send, got %d sends", got)
	}
	m := h.Co.MetricsSnapshot()
	if m.CacheHits != 1 || m.Granted != 1 || m.ChecksSent != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestDenialIsNeverReusedFromCache(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(deny("cove-1", protocol.ReasonSpaceLocked))

	h.Co.RequestEntry("cove-1", nil)
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("a cached denial must re-check, got %d sends", got)
	}
}

func TestUngatedDenialShowsLocked(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	entered := false
	h.Co.RequestEntry("cove-1", func() { entered = true })
	h.Deliver(deny("cove-1", ""))

	if entered {
		t.Fatalf("denial must not run the continuation")
	}
	locked := h.Sink.LockedCalls()
	if len(locked) != 1 {
		t.Fatalf("expected 1 locked panel, got %d", len(locked))
	}
	if locked[0].SpaceID != "cove-1" || locked[0].Reason != protocol.ReasonSpaceLocked {
		t.Fatalf("expected default locked reason, got %+v", locked[0])
	}
	if len(h.Sink.RequirementsCalls()) != 0 {
		t.Fatalf("ungated denial must not open the requirements panel")
	}
}

func TestGatedDenialShowsRequirements(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-7", nil)
	h.Deliver(protocol.CanEnterMsg{
		Type:              protocol.TypeSpaceCanEnter,
		SpaceID:           "cove-7",
		CanEnter:          false,
		TokenGateMet:      spacetest.Bool(false),
		TokenGateRequired: 500,
		TokenGateSymbol:   "CPw3",
		TokenGateAddress:  "0xtok",
		OwnerUsername:     "shellby",
		BlockingReason:    protocol.ReasonTokenRequired,
	})

	reqs := h.Sink.RequirementsCalls()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 requirements panel, got %d", len(reqs))
	}
	v := reqs[0]
	if !v.TokenRequired || v.TokenMinimum != 500 || v.TokenSymbol != "CPw3" {
		t.Fatalf("token gate not carried through: %+v", v)
	}
	if v.TokenMet == nil || *v.TokenMet {
		t.Fatalf("expected tokenMet=false, got %+v", v.TokenMet)
	}
	if v.FeeRequired {
		t.Fatalf("no fee gate in this verdict: %+v", v)
	}
	if len(h.Sink.LockedCalls()) != 0 {
		t.Fatalf("gated denial must not show the locked panel")
	}
}

func TestDenialFallsBackToDirectoryPolicy(t *testing.T) {
	h := spacetest.New(t, space.Options{})
	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-3", Name: "Kelp Bar", AccessPolicy: protocol.PolicyFee},
	}})

	// Bare denial: no gate fields, no reason. The directory says the space
	// is fee-gated, so the requirements panel opens.
	h.Co.RequestEntry("cove-3", nil)
	h.Deliver(deny("cove-3", ""))

	if len(h.Sink.RequirementsCalls()) != 1 {
		t.Fatalf("expected requirements panel via directory policy")
	}
}

func TestSupersededCheckDropsEarlierContinuation(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	first, second := 0, 0
	h.Co.RequestEntry("cove-1", func() { first++ })
	h.Co.RequestEntry("cove-1", func() { second++ })
	if n := h.Co.PendingCount(); n != 1 {
		t.Fatalf("one pending check per space, got %d", n)
	}

	h.Deliver(grant("cove-1"))
	if first != 0 || second != 1 {
		t.Fatalf("expected only the later continuation, got first=%d second=%d", first, second)
	}
	if m := h.Co.MetricsSnapshot(); m.Supersedes != 1 {
		t.Fatalf("expected 1 supersede, got %d", m.Supersedes)
	}
}

func TestDuplicateVerdictRunsContinuationOnce(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	entered := 0
	h.Co.RequestEntry("cove-1", func() { entered++ })
	h.Deliver(grant("cove-1"))
	h.Deliver(grant("cove-1"))
	if entered != 1 {
		t.Fatalf("late duplicate verdict must find no continuation, ran %d times", entered)
	}
}

func TestFeePaidMergesIntoCachedDenial(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-7", nil)
	h.Deliver(protocol.CanEnterMsg{
		Type:           protocol.TypeSpaceCanEnter,
		SpaceID:        "cove-7",
		CanEnter:       false,
		TokenGateMet:   spacetest.Bool(true),
		EntryFeePaid:   spacetest.Bool(false),
		EntryFeeAmount: 2.5,
		EntryFeeSymbol: "SOL",
		BlockingReason: protocol.ReasonEntryFeeRequired,
	})

	// The user retries from the requirements panel; the check goes out and
	// stays pending until payment confirmation merges into the record.
	entered := 0
	h.Co.RequestEntry("cove-7", func() { entered++ })
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected re-check after denial, got %d sends", got)
	}

	h.Co.FeePaid("cove-7")
	if entered != 1 {
		t.Fatalf("expected merged grant to resolve the pending check, ran %d times", entered)
	}

	// And the merged record now grants without another round trip.
	h.Co.RequestEntry("cove-7", func() { entered++ })
	if entered != 2 {
		t.Fatalf("expected cache hit after merge, ran %d times", entered)
	}
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected no further sends, got %d", got)
	}
}

func TestFeePaidDoesNotGrantPastTokenGate(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-8", nil)
	h.Deliver(protocol.CanEnterMsg{
		Type:         protocol.TypeSpaceCanEnter,
		SpaceID:      "cove-8",
		CanEnter:     false,
		TokenGateMet: spacetest.Bool(false),
		EntryFeePaid: spacetest.Bool(false),
	})

	entered := false
	h.Co.RequestEntry("cove-8", func() { entered = true })
	h.Co.FeePaid("cove-8")
	if entered {
		t.Fatalf("fee payment alone must not satisfy an unmet token gate")
	}
}

func TestBroadcastInvalidatesClearance(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(grant("cove-1"))

	h.Deliver(protocol.SpaceUpdatedMsg{Type: protocol.TypeSpaceUpdated, Space: protocol.Space{
		ID: "cove-1", Name: "Reef Deck", AccessPolicy: protocol.PolicyToken,
	}})

	if s, ok := h.Co.Space("cove-1"); !ok || s.Name != "Reef Deck" {
		t.Fatalf("broadcast must patch the directory, got %+v ok=%v", s, ok)
	}

	// The settings may have changed; the stale grant cannot be reused.
	h.Co.RequestEntry("cove-1", nil)
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected fresh check after broadcast, got %d sends", got)
	}
	if m := h.Co.MetricsSnapshot(); m.BroadcastsApplied != 1 {
		t.Fatalf("expected 1 broadcast applied, got %d", m.BroadcastsApplied)
	}
}

func TestKickWhileOutsideStillInvalidates(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(grant("cove-1"))

	h.Deliver(protocol.SpaceKickedMsg{
		Type: protocol.TypeSpaceKicked, SpaceID: "cove-1",
		Reason: protocol.ReasonKickedByOwner, Message: "closed for cleaning",
	})

	if m := h.Co.MetricsSnapshot(); m.Ejections != 0 {
		t.Fatalf("kick while outside must not eject, got %d", m.Ejections)
	}
	if toasts := h.Sink.Toasts(); len(toasts) != 1 || toasts[0] != "closed for cleaning" {
		t.Fatalf("expected kick message toast, got %v", toasts)
	}
	h.Co.RequestEntry("cove-1", nil)
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected fresh check after kick, got %d sends", got)
	}
}

func TestIdentityChangeResetsClearancesAndRentals(t *testing.T) {
	h := spacetest.New(t, space.Options{})
	h.Ch.SetIdentity(space.Identity{Wallet: "0xabc", Username: "kelp", Authenticated: true})

	h.Deliver(protocol.MyRentalsMsg{Type: protocol.TypeSpaceMyRentals, Spaces: []protocol.Space{
		{ID: "cove-9", Name: "Kelp HQ", AccessPolicy: protocol.PolicyPrivate, OwnerIdentity: "0xabc"},
	}})
	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(grant("cove-1"))

	if len(h.Co.MySpaces()) != 1 || !h.Co.OwnerOf("cove-9") {
		t.Fatalf("rentals not registered")
	}

	h.Ch.SetIdentity(space.Identity{Wallet: "0xdef", Username: "coral", Authenticated: true})

	if len(h.Co.MySpaces()) != 0 {
		t.Fatalf("rented subset must clear on identity change")
	}
	if h.Co.OwnerOf("cove-9") {
		t.Fatalf("ownership must not leak across identities")
	}
	h.Co.RequestEntry("cove-1", nil)
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected fresh check for the new identity, got %d sends", got)
	}
	if h.Co.Identity().Wallet != "0xdef" {
		t.Fatalf("identity not tracked: %+v", h.Co.Identity())
	}
}

func TestUnchangedIdentityKeepsClearances(t *testing.T) {
	h := spacetest.New(t, space.Options{})
	h.Ch.SetIdentity(space.Identity{Wallet: "0xabc", Authenticated: true})
	resets := h.Co.MetricsSnapshot().IdentityResets

	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(grant("cove-1"))

	// Same wallet, same auth state: e.g. a repeated auth_status frame.
	h.Ch.SetIdentity(space.Identity{Wallet: "0xabc", Authenticated: true})

	entered := false
	h.Co.RequestEntry("cove-1", func() { entered = true })
	if !entered {
		t.Fatalf("expected cache hit to survive a no-op identity report")
	}
	if got := h.Co.MetricsSnapshot().IdentityResets; got != resets {
		t.Fatalf("no-op identity report must not reset, got %d -> %d", resets, got)
	}
}

func TestDirectoryReplacedWholesaleOnList(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-1", AccessPolicy: protocol.PolicyPublic},
		{ID: "cove-2", AccessPolicy: protocol.PolicyPrivate},
	}})
	if len(h.Co.Spaces()) != 2 {
		t.Fatalf("expected 2 spaces, got %d", len(h.Co.Spaces()))
	}

	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-3", AccessPolicy: protocol.PolicyPublic},
	}})
	spaces := h.Co.Spaces()
	if len(spaces) != 1 || spaces[0].ID != "cove-3" {
		t.Fatalf("list response must replace the directory, got %+v", spaces)
	}
}

func TestMyRentalsUpsertsIntoDirectory(t *testing.T) {
	h := spacetest.New(t, space.Options{})
	h.Ch.SetIdentity(space.Identity{Wallet: "0xabc", Authenticated: true})

	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-1", Name: "old name", AccessPolicy: protocol.PolicyPublic},
	}})
	h.Deliver(protocol.MyRentalsMsg{Type: protocol.TypeSpaceMyRentals, Spaces: []protocol.Space{
		{ID: "cove-1", Name: "new name", AccessPolicy: protocol.PolicyPublic, OwnerIdentity: "0xabc"},
	}})

	if s, _ := h.Co.Space("cove-1"); s.Name != "new name" {
		t.Fatalf("rentals response must upsert into the directory, got %+v", s)
	}
	if mine := h.Co.MySpaces(); len(mine) != 1 || mine[0].ID != "cove-1" {
		t.Fatalf("expected cove-1 rented, got %+v", mine)
	}
}

func TestSettingsResultPatchesAndReports(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.RequestEntry("cove-1", nil)
	h.Deliver(grant("cove-1"))

	if err := h.Co.UpdateSettings("cove-1", protocol.SpaceSettings{
		AccessPolicy: policyPtr(protocol.PolicyToken),
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if got := h.Ch.CountSent(protocol.TypeSpaceUpdateSettings); got != 1 {
		t.Fatalf("expected settings request, got %d", got)
	}

	h.Deliver(protocol.SettingsResultMsg{
		Type: protocol.TypeSpaceSettingsResult, Success: true,
		Space: &protocol.Space{ID: "cove-1", AccessPolicy: protocol.PolicyToken},
	})

	calls := h.Sink.SettingsCalls()
	if len(calls) != 1 || !calls[0].OK || calls[0].SpaceID != "cove-1" {
		t.Fatalf("expected success report, got %+v", calls)
	}
	if s, _ := h.Co.Space("cove-1"); s.AccessPolicy != protocol.PolicyToken {
		t.Fatalf("expected patched policy, got %+v", s)
	}
	// Gate changed; old clearance is gone.
	h.Co.RequestEntry("cove-1", nil)
	if got := h.Ch.CountSent(protocol.TypeSpaceCanEnter); got != 2 {
		t.Fatalf("expected fresh check after settings change, got %d sends", got)
	}
}

func TestSettingsFailureReportsReason(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Deliver(protocol.SettingsResultMsg{
		Type: protocol.TypeSpaceSettingsResult, Success: false,
		SpaceID: "cove-1", Reason: "NOT_OWNER",
	})

	calls := h.Sink.SettingsCalls()
	if len(calls) != 1 || calls[0].OK || calls[0].Reason != "NOT_OWNER" {
		t.Fatalf("expected failure report, got %+v", calls)
	}
}

func TestPayRentResultUpdatesDueDate(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-2", AccessPolicy: protocol.PolicyPublic, RentalStatus: protocol.RentalRented, RentDueDate: &due},
	}})

	if err := h.Co.PayRent("cove-2", "5KtP3k...sig"); err != nil {
		t.Fatalf("pay rent: %v", err)
	}
	var req protocol.PayRentReq
	if !h.Ch.LastSent(protocol.TypeSpacePayRent, &req) || req.TransactionSignature == "" {
		t.Fatalf("expected pay_rent request with signature, got %+v", req)
	}

	newDue := due.AddDate(0, 1, 0)
	h.Deliver(protocol.PayRentResultMsg{
		Type: protocol.TypeSpacePayRentResult, Success: true,
		SpaceID: "cove-2", NewDueDate: &newDue,
	})

	rents := h.Sink.RentCalls()
	if len(rents) != 1 || !rents[0].OK || !rents[0].NewDueDate.Equal(newDue) {
		t.Fatalf("expected rent success with new due date, got %+v", rents)
	}
	if s, _ := h.Co.Space("cove-2"); s.RentDueDate == nil || !s.RentDueDate.Equal(newDue) {
		t.Fatalf("expected directory due date updated, got %+v", s)
	}
}

func TestPayRentFailureLeavesDirectoryAlone(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-2", AccessPolicy: protocol.PolicyPublic, RentDueDate: &due},
	}})

	h.Deliver(protocol.PayRentResultMsg{
		Type: protocol.TypeSpacePayRentResult, Success: false,
		SpaceID: "cove-2", Reason: "INSUFFICIENT_FUNDS",
	})

	rents := h.Sink.RentCalls()
	if len(rents) != 1 || rents[0].OK || rents[0].Reason != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected rent failure report, got %+v", rents)
	}
	if s, _ := h.Co.Space("cove-2"); s.RentDueDate == nil || !s.RentDueDate.Equal(due) {
		t.Fatalf("failed payment must not move the due date, got %+v", s)
	}
}

func TestVisitSendsTelemetry(t *testing.T) {
	visited := make(chan string, 1)
	h := spacetest.New(t, space.Options{Hooks: space.Hooks{
		Visited: func(spaceID string) { visited <- spaceID },
	}})

	if err := h.Co.Visit("cove-5"); err != nil {
		t.Fatalf("visit: %v", err)
	}
	var req protocol.VisitReq
	if !h.Ch.LastSent(protocol.TypeSpaceVisit, &req) || req.SpaceID != "cove-5" {
		t.Fatalf("expected visit frame, got %+v", req)
	}
	select {
	case id := <-visited:
		if id != "cove-5" {
			t.Fatalf("visited hook got %q", id)
		}
	default:
		t.Fatalf("visited hook did not fire")
	}
}

func TestRefreshMineRequiresAuthentication(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	if err := h.Co.RefreshMine(); !errors.Is(err, space.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if got := h.Ch.CountSent(protocol.TypeSpaceMyRentals); got != 0 {
		t.Fatalf("anonymous rentals request must not go out, got %d", got)
	}

	h.Ch.SetIdentity(space.Identity{Wallet: "0xabc", Authenticated: true})
	if err := h.Co.RefreshMine(); err != nil {
		t.Fatalf("refresh mine: %v", err)
	}
	if got := h.Ch.CountSent(protocol.TypeSpaceMyRentals); got != 1 {
		t.Fatalf("expected rentals request, got %d", got)
	}
}

func TestSendFailureLeavesCheckPending(t *testing.T) {
	h := spacetest.New(t, space.Options{})
	h.Ch.SetSendErr(errors.New("connection reset"))

	h.Co.RequestEntry("cove-1", nil)
	if n := h.Co.PendingCount(); n != 1 {
		t.Fatalf("check stays pending across a failed send, got %d", n)
	}

	// Reconnect; a late verdict (say, from a retried check) still resolves.
	h.Ch.SetSendErr(nil)
	h.Deliver(grant("cove-1"))
	if n := h.Co.PendingCount(); n != 0 {
		t.Fatalf("expected pending check resolved, got %d", n)
	}
}

func TestDetachStopsDeliveryAndDropsPending(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	entered := false
	h.Co.RequestEntry("cove-1", func() { entered = true })
	h.Co.Detach()

	if n := h.Co.PendingCount(); n != 0 {
		t.Fatalf("detach must drop continuations, got %d pending", n)
	}
	h.Deliver(grant("cove-1"))
	if entered {
		t.Fatalf("detached coordinator must not receive frames")
	}

	// Re-attach: cached directory state survives, frames flow again.
	h.Co.Attach()
	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-4", AccessPolicy: protocol.PolicyPublic},
	}})
	if len(h.Co.Spaces()) != 1 {
		t.Fatalf("re-attached coordinator must handle frames")
	}
}

func TestSeedDirectoryServedUntilFirstRefresh(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Co.SeedDirectory([]protocol.Space{
		{ID: "cove-1", Name: "Reef Deck", AccessPolicy: protocol.PolicyPublic},
		{ID: "cove-2", Name: "Kelp HQ", AccessPolicy: protocol.PolicyPrivate},
	}, []string{"cove-2"})

	if len(h.Co.Spaces()) != 2 {
		t.Fatalf("expected seeded directory, got %d spaces", len(h.Co.Spaces()))
	}
	if mine := h.Co.MySpaces(); len(mine) != 1 || mine[0].ID != "cove-2" {
		t.Fatalf("expected seeded rentals, got %+v", mine)
	}

	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-3", AccessPolicy: protocol.PolicyPublic},
	}})
	spaces := h.Co.Spaces()
	if len(spaces) != 1 || spaces[0].ID != "cove-3" {
		t.Fatalf("live refresh must replace the seed, got %+v", spaces)
	}
}

func TestDirectoryChangedHookFiresOnEveryMutation(t *testing.T) {
	var calls [][]protocol.Space
	h := spacetest.New(t, space.Options{Hooks: space.Hooks{
		DirectoryChanged: func(spaces []protocol.Space) { calls = append(calls, spaces) },
	}})

	h.Deliver(protocol.SpaceListMsg{Type: protocol.TypeSpaceList, Spaces: []protocol.Space{
		{ID: "cove-1", AccessPolicy: protocol.PolicyPublic},
	}})
	h.Deliver(protocol.SpaceUpdatedMsg{Type: protocol.TypeSpaceUpdated, Space: protocol.Space{
		ID: "cove-2", AccessPolicy: protocol.PolicyPrivate,
	}})
	h.Deliver(protocol.SettingsResultMsg{
		Type: protocol.TypeSpaceSettingsResult, Success: true,
		Space: &protocol.Space{ID: "cove-1", AccessPolicy: protocol.PolicyFee},
	})

	if len(calls) != 3 {
		t.Fatalf("expected 3 directory notifications, got %d", len(calls))
	}
	last := calls[2]
	if len(last) != 2 || last[0].ID != "cove-1" || last[1].ID != "cove-2" {
		t.Fatalf("expected sorted full snapshot, got %+v", last)
	}
	if last[0].AccessPolicy != protocol.PolicyFee {
		t.Fatalf("snapshot must reflect the patch, got %+v", last[0])
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	h := spacetest.New(t, space.Options{})

	h.Ch.DeliverRaw([]byte(`{"type":"space_can_enter","spaceId":12}`))
	h.Ch.DeliverRaw([]byte(`not json`))
	h.Ch.DeliverRaw([]byte(`{"type":"space_updated","space":{"id":""}}`))

	if m := h.Co.MetricsSnapshot(); m.Granted != 0 || m.Denied != 0 || m.BroadcastsApplied != 0 {
		t.Fatalf("malformed frames must not change state: %+v", m)
	}
	if len(h.Co.Spaces()) != 0 {
		t.Fatalf("empty-id patch must be dropped")
	}
}

func policyPtr(p protocol.AccessPolicy) *protocol.AccessPolicy { return &p }
