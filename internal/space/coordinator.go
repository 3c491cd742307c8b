package space

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"pixelcove.gg/internal/protocol"
)

// ErrNotAuthenticated is returned by operations that need a wallet identity
// when the channel has none.
var ErrNotAuthenticated = errors.New("not authenticated")

const (
	defaultOccupancyGrace    = 3 * time.Second
	defaultOccupancyInterval = 20 * time.Second
)

// Metrics are cumulative counters since construction.
type Metrics struct {
	ChecksSent        int64
	CacheHits         int64
	Supersedes        int64
	Granted           int64
	Denied            int64
	EligibilitySent   int64
	Ejections         int64
	BroadcastsApplied int64
	IdentityResets    int64
}

// Hooks observe engine activity. All are optional and run outside the
// coordinator lock, in delivery order.
type Hooks struct {
	DirectoryChanged func(spaces []protocol.Space)
	VerdictStored    func(spaceID string, rec ClearanceRecord)
	Ejected          func(spaceID, reason string)
	Visited          func(spaceID string)
}

// Options tunes a Coordinator. Zero values get defaults.
type Options struct {
	Logger            *log.Logger
	OccupancyGrace    time.Duration // delay before the first revalidation
	OccupancyInterval time.Duration // revalidation period
	Hooks             Hooks
}

// Coordinator is the access-control state machine. It owns the clearance
// cache, the pending-check registry, the space directory, and the occupancy
// monitor; every entry point (UI action, inbound message, identity change,
// revalidation tick) serializes on one mutex, and continuations, eject
// callbacks, and UI sink calls are invoked after it is released so they may
// re-enter.
type Coordinator struct {
	ch    Channel
	ui    UISink
	log   *log.Logger
	hooks Hooks

	mu        sync.Mutex
	attached  bool
	cancels   []func()
	identity  Identity
	cache     *ClearanceCache
	pending   *PendingChecks
	directory *Directory
	monitor   *OccupancyMonitor
	metrics   Metrics
}

func New(ch Channel, ui UISink, opts Options) *Coordinator {
	if ui == nil {
		ui = NopUISink{}
	}
	if opts.OccupancyGrace <= 0 {
		opts.OccupancyGrace = defaultOccupancyGrace
	}
	if opts.OccupancyInterval <= 0 {
		opts.OccupancyInterval = defaultOccupancyInterval
	}
	c := &Coordinator{
		ch:        ch,
		ui:        ui,
		log:       opts.Logger,
		hooks:     opts.Hooks,
		cache:     NewClearanceCache(),
		pending:   NewPendingChecks(),
		directory: NewDirectory(),
	}
	c.monitor = newOccupancyMonitor(opts.OccupancyGrace, opts.OccupancyInterval, c.sendEligibilityCheck)
	return c
}

// Attach subscribes the coordinator's message handlers and identity watcher
// on the channel. Repeated calls are no-ops until Detach.
func (c *Coordinator) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return
	}
	c.identity = c.ch.Identity()
	for _, sub := range []struct {
		t  string
		fn func([]byte)
	}{
		{protocol.TypeSpaceCanEnter, c.onCanEnter},
		{protocol.TypeSpaceEligibilityCheck, c.onEligibility},
		{protocol.TypeSpaceList, c.onSpaceList},
		{protocol.TypeSpaceMyRentals, c.onMyRentals},
		{protocol.TypeSpaceUpdated, c.onSpaceUpdated},
		{protocol.TypeSpaceKicked, c.onSpaceKicked},
		{protocol.TypeSpaceSettingsResult, c.onSettingsResult},
		{protocol.TypeSpacePayRentResult, c.onPayRentResult},
	} {
		c.cancels = append(c.cancels, c.ch.Handle(sub.t, sub.fn))
	}
	c.cancels = append(c.cancels, c.ch.OnIdentityChange(c.onIdentity))
	c.attached = true
}

// Detach cancels all subscriptions, ends any occupancy session without an
// eject, and drops pending continuations. Cached state survives; the
// coordinator can be re-attached.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return
	}
	cancels := c.cancels
	c.cancels = nil
	c.attached = false
	c.monitor.Exit()
	c.pending.ClearAll()
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// RequestEntry asks to enter spaceID. A cached granting verdict grants
// immediately without a round trip; otherwise one space_can_enter request
// goes out and onGranted is registered as the continuation, superseding any
// earlier one for the same space. Denials open a panel via the UI sink and
// never invoke onGranted.
func (c *Coordinator) RequestEntry(spaceID string, onGranted func()) {
	if spaceID == "" {
		return
	}
	c.mu.Lock()
	if rec, ok := c.cache.Get(spaceID); ok && rec.CanEnter {
		c.metrics.CacheHits++
		c.mu.Unlock()
		if onGranted != nil {
			onGranted()
		}
		return
	}
	if c.pending.Register(spaceID, onGranted) {
		c.metrics.Supersedes++
	}
	c.metrics.ChecksSent++
	c.mu.Unlock()

	if err := c.ch.Send(protocol.CanEnterReq{Type: protocol.TypeSpaceCanEnter, SpaceID: spaceID}); err != nil {
		c.logf("entry check for %s not sent: %v", spaceID, err)
	}
}

// FeePaid merges a confirmed entry-fee payment into the cached record for
// spaceID, recomputing canEnter as paid && tokenGateMet != false. A
// continuation still pending for the space resolves when the merged record
// grants entry.
func (c *Coordinator) FeePaid(spaceID string) {
	if spaceID == "" {
		return
	}
	paid := true
	c.mu.Lock()
	rec, _ := c.cache.Get(spaceID)
	rec.EntryFeePaid = &paid
	rec.CanEnter = rec.TokenGateMet == nil || *rec.TokenGateMet
	rec.CheckedAt = time.Now()
	c.cache.Put(spaceID, rec)
	var cont Continuation
	if rec.CanEnter {
		cont = c.pending.Resolve(spaceID, true)
	}
	c.mu.Unlock()

	if c.hooks.VerdictStored != nil {
		c.hooks.VerdictStored(spaceID, rec)
	}
	if cont != nil {
		cont()
	}
}

// Occupy marks spaceID as occupied and begins periodic revalidation. eject
// runs at most once, if eligibility is revoked, the owner kicks, or
// authentication is lost while inside. Occupying while inside another space
// implicitly exits it first.
func (c *Coordinator) Occupy(spaceID string, eject EjectFunc) {
	if spaceID == "" {
		return
	}
	c.mu.Lock()
	c.monitor.Enter(spaceID, eject)
	c.mu.Unlock()
}

// Leave ends the occupancy session voluntarily; no eject callback runs.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	c.monitor.Exit()
	c.mu.Unlock()
}

// Occupied reports the space id the local identity is inside, if any.
func (c *Coordinator) Occupied() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor.Inside()
}

// UpdateSettings submits owner settings changes for spaceID; the outcome
// arrives through the UI sink as a space_settings_result.
func (c *Coordinator) UpdateSettings(spaceID string, settings protocol.SpaceSettings) error {
	if spaceID == "" {
		return errors.New("empty space id")
	}
	return c.ch.Send(protocol.UpdateSettingsReq{
		Type:     protocol.TypeSpaceUpdateSettings,
		SpaceID:  spaceID,
		Settings: settings,
	})
}

// PayRent submits an already-signed rent payment for spaceID; the outcome
// arrives through the UI sink as a space_pay_rent_result.
func (c *Coordinator) PayRent(spaceID, transactionSignature string) error {
	if spaceID == "" {
		return errors.New("empty space id")
	}
	return c.ch.Send(protocol.PayRentReq{
		Type:                 protocol.TypeSpacePayRent,
		SpaceID:              spaceID,
		TransactionSignature: transactionSignature,
	})
}

// Visit sends fire-and-forget visit telemetry.
func (c *Coordinator) Visit(spaceID string) error {
	if spaceID == "" {
		return errors.New("empty space id")
	}
	if err := c.ch.Send(protocol.VisitReq{Type: protocol.TypeSpaceVisit, SpaceID: spaceID}); err != nil {
		return err
	}
	if c.hooks.Visited != nil {
		c.hooks.Visited(spaceID)
	}
	return nil
}

// SeedDirectory preloads the directory, typically from a snapshot taken by a
// previous run. Entries are served until the first live refresh replaces
// them; clearances are never seeded.
func (c *Coordinator) SeedDirectory(spaces []protocol.Space, mineIDs []string) {
	mine := make(map[string]struct{}, len(mineIDs))
	for _, id := range mineIDs {
		mine[id] = struct{}{}
	}
	var mineSpaces []protocol.Space
	for _, sp := range spaces {
		if _, ok := mine[sp.ID]; ok {
			mineSpaces = append(mineSpaces, sp)
		}
	}
	c.mu.Lock()
	c.directory.ReplaceAll(spaces)
	c.directory.ReplaceMine(mineSpaces)
	c.mu.Unlock()
}

// RefreshAll requests the full space list; the response replaces the
// directory wholesale.
func (c *Coordinator) RefreshAll() error {
	return c.ch.Send(protocol.SpaceListReq{Type: protocol.TypeSpaceList})
}

// RefreshMine requests the local identity's rentals; requires an
// authenticated identity.
func (c *Coordinator) RefreshMine() error {
	c.mu.Lock()
	authed := c.identity.Authed()
	c.mu.Unlock()
	if !authed {
		return ErrNotAuthenticated
	}
	return c.ch.Send(protocol.MyRentalsReq{Type: protocol.TypeSpaceMyRentals})
}

// Spaces returns the directory contents sorted by id.
func (c *Coordinator) Spaces() []protocol.Space {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.Spaces()
}

// Space returns one directory entry.
func (c *Coordinator) Space(spaceID string) (protocol.Space, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.Get(spaceID)
}

// MySpaces returns the rented subset sorted by id.
func (c *Coordinator) MySpaces() []protocol.Space {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.Mine()
}

// OwnerOf reports whether the current identity owns spaceID.
func (c *Coordinator) OwnerOf(spaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.OwnerOf(spaceID, c.identity.Wallet)
}

// Identity returns the coordinator's view of the local identity.
func (c *Coordinator) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// PendingCount reports the number of outstanding entry checks.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// MetricsSnapshot returns a copy of the counters.
func (c *Coordinator) MetricsSnapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// sendEligibilityCheck runs on a session's timer goroutine.
func (c *Coordinator) sendEligibilityCheck(spaceID string) {
	c.mu.Lock()
	inside, ok := c.monitor.Inside()
	if !ok || inside != spaceID {
		c.mu.Unlock()
		return
	}
	c.metrics.EligibilitySent++
	c.mu.Unlock()

	if err := c.ch.Send(protocol.EligibilityReq{Type: protocol.TypeSpaceEligibilityCheck, SpaceID: spaceID}); err != nil {
		c.logf("eligibility check for %s not sent: %v", spaceID, err)
	}
}

// ejectOccupant ends the active session (any session when spaceID is empty,
// else only a matching one), invalidates the space's clearance, and invokes
// the session's eject callback exactly once.
func (c *Coordinator) ejectOccupant(spaceID, reason string) {
	c.mu.Lock()
	sess, ok := c.monitor.take(spaceID)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.cache.Invalidate(sess.spaceID)
	c.metrics.Ejections++
	c.mu.Unlock()

	c.logf("ejected from %s: %s", sess.spaceID, reason)
	if sess.eject != nil {
		sess.eject(reason)
	}
	if c.hooks.Ejected != nil {
		c.hooks.Ejected(sess.spaceID, reason)
	}
}

func (c *Coordinator) onCanEnter(raw []byte) {
	var m protocol.CanEnterMsg
	if err := json.Unmarshal(raw, &m); err != nil || m.SpaceID == "" {
		return
	}
	rec := ClearanceRecord{
		CanEnter:     m.CanEnter,
		TokenGateMet: m.TokenGateMet,
		EntryFeePaid: m.EntryFeePaid,
		IsOwner:      m.IsOwner,
		CheckedAt:    time.Now(),
	}

	c.mu.Lock()
	c.cache.Put(m.SpaceID, rec)
	var cont Continuation
	if m.CanEnter {
		c.metrics.Granted++
		cont = c.pending.Resolve(m.SpaceID, true)
	} else {
		c.metrics.Denied++
		c.pending.Resolve(m.SpaceID, false)
	}
	gated := c.verdictGatedLocked(m)
	c.mu.Unlock()

	if c.hooks.VerdictStored != nil {
		c.hooks.VerdictStored(m.SpaceID, rec)
	}
	if m.CanEnter {
		if cont != nil {
			cont()
		}
		return
	}
	if gated {
		c.ui.ShowRequirements(requirementsFromVerdict(m))
		return
	}
	reason := m.BlockingReason
	if reason == "" {
		reason = protocol.ReasonSpaceLocked
	}
	c.ui.ShowLocked(m.SpaceID, reason)
}

func (c *Coordinator) onEligibility(raw []byte) {
	var m protocol.EligibilityMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	// The response names no space; it applies to the one currently occupied.
	if m.CanEnter {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = protocol.ReasonEligibilityRevoked
	}
	c.ejectOccupant("", reason)
}

func (c *Coordinator) onSpaceList(raw []byte) {
	var m protocol.SpaceListMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	c.mu.Lock()
	c.directory.ReplaceAll(m.Spaces)
	spaces := c.directorySnapshotLocked()
	c.mu.Unlock()
	c.notifyDirectory(spaces)
}

func (c *Coordinator) onMyRentals(raw []byte) {
	var m protocol.MyRentalsMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	c.mu.Lock()
	c.directory.ReplaceMine(m.Spaces)
	spaces := c.directorySnapshotLocked()
	c.mu.Unlock()
	c.notifyDirectory(spaces)
}

func (c *Coordinator) onSpaceUpdated(raw []byte) {
	var m protocol.SpaceUpdatedMsg
	if err := json.Unmarshal(raw, &m); err != nil || m.Space.ID == "" {
		return
	}
	c.mu.Lock()
	c.directory.Patch(m.Space)
	// Whatever was cleared for this space predates the update.
	c.cache.Invalidate(m.Space.ID)
	c.metrics.BroadcastsApplied++
	spaces := c.directorySnapshotLocked()
	c.mu.Unlock()
	c.notifyDirectory(spaces)
}

func (c *Coordinator) onSpaceKicked(raw []byte) {
	var m protocol.SpaceKickedMsg
	if err := json.Unmarshal(raw, &m); err != nil || m.SpaceID == "" {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = protocol.ReasonKickedByOwner
	}
	c.mu.Lock()
	c.cache.Invalidate(m.SpaceID)
	c.mu.Unlock()

	c.ejectOccupant(m.SpaceID, reason)
	if m.Message != "" {
		c.ui.Toast(m.Message)
	}
}

func (c *Coordinator) onSettingsResult(raw []byte) {
	var m protocol.SettingsResultMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	spaceID := m.SpaceID
	var spaces []protocol.Space
	c.mu.Lock()
	if m.Space != nil && m.Space.ID != "" {
		spaceID = m.Space.ID
		c.directory.Patch(*m.Space)
		c.cache.Invalidate(m.Space.ID)
		spaces = c.directorySnapshotLocked()
	}
	c.mu.Unlock()
	c.notifyDirectory(spaces)
	c.ui.SettingsSaved(spaceID, m.Success, m.Reason)
}

func (c *Coordinator) onPayRentResult(raw []byte) {
	var m protocol.PayRentResultMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	var due time.Time
	if m.NewDueDate != nil {
		due = *m.NewDueDate
	}
	var spaces []protocol.Space
	c.mu.Lock()
	if m.Success && m.SpaceID != "" && m.NewDueDate != nil {
		if s, ok := c.directory.Get(m.SpaceID); ok {
			s.RentDueDate = m.NewDueDate
			c.directory.Patch(s)
			spaces = c.directorySnapshotLocked()
		}
	}
	c.mu.Unlock()
	c.notifyDirectory(spaces)
	c.ui.RentPaid(m.SpaceID, m.Success, due, m.Reason)
}

// onIdentity runs on every identity/auth transition reported by the channel.
func (c *Coordinator) onIdentity(id Identity) {
	c.mu.Lock()
	prev := c.identity
	c.identity = id
	changed := id.Wallet != prev.Wallet || id.Authenticated != prev.Authenticated
	if changed {
		c.cache.InvalidateAll()
		c.directory.ClearMine()
		c.metrics.IdentityResets++
	}
	c.mu.Unlock()

	if changed {
		c.logf("identity now %q (authenticated=%v); clearances reset", id.Wallet, id.Authenticated)
	}
	if !id.Authed() {
		// Losing the wallet is a local fact; eject without a round trip.
		c.ejectOccupant("", protocol.ReasonAuthLost)
	}
}

// verdictGatedLocked reports whether a denial has requirements the user
// could still satisfy. The verdict's own fields decide; the directory's
// policy breaks the tie when the verdict carries no gate details.
func (c *Coordinator) verdictGatedLocked(m protocol.CanEnterMsg) bool {
	if m.TokenGateMet != nil || m.EntryFeePaid != nil {
		return true
	}
	if m.TokenGateRequired > 0 || m.EntryFeeAmount > 0 {
		return true
	}
	switch m.BlockingReason {
	case protocol.ReasonTokenRequired, protocol.ReasonEntryFeeRequired:
		return true
	case protocol.ReasonSpaceLocked:
		return false
	}
	if s, ok := c.directory.Get(m.SpaceID); ok {
		return s.AccessPolicy.Gated()
	}
	return false
}

func (c *Coordinator) directorySnapshotLocked() []protocol.Space {
	if c.hooks.DirectoryChanged == nil {
		return nil
	}
	return c.directory.Spaces()
}

func (c *Coordinator) notifyDirectory(spaces []protocol.Space) {
	if spaces != nil && c.hooks.DirectoryChanged != nil {
		c.hooks.DirectoryChanged(spaces)
	}
}

func requirementsFromVerdict(m protocol.CanEnterMsg) Requirements {
	return Requirements{
		SpaceID:        m.SpaceID,
		OwnerWallet:    m.OwnerWallet,
		OwnerUsername:  m.OwnerUsername,
		TokenRequired:  m.TokenGateRequired > 0 || m.TokenGateMet != nil,
		TokenSymbol:    m.TokenGateSymbol,
		TokenAddress:   m.TokenGateAddress,
		TokenMinimum:   m.TokenGateRequired,
		TokenMet:       m.TokenGateMet,
		FeeRequired:    m.EntryFeeAmount > 0 || m.EntryFeePaid != nil,
		FeeAmount:      m.EntryFeeAmount,
		FeeSymbol:      m.EntryFeeSymbol,
		FeeAddress:     m.EntryFeeTokenAddress,
		FeePaid:        m.EntryFeePaid,
		BlockingReason: m.BlockingReason,
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
