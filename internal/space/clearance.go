package space

import "time"

// ClearanceRecord is one cached verdict for one space. Records are replaced
// wholesale, never mutated in place; TokenGateMet/EntryFeePaid stay nil when
// the verdict carried nothing for that gate.
type ClearanceRecord struct {
	CanEnter     bool
	TokenGateMet *bool
	EntryFeePaid *bool
	IsOwner      bool
	CheckedAt    time.Time
}

// ClearanceCache holds at most one ClearanceRecord per space id. Records
// carry no expiry; staleness is handled by invalidation (space update
// broadcasts, revocations, identity changes), and only granting records are
// ever reused without a fresh check.
//
// The cache is owned by the Coordinator and is not safe for concurrent use
// on its own.
type ClearanceCache struct {
	records map[string]ClearanceRecord
}

func NewClearanceCache() *ClearanceCache {
	return &ClearanceCache{records: map[string]ClearanceRecord{}}
}

func (c *ClearanceCache) Get(spaceID string) (ClearanceRecord, bool) {
	rec, ok := c.records[spaceID]
	return rec, ok
}

func (c *ClearanceCache) Put(spaceID string, rec ClearanceRecord) {
	if spaceID == "" {
		return
	}
	c.records[spaceID] = rec
}

func (c *ClearanceCache) Invalidate(spaceID string) {
	delete(c.records, spaceID)
}

// InvalidateAll empties the cache. Runs on every identity change so verdicts
// issued for one wallet never leak into another's session.
func (c *ClearanceCache) InvalidateAll() {
	c.records = map[string]ClearanceRecord{}
}

func (c *ClearanceCache) Len() int { return len(c.records) }
