package nvl

// LastValueCache holds the most recently published value for every
// (COB-ID, variable position) pair, used to suppress republishing
// unchanged values.
//
// Slots are created unset for every group at construction and live for
// the process lifetime. The cache is mutated only by the single
// dispatch goroutine, so it carries no locking; extending the bridge to
// concurrent dispatchers would require per-group locking or sharding
// by COB-ID.
type LastValueCache struct {
	slots map[uint16][]cacheSlot
}

type cacheSlot struct {
	set   bool
	value any
}

// NewLastValueCache creates a cache with one unset slot per variable of
// every group in the table.
func NewLastValueCache(table Table) *LastValueCache {
	slots := make(map[uint16][]cacheSlot, len(table))
	for cob, g := range table {
		slots[cob] = make([]cacheSlot, len(g.Fields))
	}
	return &LastValueCache{slots: slots}
}

// Update stores a decoded value and reports whether it differs from the
// previous one.
//
// Equality is exact with no tolerance: a REAL that jitters in its last
// bit counts as changed. Producers wanting stable suppression should
// quantise via the variable's precision setting. (A NaN value never
// equals itself and therefore always reports changed.)
//
// Parameters:
//   - cob: The group's COB-ID
//   - idx: Variable position within the group
//   - v: Newly decoded value
//
// Returns:
//   - bool: true if the slot was unset or held a different value
func (c *LastValueCache) Update(cob uint16, idx int, v any) bool {
	group, ok := c.slots[cob]
	if !ok || idx < 0 || idx >= len(group) {
		// Unknown slot: nothing to compare against, treat as changed.
		return true
	}

	slot := &group[idx]
	changed := !slot.set || slot.value != v
	slot.set = true
	slot.value = v
	return changed
}

// Peek returns the cached value for a slot and whether it has been set.
// Used by tests and diagnostics; the dispatch path only calls Update.
func (c *LastValueCache) Peek(cob uint16, idx int) (any, bool) {
	group, ok := c.slots[cob]
	if !ok || idx < 0 || idx >= len(group) {
		return nil, false
	}
	if !group[idx].set {
		return nil, false
	}
	return group[idx].value, true
}
