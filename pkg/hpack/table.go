package hpack

// dynamicTable is the FIFO-evicted table described in RFC 7541 §2.3.2.
// entries[0] is the most recently inserted (wire index staticTableSize+1);
// eviction removes from the tail until size <= max.
type dynamicTable struct {
	entries []HeaderField
	size    uint32 // current total Size() of all entries
	max     uint32 // negotiated SETTINGS_HEADER_TABLE_SIZE budget
}

func newDynamicTable(max uint32) *dynamicTable {
	return &dynamicTable{max: max}
}

// setMaxSize applies a dynamic-table-size-update instruction, evicting
// entries until the new budget is respected.
func (t *dynamicTable) setMaxSize(max uint32) {
	t.max = max
	t.evict()
}

func (t *dynamicTable) evict() {
	for t.size > t.max && len(t.entries) > 0 {
		last := t.entries[len(t.entries)-1]
		t.entries = t.entries[:len(t.entries)-1]
		t.size -= last.Size()
	}
}

// add inserts f as the newest entry, evicting older entries as needed. A
// field larger than the whole table budget results in an empty table
// (RFC 7541 §4.4).
func (t *dynamicTable) add(f HeaderField) {
	t.entries = append([]HeaderField{f}, t.entries...)
	t.size += f.Size()
	t.evict()
}

// at returns the entry at the given 0-based position (0 = most recent).
func (t *dynamicTable) at(i int) (HeaderField, bool) {
	if i < 0 || i >= len(t.entries) {
		return HeaderField{}, false
	}
	return t.entries[i], true
}

func (t *dynamicTable) len() int { return len(t.entries) }

// lookupByNameValue returns the 0-based position of an exact match, if any.
func (t *dynamicTable) lookupByNameValue(name, value string) (int, bool) {
	for i, f := range t.entries {
		if f.Name == name && f.Value == value {
			return i, true
		}
	}
	return -1, false
}

// lookupByName returns the 0-based position of the first entry with a
// matching name, if any.
func (t *dynamicTable) lookupByName(name string) (int, bool) {
	for i, f := range t.entries {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}
