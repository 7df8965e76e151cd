package sagui

import "sort"

// StrMapEntry is one name/value pair in a StrMap. Key is the ASCII-folded
// lookup key derived from Name; it is recomputed whenever Name changes
// through the StrMap API, never by mutating Entry directly.
type StrMapEntry struct {
	Name  string
	Value string
	key   string
}

// StrMap is an insertion-ordered multimap with ASCII-case-insensitive
// lookup. Duplicate names are admitted by Add; Set replaces the first
// match or appends. Bytes outside the ASCII range are preserved verbatim
// when folding the lookup key.
type StrMap struct {
	entries []*StrMapEntry
}

// NewStrMap returns an empty StrMap ready for use.
func NewStrMap() *StrMap {
	return &StrMap{}
}

func asciiLower(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}

// Add appends a new entry, admitting duplicate names.
func (m *StrMap) Add(name, value string) {
	m.entries = append(m.entries, &StrMapEntry{Name: name, Value: value, key: asciiLower(name)})
}

// Set replaces the value of the first entry matching name's key, or
// appends a new entry if none exists. It does not deduplicate beyond the
// first match.
func (m *StrMap) Set(name, value string) {
	key := asciiLower(name)
	for _, e := range m.entries {
		if e.key == key {
			e.Name = name
			e.Value = value
			return
		}
	}
	m.entries = append(m.entries, &StrMapEntry{Name: name, Value: value, key: key})
}

// Find returns the first entry whose key matches name, or nil.
func (m *StrMap) Find(name string) *StrMapEntry {
	key := asciiLower(name)
	for _, e := range m.entries {
		if e.key == key {
			return e
		}
	}
	return nil
}

// Get returns the value of the first entry matching name, and whether one was found.
func (m *StrMap) Get(name string) (string, bool) {
	if e := m.Find(name); e != nil {
		return e.Value, true
	}
	return "", false
}

// Rm removes the first entry matching name. Reports whether an entry was removed.
func (m *StrMap) Rm(name string) bool {
	key := asciiLower(name)
	for i, e := range m.entries {
		if e.key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of entries.
func (m *StrMap) Count() int { return len(m.entries) }

// Iter calls cb for each entry in insertion order, stopping early — and
// returning cb's result — the first time cb returns a non-nil error.
func (m *StrMap) Iter(cb func(*StrMapEntry) error) error {
	for _, e := range m.entries {
		if err := cb(e); err != nil {
			return err
		}
	}
	return nil
}

// All ranges over entries in insertion order using a Go 1.23 iterator.
func (m *StrMap) All() func(func(*StrMapEntry) bool) {
	return func(yield func(*StrMapEntry) bool) {
		for _, e := range m.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Sort stably reorders entries using cmp, the way sort.SliceStable would,
// without exposing the backing slice.
func (m *StrMap) Sort(cmp func(a, b *StrMapEntry) int) {
	sort.SliceStable(m.entries, func(i, j int) bool {
		return cmp(m.entries[i], m.entries[j]) < 0
	})
}

// Cleanup discards all entries, leaving the StrMap ready for reuse.
func (m *StrMap) Cleanup() {
	m.entries = nil
}
