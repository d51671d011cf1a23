// Package history keeps a bounded back/forward log of visited resources
// and files.
package history

import "slices"

// DefaultCapacity bounds a History created with a non-positive capacity.
const DefaultCapacity = 100

// EntryKind distinguishes resource ids from file paths.
type EntryKind int

const (
	// ResourceEntry is a resource identifier.
	ResourceEntry EntryKind = iota
	// FileEntry is a relative file path.
	FileEntry
)

// Entry is one visited item.
type Entry struct {
	Kind EntryKind
	ID   string
}

// Valid reports whether an entry still refers to something that exists.
type Valid func(Entry) bool

// History is an ordered, bounded sequence of entries with a cursor.
// The cursor is -1 when the history is empty. History is not safe for
// concurrent use; the engine serializes access.
type History struct {
	entries  []Entry
	cursor   int
	capacity int
}

// New creates an empty History holding at most capacity entries.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{cursor: -1, capacity: capacity}
}

// Record appends e after the cursor, discarding forward entries. Recording
// the current entry again does nothing.
func (h *History) Record(e Entry) {
	if h.cursor >= 0 && h.entries[h.cursor] == e {
		return
	}
	h.entries = append(h.entries[:h.cursor+1], e)
	if over := len(h.entries) - h.capacity; over > 0 {
		h.entries = slices.Delete(h.entries, 0, over)
	}
	h.cursor = len(h.entries) - 1
}

// Back moves to the nearest earlier entry accepted by valid and returns
// it. At the start it returns false and leaves the cursor alone.
func (h *History) Back(valid Valid) (Entry, bool) {
	return h.move(-1, valid)
}

// Forward moves to the nearest later entry accepted by valid.
func (h *History) Forward(valid Valid) (Entry, bool) {
	return h.move(1, valid)
}

func (h *History) move(step int, valid Valid) (Entry, bool) {
	for i := h.cursor + step; i >= 0 && i < len(h.entries); i += step {
		if valid == nil || valid(h.entries[i]) {
			h.cursor = i
			return h.entries[i], true
		}
	}
	return Entry{}, false
}

// Current returns the entry at the cursor.
func (h *History) Current() (Entry, bool) {
	if h.cursor < 0 {
		return Entry{}, false
	}
	return h.entries[h.cursor], true
}

// Entries returns a copy of every entry, oldest first.
func (h *History) Entries() []Entry {
	return slices.Clone(h.entries)
}

// Cursor returns the cursor position, -1 when empty.
func (h *History) Cursor() int {
	return h.cursor
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Clear empties the history.
func (h *History) Clear() {
	h.entries = nil
	h.cursor = -1
}
