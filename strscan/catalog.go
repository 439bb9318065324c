package strscan

import (
	"errors"
	"fmt"
	"io"
)

// ErrIndexOutOfRange is returned when a catalog index does not
// refer to an entry.
var ErrIndexOutOfRange = errors.New("index out of range")

// FoundString is a printable, NUL-terminated string found in a section.
type FoundString struct {
	// Index is the entry's position in its Catalog.
	Index int

	// Text is the string without its NUL terminator.
	Text string

	// Offset is the absolute file offset of the first byte of Text.
	Offset uint64

	// Length is len(Text). The terminator lives at Offset+Length.
	Length uint64

	// Section is the name of the section containing the string.
	Section string

	// SectionIndex is the section's position in the section
	// header table.
	SectionIndex int

	// Addr is the string's virtual address, derived from the
	// section's sh_addr.
	Addr uint64
}

// Catalog is an ordered list of FoundString with a fixed capacity.
// Entries are kept in discovery order.
type Catalog struct {
	capacity int
	entries  []FoundString
}

func newCatalog(capacity int) *Catalog {
	initial := capacity
	if initial > 64 {
		initial = 64
	}

	return &Catalog{
		capacity: capacity,
		entries:  make([]FoundString, 0, initial),
	}
}

// add appends s, assigning its index. It reports false without
// adding anything if the catalog is full.
func (o *Catalog) add(s FoundString) bool {
	if o.Full() {
		return false
	}

	s.Index = len(o.entries)
	o.entries = append(o.entries, s)

	return true
}

// Len returns the number of entries.
func (o *Catalog) Len() int {
	return len(o.entries)
}

// Capacity returns the maximum number of entries.
func (o *Catalog) Capacity() int {
	return o.capacity
}

// Full reports whether the catalog reached its capacity.
func (o *Catalog) Full() bool {
	return len(o.entries) >= o.capacity
}

// Get returns the entry at index i.
func (o *Catalog) Get(i int) (FoundString, error) {
	if i < 0 || i >= len(o.entries) {
		return FoundString{}, fmt.Errorf("index %d is not in [0, %d) - %w",
			i, len(o.entries), ErrIndexOutOfRange)
	}

	return o.entries[i], nil
}

// Strings returns a copy of the entries.
func (o *Catalog) Strings() []FoundString {
	entries := make([]FoundString, len(o.entries))
	copy(entries, o.entries)
	return entries
}

// WriteTo writes one "[index] text" line per entry to w.
func (o *Catalog) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, e := range o.entries {
		n, err := fmt.Fprintf(w, "[%d] %s\n", e.Index, e.Text)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}
