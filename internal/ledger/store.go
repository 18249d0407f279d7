package ledger

import "fmt"

// Store is the ordered, append-only entry sequence. It enforces the chain
// link on every append and offers no update or delete operation.
//
// Store is not safe for concurrent use on its own; the Service serialises
// access behind its lock.
type Store struct {
	entries []*Entry
}

// NewStore returns an empty chain store.
func NewStore() *Store {
	return &Store{}
}

// Append adds entry at the tail and returns its index. It fails with
// ErrChainViolation when entry.HashPrevious does not equal the current tail
// hash (or is not empty on an empty store).
func (s *Store) Append(entry *Entry) (int, error) {
	if entry.HashPrevious != s.TailHash() {
		return 0, fmt.Errorf("%w: hash_previous %q does not match tail %q",
			ErrChainViolation, entry.HashPrevious, s.TailHash())
	}
	s.entries = append(s.entries, entry)
	return len(s.entries) - 1, nil
}

// TailHash returns the hash of the most recent entry, or the empty string
// when the store is empty.
func (s *Store) TailHash() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].HashCurrent
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns the entry sequence in insertion order. The returned slice
// is a fresh copy; the entries themselves are shared and must be treated as
// immutable.
func (s *Store) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// replace swaps in a rehydrated entry sequence at load time. File order is
// chain order; the verifier is responsible for flagging any break.
func (s *Store) replace(entries []*Entry) {
	s.entries = entries
}
