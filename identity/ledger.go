package identity

import "time"

// Entry is one ledger row: an identifier plus the unix-seconds
// timestamp at which it was generated (local) or received (peer).
type Entry struct {
	ID         Identifier
	ObservedAt int64
}

// Ledger is an append-only ordered sequence of identifier entries.
// It is not safe for concurrent use; Store serializes access.
type Ledger struct {
	entries []Entry
}

// Append adds an entry at the end, preserving insertion order.
func (l *Ledger) Append(e Entry) {
	l.entries = append(l.entries, e)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Last returns the most recently appended entry, if any.
func (l *Ledger) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy of the ledger contents in order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Expire removes every entry aged window or more at now and returns
// the count removed. Survivor order is preserved. Entries are filtered
// individually rather than truncated from the front, so an out-of-order
// timestamp cannot shield newer stale entries.
func (l *Ledger) Expire(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window).Unix()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ObservedAt > cutoff {
			kept = append(kept, e)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	return removed
}

// TrimOldest drops entries from the front until at most max remain.
// Returns the count dropped.
func (l *Ledger) TrimOldest(max int) int {
	if max < 0 || len(l.entries) <= max {
		return 0
	}
	dropped := len(l.entries) - max
	l.entries = append([]Entry(nil), l.entries[dropped:]...)
	return dropped
}
