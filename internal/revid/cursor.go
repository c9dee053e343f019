package revid

import mapset "github.com/deckarep/golang-set/v2"

// Cursor tracks which keys at or after a start key have been seen by a
// reader of a live feed. Next is the first key not yet seen; everything
// below it has been seen, so a reader that may have missed entries can
// resume a range read from Next.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	start string
	next  string
	// valid is false when start is not a revision key; Next then stays at
	// start and every seen key is kept in ahead.
	valid bool
	ahead mapset.Set[string]
}

// NewCursor returns a cursor for a feed of keys >= start. Before starts at
// revision 0.
func NewCursor(start string) *Cursor {
	c := &Cursor{start: start, next: start, ahead: mapset.NewThreadUnsafeSet[string]()}
	if start == Before {
		c.next = zeroKey
	}
	if _, err := Decode(c.next); err == nil {
		c.valid = true
	}
	return c
}

// Next returns the first key not yet seen.
func (c *Cursor) Next() string {
	return c.next
}

// Seen reports whether key was already marked or falls below the start.
func (c *Cursor) Seen(key string) bool {
	if key < c.start {
		return true
	}
	if c.valid && key < c.next {
		return true
	}
	return c.ahead.Contains(key)
}

// Mark records key as seen and reports whether it was new.
func (c *Cursor) Mark(key string) bool {
	if c.Seen(key) {
		return false
	}
	c.ahead.Add(key)
	if !c.valid {
		return true
	}
	for c.ahead.Contains(c.next) {
		c.ahead.Remove(c.next)
		n, err := Decode(c.next)
		if err != nil {
			break
		}
		c.next = Encode(n + 1)
	}
	return true
}
