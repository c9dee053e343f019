package textop

// length returns the number of characters the component spans.
func (c component) length() int {
	if c.kind == kindInsert {
		return len([]rune(c.text))
	}
	return c.n
}

// prefix returns the first n characters of an insert.
func (c component) prefix(n int) string {
	return string([]rune(c.text)[:n])
}

// cursor walks a component list, splitting components as compose consumes
// them partially.
type cursor struct {
	ops []component
	i   int
}

func newCursor(ops []component) *cursor {
	return &cursor{ops: ops}
}

func (c *cursor) next() (component, bool) {
	if c.i >= len(c.ops) {
		return component{}, false
	}
	comp := c.ops[c.i]
	c.i++
	return comp, true
}

// advance consumes n characters of cur. It returns the remainder of cur, or
// the following component when cur is used up.
func (c *cursor) advance(cur component, n int) (component, bool) {
	if n >= cur.length() {
		return c.next()
	}
	switch cur.kind {
	case kindInsert:
		cur.text = string([]rune(cur.text)[n:])
	default:
		cur.n -= n
	}
	return cur, true
}
