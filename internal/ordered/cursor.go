package ordered

import "go-chat-history/internal/messageid"

// Cursor is a position in an Index. It keeps the path from the root to the
// current node, so it must not outlive a change of the index: any use after
// Insert or Erase panics.
type Cursor struct {
	x     *Index
	gen   uint64
	stack []*node
}

// Lookup points a cursor at the greatest identifier not exceeding id. The
// cursor is empty if every identifier is greater.
func (x *Index) Lookup(id messageid.ID) *Cursor {
	x.checkID(id, "lookup")
	c := &Cursor{x: x, gen: x.gen}
	last := 0
	for n := x.root; n != nil; {
		c.stack = append(c.stack, n)
		if n.id <= id {
			last = len(c.stack)
			n = n.right
		} else {
			n = n.left
		}
	}
	c.stack = c.stack[:last]
	return c
}

// ceiling points a cursor at the smallest identifier not below id.
func (x *Index) ceiling(id messageid.ID) *Cursor {
	c := &Cursor{x: x, gen: x.gen}
	last := 0
	for n := x.root; n != nil; {
		c.stack = append(c.stack, n)
		if n.id >= id {
			last = len(c.stack)
			n = n.left
		} else {
			n = n.right
		}
	}
	c.stack = c.stack[:last]
	return c
}

func (c *Cursor) Valid() bool {
	c.check()
	return len(c.stack) != 0
}

// ID returns the current identifier, or messageid.Invalid for an empty cursor.
func (c *Cursor) ID() messageid.ID {
	if n := c.current(); n != nil {
		return n.id
	}
	return messageid.Invalid
}

func (c *Cursor) HavePrevious() bool {
	n := c.current()
	return n != nil && n.havePrevious
}

func (c *Cursor) HaveNext() bool {
	n := c.current()
	return n != nil && n.haveNext
}

func (c *Cursor) Clone() *Cursor {
	c.check()
	return &Cursor{x: c.x, gen: c.gen, stack: append([]*node(nil), c.stack...)}
}

// Next moves to the following identifier. The cursor becomes empty when the
// current one is not linked forward, even if greater identifiers are cached.
func (c *Cursor) Next() {
	cur := c.current()
	if cur == nil {
		return
	}
	if !cur.haveNext {
		c.stack = c.stack[:0]
		return
	}
	if cur.right == nil {
		for {
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) == 0 {
				return
			}
			parent := c.stack[len(c.stack)-1]
			if parent.left == cur {
				return
			}
			cur = parent
		}
	}
	for n := cur.right; n != nil; n = n.left {
		c.stack = append(c.stack, n)
	}
}

// Prev is the mirror of Next.
func (c *Cursor) Prev() {
	cur := c.current()
	if cur == nil {
		return
	}
	if !cur.havePrevious {
		c.stack = c.stack[:0]
		return
	}
	if cur.left == nil {
		for {
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) == 0 {
				return
			}
			parent := c.stack[len(c.stack)-1]
			if parent.right == cur {
				return
			}
			cur = parent
		}
	}
	for n := cur.left; n != nil; n = n.right {
		c.stack = append(c.stack, n)
	}
}

func (c *Cursor) current() *node {
	c.check()
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

func (c *Cursor) check() {
	if c.gen != c.x.gen {
		violation("cursor used after the index was modified")
	}
}
