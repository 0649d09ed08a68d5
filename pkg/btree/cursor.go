package btree

import (
	"cmp"
	"errors"
)

// ErrIteratorExhausted is returned by Next once the leaf chain has been
// walked to its end.
var ErrIteratorExhausted = errors.New("btree: iterator exhausted")

// Cursor walks a tree's leaf chain in ascending key order. It pins at
// most one leaf page at a time; the page pinned when construction or a
// call to Next returns is released either by the next call that moves
// the cursor off it, or by Close.
type Cursor[K cmp.Ordered, V any] struct {
	tree   *Tree[K, V]
	node   *leafNode[K, V]
	idx    int64
	closed bool
}

// NewCursor returns a cursor positioned at the tree's leftmost entry.
func (t *Tree[K, V]) NewCursor() (*Cursor[K, V], error) {
	h, err := t.pool.Pin(t.rootPN)
	if err != nil {
		return nil, err
	}
	cur, err := loadNode(t, h)
	if err != nil {
		t.pool.Unpin(t.rootPN)
		return nil, err
	}
	for {
		internal, ok := cur.(*internalNode[K, V])
		if !ok {
			break
		}
		child, err := internal.pinChild(t, 0)
		if err != nil {
			t.pool.Unpin(cur.pageID())
			return nil, err
		}
		if err := t.pool.Unpin(cur.pageID()); err != nil {
			t.pool.Unpin(child.pageID())
			return nil, err
		}
		cur = child
	}

	c := &Cursor[K, V]{tree: t, node: cur.(*leafNode[K, V])}
	if err := c.skipEmpty(); err != nil {
		t.pool.Unpin(c.node.pageID())
		return nil, err
	}
	return c, nil
}

// HasNext reports whether a call to Next would return an entry. Since a
// leaf is only ever left empty by a delete, and delete's merge step
// keeps every reachable leaf non-empty except possibly the last one it
// wrote to, this can be wrong in that one corner case; Next itself is
// always authoritative.
func (c *Cursor[K, V]) HasNext() bool {
	if c.closed {
		return false
	}
	if c.idx < c.node.numElements() {
		return true
	}
	return c.node.rightSibling() != noPN
}

// Next returns the cursor's current entry and advances past it,
// crossing into the next leaf if the current one is exhausted. It
// returns ErrIteratorExhausted once the chain has been fully walked.
func (c *Cursor[K, V]) Next() (K, V, error) {
	var zeroK K
	var zeroV V
	if c.closed {
		return zeroK, zeroV, ErrIteratorExhausted
	}
	if c.idx >= c.node.numElements() {
		if err := c.moveToNextLeaf(); err != nil {
			return zeroK, zeroV, err
		}
		if err := c.skipEmpty(); err != nil {
			return zeroK, zeroV, err
		}
	}
	key := c.node.keyAt(c.idx)
	value := c.node.valueAt(c.idx)
	c.idx++
	return key, value, nil
}

// Close releases the page the cursor is currently holding, including the
// last leaf after the cursor has run out. It is a no-op if called more
// than once.
func (c *Cursor[K, V]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.tree.pool.Unpin(c.node.pageID())
}

// moveToNextLeaf pins the current leaf's right sibling and unpins the
// current leaf, or returns ErrIteratorExhausted if there is none.
func (c *Cursor[K, V]) moveToNextLeaf() error {
	nextPN := c.node.rightSibling()
	if nextPN == noPN {
		return ErrIteratorExhausted
	}
	h, err := c.tree.pool.Pin(nextPN)
	if err != nil {
		return err
	}
	next, err := loadNode(c.tree, h)
	if err != nil {
		c.tree.pool.Unpin(nextPN)
		return err
	}
	if err := c.tree.pool.Unpin(c.node.pageID()); err != nil {
		return err
	}
	c.node = next.(*leafNode[K, V])
	c.idx = 0
	return nil
}

// skipEmpty advances past any run of empty leaves (only possible right
// after a delete leaves a leaf with zero live entries pending its
// parent's merge fix-up), stopping at a leaf with at least one entry or
// at the last leaf in the chain.
func (c *Cursor[K, V]) skipEmpty() error {
	for c.node.numElements() == 0 {
		if err := c.moveToNextLeaf(); err != nil {
			if errors.Is(err, ErrIteratorExhausted) {
				return nil
			}
			return err
		}
	}
	return nil
}
