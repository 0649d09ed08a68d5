package btree

import (
	"cmp"
	"sort"

	"storagecore/pkg/bufferpool"
)

// leafNode stores key/value entries in sorted order and a pointer to its
// right sibling, so a range scan can walk the leaf chain without
// revisiting internal nodes.
type leafNode[K cmp.Ordered, V any] struct {
	tree    *Tree[K, V]
	handler *bufferpool.BufferHandler
}

func (n *leafNode[K, V]) pageID() int64 { return n.handler.PageID }

func (n *leafNode[K, V]) numElements() int64 { return readNumElements(n.handler.Data) }

func (n *leafNode[K, V]) setNumElements(v int64) { writeNumElements(n.handler.Data, v) }

func (n *leafNode[K, V]) rightSibling() int64 {
	return readPN(n.handler.Data, rightSiblingOffset)
}

func (n *leafNode[K, V]) setRightSibling(pn int64) {
	writePN(n.handler.Data, rightSiblingOffset, pn)
}

func (n *leafNode[K, V]) keyAt(index int64) K {
	l := n.tree.layout
	return n.tree.keyCodec.Get(n.handler.Data[l.entryPos(index) : l.entryPos(index)+l.keySize])
}

func (n *leafNode[K, V]) valueAt(index int64) V {
	l := n.tree.layout
	start := l.entryPos(index) + l.keySize
	return n.tree.valueCodec.Get(n.handler.Data[start : start+l.valueSize])
}

func (n *leafNode[K, V]) setEntryAt(index int64, key K, value V) {
	l := n.tree.layout
	start := l.entryPos(index)
	n.tree.keyCodec.Put(n.handler.Data[start:start+l.keySize], key)
	n.tree.valueCodec.Put(n.handler.Data[start+l.keySize:start+l.entrySize], value)
}

// search returns the first index whose key is >= the target, or
// numElements() if every key is smaller.
func (n *leafNode[K, V]) search(key K) int64 {
	numElements := n.numElements()
	return int64(sort.Search(int(numElements), func(i int) bool {
		return n.keyAt(int64(i)) >= key
	}))
}

func (n *leafNode[K, V]) get(tree *Tree[K, V], key K) (V, bool, error) {
	idx := n.search(key)
	if idx >= n.numElements() || n.keyAt(idx) != key {
		var zero V
		return zero, false, nil
	}
	return n.valueAt(idx), true, nil
}

func (n *leafNode[K, V]) insertNoSplit(key K, value V) {
	idx := n.search(key)
	for i := n.numElements() - 1; i >= idx; i-- {
		n.setEntryAt(i+1, n.keyAt(i), n.valueAt(i))
	}
	n.setEntryAt(idx, key, value)
	n.setNumElements(n.numElements() + 1)
}

func (n *leafNode[K, V]) insert(tree *Tree[K, V], key K, value V) (split[K], error) {
	idx := n.search(key)
	if idx < n.numElements() && n.keyAt(idx) == key {
		n.setEntryAt(idx, key, value)
		if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
			return split[K]{}, err
		}
		return split[K]{}, nil
	}

	if n.numElements() < tree.layout.maxLeafElements {
		n.insertNoSplit(key, value)
		if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
			return split[K]{}, err
		}
		return split[K]{}, nil
	}

	sib, err := tree.createLeaf()
	if err != nil {
		return split[K]{}, err
	}
	defer tree.pool.Unpin(sib.pageID())

	mid := n.numElements() / 2
	for i := mid; i < n.numElements(); i++ {
		sib.setEntryAt(i-mid, n.keyAt(i), n.valueAt(i))
	}
	sib.setNumElements(n.numElements() - mid)
	n.setNumElements(mid)
	sib.setRightSibling(n.rightSibling())
	n.setRightSibling(sib.pageID())

	if key < sib.keyAt(0) {
		n.insertNoSplit(key, value)
	} else {
		sib.insertNoSplit(key, value)
	}

	if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
		return split[K]{}, err
	}
	if err := tree.pool.SetPageDirty(sib.pageID()); err != nil {
		return split[K]{}, err
	}
	return split[K]{did: true, key: sib.keyAt(0), leftPN: n.pageID(), rightPN: sib.pageID()}, nil
}

func (n *leafNode[K, V]) remove(tree *Tree[K, V], key K) (removal[K], error) {
	idx := n.search(key)
	if idx >= n.numElements() || n.keyAt(idx) != key {
		return removal[K]{}, ErrKeyNotFound
	}
	n.removeAt(idx)
	if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
		return removal[K]{}, err
	}

	result := removal[K]{underflow: n.numElements() < tree.minLeafElements()}
	if idx == 0 && n.numElements() > 0 {
		result.minChanged = true
		result.newMin = n.keyAt(0)
	}
	return result, nil
}

// removeAt shifts every entry after idx left by one, dropping idx.
func (n *leafNode[K, V]) removeAt(idx int64) {
	for i := idx; i < n.numElements()-1; i++ {
		n.setEntryAt(i, n.keyAt(i+1), n.valueAt(i+1))
	}
	n.setNumElements(n.numElements() - 1)
}

// absorbRight merges sib's entries onto the end of n and unlinks sib from
// the leaf chain, destroying its page.
func (n *leafNode[K, V]) absorbRight(tree *Tree[K, V], sib *leafNode[K, V]) error {
	base := n.numElements()
	for i := int64(0); i < sib.numElements(); i++ {
		n.setEntryAt(base+i, sib.keyAt(i), sib.valueAt(i))
	}
	n.setNumElements(base + sib.numElements())
	n.setRightSibling(sib.rightSibling())
	if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
		return err
	}
	return sib.destroy(tree)
}

func (n *leafNode[K, V]) destroy(tree *Tree[K, V]) error {
	return tree.pool.Release(n.pageID())
}
