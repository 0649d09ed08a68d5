package btree

import (
	"cmp"
	"sort"

	"storagecore/pkg/bufferpool"
)

// internalNode stores routing keys and child page ids. numElements counts
// live CHILD pointers; there is always one fewer live key than child.
type internalNode[K cmp.Ordered, V any] struct {
	tree    *Tree[K, V]
	handler *bufferpool.BufferHandler
}

func (n *internalNode[K, V]) pageID() int64 { return n.handler.PageID }

func (n *internalNode[K, V]) numElements() int64 { return readNumElements(n.handler.Data) }

func (n *internalNode[K, V]) setNumElements(v int64) { writeNumElements(n.handler.Data, v) }

func (n *internalNode[K, V]) numKeys() int64 {
	if n.numElements() == 0 {
		return 0
	}
	return n.numElements() - 1
}

func (n *internalNode[K, V]) keyAt(index int64) K {
	l := n.tree.layout
	pos := l.keyPos(index)
	return n.tree.keyCodec.Get(n.handler.Data[pos : pos+l.keySize])
}

func (n *internalNode[K, V]) setKeyAt(index int64, key K) {
	l := n.tree.layout
	pos := l.keyPos(index)
	n.tree.keyCodec.Put(n.handler.Data[pos:pos+l.keySize], key)
}

func (n *internalNode[K, V]) childAt(index int64) int64 {
	return readPN(n.handler.Data, n.tree.layout.pnPos(index))
}

func (n *internalNode[K, V]) setChildAt(index int64, pn int64) {
	writePN(n.handler.Data, n.tree.layout.pnPos(index), pn)
}

// search returns the index of the child that key routes to.
func (n *internalNode[K, V]) search(key K) int64 {
	numKeys := n.numKeys()
	return int64(sort.Search(int(numKeys), func(i int) bool {
		return n.keyAt(int64(i)) > key
	}))
}

func (n *internalNode[K, V]) pinChild(tree *Tree[K, V], index int64) (node[K, V], error) {
	handler, err := tree.pool.Pin(n.childAt(index))
	if err != nil {
		return nil, err
	}
	child, err := loadNode(tree, handler)
	if err != nil {
		tree.pool.Unpin(handler.PageID)
		return nil, err
	}
	return child, nil
}

func (n *internalNode[K, V]) get(tree *Tree[K, V], key K) (V, bool, error) {
	childIdx := n.search(key)
	child, err := n.pinChild(tree, childIdx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	defer tree.pool.Unpin(child.pageID())
	return child.get(tree, key)
}

// insertChildNoSplit inserts key at keys-index keyIdx and childPN right
// after the child it split from, without checking for overflow.
func (n *internalNode[K, V]) insertChildNoSplit(keyIdx int64, key K, childPN int64) {
	for i := n.numKeys() - 1; i >= keyIdx; i-- {
		n.setKeyAt(i+1, n.keyAt(i))
	}
	for i := n.numElements() - 1; i >= keyIdx+1; i-- {
		n.setChildAt(i+1, n.childAt(i))
	}
	n.setKeyAt(keyIdx, key)
	n.setChildAt(keyIdx+1, childPN)
	n.setNumElements(n.numElements() + 1)
}

// removeFirstChild drops key 0 and child 0, shifting everything else down
// by one. Used when redistributing a child to a left-hand sibling that
// underflowed.
func (n *internalNode[K, V]) removeFirstChild() {
	for i := int64(0); i < n.numKeys()-1; i++ {
		n.setKeyAt(i, n.keyAt(i+1))
	}
	for i := int64(0); i < n.numElements()-1; i++ {
		n.setChildAt(i, n.childAt(i+1))
	}
	n.setNumElements(n.numElements() - 1)
}

// removeLastChild drops the last child (and, implicitly, the key that
// preceded it). Used when redistributing a child to a right-hand sibling
// that underflowed.
func (n *internalNode[K, V]) removeLastChild() {
	n.setNumElements(n.numElements() - 1)
}

// prependChild inserts key at keys-index 0 and childPN as the new child 0,
// shifting every existing key and child up by one. childPN's former
// neighbor ends up to its right, separated by key.
func (n *internalNode[K, V]) prependChild(key K, childPN int64) {
	for i := n.numKeys() - 1; i >= 0; i-- {
		n.setKeyAt(i+1, n.keyAt(i))
	}
	for i := n.numElements() - 1; i >= 0; i-- {
		n.setChildAt(i+1, n.childAt(i))
	}
	n.setKeyAt(0, key)
	n.setChildAt(0, childPN)
	n.setNumElements(n.numElements() + 1)
}

func (n *internalNode[K, V]) insert(tree *Tree[K, V], key K, value V) (split[K], error) {
	childIdx := n.search(key)
	child, err := n.pinChild(tree, childIdx)
	if err != nil {
		return split[K]{}, err
	}
	result, err := child.insert(tree, key, value)
	tree.pool.Unpin(child.pageID())
	if err != nil {
		return split[K]{}, err
	}
	if !result.did {
		return split[K]{}, nil
	}

	insertPos := n.search(result.key)

	if n.numElements() < tree.layout.maxInternalElements {
		n.insertChildNoSplit(insertPos, result.key, result.rightPN)
		if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
			return split[K]{}, err
		}
		return split[K]{}, nil
	}

	sib, err := tree.createInternal()
	if err != nil {
		return split[K]{}, err
	}
	defer tree.pool.Unpin(sib.pageID())

	mid := n.numElements() / 2
	promotedKey := n.keyAt(mid - 1)
	for i := mid; i < n.numElements(); i++ {
		sib.setChildAt(i-mid, n.childAt(i))
	}
	for i := mid; i < n.numElements()-1; i++ {
		sib.setKeyAt(i-mid, n.keyAt(i))
	}
	sib.setNumElements(n.numElements() - mid)
	n.setNumElements(mid)

	if insertPos < mid {
		n.insertChildNoSplit(insertPos, result.key, result.rightPN)
	} else {
		sib.insertChildNoSplit(insertPos-mid, result.key, result.rightPN)
	}

	if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
		return split[K]{}, err
	}
	if err := tree.pool.SetPageDirty(sib.pageID()); err != nil {
		return split[K]{}, err
	}
	return split[K]{did: true, key: promotedKey, leftPN: n.pageID(), rightPN: sib.pageID()}, nil
}

func (n *internalNode[K, V]) remove(tree *Tree[K, V], key K) (removal[K], error) {
	childIdx := n.search(key)
	child, err := n.pinChild(tree, childIdx)
	if err != nil {
		return removal[K]{}, err
	}
	res, err := child.remove(tree, key)
	tree.pool.Unpin(child.pageID())
	if err != nil {
		return removal[K]{}, err
	}

	propagateUp := res.minChanged && childIdx == 0
	if res.minChanged && childIdx > 0 {
		n.setKeyAt(childIdx-1, res.newMin)
		if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
			return removal[K]{}, err
		}
	}

	if res.underflow {
		if err := n.mergeChild(tree, childIdx); err != nil {
			return removal[K]{}, err
		}
	}

	out := removal[K]{underflow: n.numElements() < tree.minInternalElements()}
	if propagateUp {
		out.minChanged = true
		out.newMin = res.newMin
	}
	return out, nil
}

// mergeChild fixes up the underflowing child at childIdx by pairing it
// with an adjacent sibling (preferring the right sibling, falling back to
// the left): if the pair's combined element count fits in one page they're
// merged and the separator key and absorbed child pointer are removed from
// n, otherwise a single element is redistributed across the pair and the
// separator key is updated in place, leaving n's own child count unchanged.
func (n *internalNode[K, V]) mergeChild(tree *Tree[K, V], childIdx int64) error {
	var leftIdx int64
	if childIdx < n.numElements()-1 {
		leftIdx = childIdx
	} else {
		leftIdx = childIdx - 1
	}
	rightIdx := leftIdx + 1
	separator := n.keyAt(leftIdx)
	underflowIsLeft := childIdx == leftIdx

	leftHandler, err := tree.pool.Pin(n.childAt(leftIdx))
	if err != nil {
		return err
	}
	rightHandler, err := tree.pool.Pin(n.childAt(rightIdx))
	if err != nil {
		tree.pool.Unpin(leftHandler.PageID)
		return err
	}
	leftNode, err := loadNode(tree, leftHandler)
	if err != nil {
		tree.pool.Unpin(leftHandler.PageID)
		tree.pool.Unpin(rightHandler.PageID)
		return err
	}
	rightNode, err := loadNode(tree, rightHandler)
	if err != nil {
		tree.pool.Unpin(leftHandler.PageID)
		tree.pool.Unpin(rightHandler.PageID)
		return err
	}

	var newSeparator K
	merged := false

	switch left := leftNode.(type) {
	case *leafNode[K, V]:
		right := rightNode.(*leafNode[K, V])
		if left.numElements()+right.numElements() <= tree.layout.maxLeafElements {
			if err := left.absorbRight(tree, right); err != nil {
				tree.pool.Unpin(leftHandler.PageID)
				return err
			}
			merged = true
		} else if underflowIsLeft {
			movedKey, movedValue := right.keyAt(0), right.valueAt(0)
			right.removeAt(0)
			left.insertNoSplit(movedKey, movedValue)
			newSeparator = right.keyAt(0)
			if err := tree.pool.SetPageDirty(left.pageID()); err != nil {
				return err
			}
			if err := tree.pool.SetPageDirty(right.pageID()); err != nil {
				return err
			}
		} else {
			last := left.numElements() - 1
			movedKey, movedValue := left.keyAt(last), left.valueAt(last)
			left.removeAt(last)
			right.insertNoSplit(movedKey, movedValue)
			newSeparator = movedKey
			if err := tree.pool.SetPageDirty(left.pageID()); err != nil {
				return err
			}
			if err := tree.pool.SetPageDirty(right.pageID()); err != nil {
				return err
			}
		}
	case *internalNode[K, V]:
		right := rightNode.(*internalNode[K, V])
		if left.numElements()+right.numElements() <= tree.layout.maxInternalElements {
			if err := left.absorbRight(tree, right, separator); err != nil {
				tree.pool.Unpin(leftHandler.PageID)
				return err
			}
			merged = true
		} else if underflowIsLeft {
			movedChild := right.childAt(0)
			newSeparator = right.keyAt(0)
			right.removeFirstChild()
			left.insertChildNoSplit(left.numKeys(), separator, movedChild)
			if err := tree.pool.SetPageDirty(left.pageID()); err != nil {
				return err
			}
			if err := tree.pool.SetPageDirty(right.pageID()); err != nil {
				return err
			}
		} else {
			lastChild := left.numElements() - 1
			movedChild := left.childAt(lastChild)
			newSeparator = left.keyAt(lastChild - 1)
			left.removeLastChild()
			right.prependChild(separator, movedChild)
			if err := tree.pool.SetPageDirty(left.pageID()); err != nil {
				return err
			}
			if err := tree.pool.SetPageDirty(right.pageID()); err != nil {
				return err
			}
		}
	}

	if merged {
		if err := tree.pool.Unpin(leftHandler.PageID); err != nil {
			return err
		}
		for i := leftIdx; i < n.numKeys()-1; i++ {
			n.setKeyAt(i, n.keyAt(i+1))
		}
		for i := rightIdx; i < n.numElements()-1; i++ {
			n.setChildAt(i, n.childAt(i+1))
		}
		n.setNumElements(n.numElements() - 1)
		return tree.pool.SetPageDirty(n.pageID())
	}

	n.setKeyAt(leftIdx, newSeparator)
	if err := tree.pool.Unpin(leftHandler.PageID); err != nil {
		tree.pool.Unpin(rightHandler.PageID)
		return err
	}
	if err := tree.pool.Unpin(rightHandler.PageID); err != nil {
		return err
	}
	return tree.pool.SetPageDirty(n.pageID())
}

// absorbRight merges sib's keys and children onto the end of n, with
// separator reinserted as the key between n's former last child and
// sib's former first child.
func (n *internalNode[K, V]) absorbRight(tree *Tree[K, V], sib *internalNode[K, V], separator K) error {
	baseChildren := n.numElements()
	baseKeys := n.numKeys()
	n.setKeyAt(baseKeys, separator)
	for i := int64(0); i < sib.numKeys(); i++ {
		n.setKeyAt(baseKeys+1+i, sib.keyAt(i))
	}
	for i := int64(0); i < sib.numElements(); i++ {
		n.setChildAt(baseChildren+i, sib.childAt(i))
	}
	n.setNumElements(baseChildren + sib.numElements())
	if err := tree.pool.SetPageDirty(n.pageID()); err != nil {
		return err
	}
	return sib.destroy(tree)
}

func (n *internalNode[K, V]) destroy(tree *Tree[K, V]) error {
	return tree.pool.Release(n.pageID())
}
