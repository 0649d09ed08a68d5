// Package btree implements a page-resident B+tree over a buffer pool: a
// node is a page, searches and inserts follow child pointers between
// pins, and splits or merges never hold more than a handful of pages
// pinned at once.
package btree

import (
	"cmp"
	"errors"

	"storagecore/pkg/bufferpool"
	"storagecore/pkg/extentstore"
)

// errRootPageMismatch signals a bufferpool that didn't hand Create its
// very first Alloc at page rootPN, which should never happen against a
// freshly created store.
var errRootPageMismatch = errors.New("btree: fresh tree's first page did not land at the expected root page id")

// rootPN is the fixed page id the tree's root node always lives at. The
// first page a fresh tree allocates (right after the extent store's
// reserved header extent) becomes this page, so opening a tree never
// needs to search for its root.
const rootPN int64 = 1

// Tree is a B+tree index over a buffer pool, generic in its key and
// value types.
type Tree[K cmp.Ordered, V any] struct {
	pool       bufferpool.BufferPool
	layout     layout
	keyCodec   Codec[K]
	valueCodec Codec[V]
	rootPN     int64
}

// Create makes a brand new index backed by a fresh file at path, with an
// empty leaf as its root.
func Create[K cmp.Ordered, V any](path string, extentSizeKB uint32, poolCapacity int, keyCodec Codec[K], valueCodec Codec[V]) (*Tree[K, V], error) {
	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: extentSizeKB}, false)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.New(store, poolCapacity)
	tree := &Tree[K, V]{
		pool:       pool,
		layout:     newLayout(pool.PageSize(), keyCodec.Size, valueCodec.Size),
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		rootPN:     rootPN,
	}
	root, err := tree.createLeaf()
	if err != nil {
		return nil, err
	}
	if root.pageID() != rootPN {
		return nil, errRootPageMismatch
	}
	if err := tree.pool.Unpin(root.pageID()); err != nil {
		return nil, err
	}
	return tree, nil
}

// Open reopens an existing index backed by the file at path.
func Open[K cmp.Ordered, V any](path string, poolCapacity int, keyCodec Codec[K], valueCodec Codec[V]) (*Tree[K, V], error) {
	store, err := extentstore.Open(path)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.New(store, poolCapacity)
	return &Tree[K, V]{
		pool:       pool,
		layout:     newLayout(pool.PageSize(), keyCodec.Size, valueCodec.Size),
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		rootPN:     rootPN,
	}, nil
}

// Close flushes all dirty pages and closes the backing store. The tree
// must have no pages pinned (e.g. no unclosed Cursor) when Close is
// called.
func (t *Tree[K, V]) Close() error {
	return t.pool.Close()
}

func (t *Tree[K, V]) minLeafElements() int64 {
	return (t.layout.maxLeafElements + 1) / 2
}

func (t *Tree[K, V]) minInternalElements() int64 {
	return (t.layout.maxInternalElements + 1) / 2
}

func (t *Tree[K, V]) createLeaf() (*leafNode[K, V], error) {
	h, err := t.pool.Alloc()
	if err != nil {
		return nil, err
	}
	writeNodeType(h.Data, leafNodeType)
	writeKeySize(h.Data, t.layout.keySize)
	writeElementSize(h.Data, t.layout.valueSize)
	writeNumElements(h.Data, 0)
	writePN(h.Data, rightSiblingOffset, noPN)
	return &leafNode[K, V]{tree: t, handler: h}, nil
}

func (t *Tree[K, V]) createInternal() (*internalNode[K, V], error) {
	h, err := t.pool.Alloc()
	if err != nil {
		return nil, err
	}
	writeNodeType(h.Data, internalNodeType)
	writeKeySize(h.Data, t.layout.keySize)
	writeElementSize(h.Data, pointerSize)
	writeNumElements(h.Data, 0)
	return &internalNode[K, V]{tree: t, handler: h}, nil
}

// Get returns the value associated with key, if present.
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	h, err := t.pool.Pin(t.rootPN)
	if err != nil {
		var zero V
		return zero, false, err
	}
	defer t.pool.Unpin(t.rootPN)
	root, err := loadNode(t, h)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return root.get(t, key)
}

// Insert adds or overwrites the entry for key.
func (t *Tree[K, V]) Insert(key K, value V) error {
	h, err := t.pool.Pin(t.rootPN)
	if err != nil {
		return err
	}
	root, err := loadNode(t, h)
	if err != nil {
		t.pool.Unpin(t.rootPN)
		return err
	}
	result, err := root.insert(t, key, value)
	if err != nil {
		t.pool.Unpin(t.rootPN)
		return err
	}
	if !result.did {
		return t.pool.Unpin(t.rootPN)
	}
	if err := t.growRoot(h, result); err != nil {
		t.pool.Unpin(t.rootPN)
		return err
	}
	return t.pool.Unpin(t.rootPN)
}

// growRoot handles the case where inserting into the root caused it to
// split: the root's own page keeps its identity (so other trees'
// references to page rootPN never go stale), but its former contents
// relocate to a freshly allocated page that becomes the split's left
// half, and the root page is reinitialized as a new internal node over
// the two halves.
func (t *Tree[K, V]) growRoot(rootHandler *bufferpool.BufferHandler, result split[K]) error {
	movedHandler, err := t.pool.Alloc()
	if err != nil {
		return err
	}
	copy(movedHandler.Data, rootHandler.Data)
	if err := t.pool.SetPageDirty(movedHandler.PageID); err != nil {
		return err
	}
	if err := t.pool.Unpin(movedHandler.PageID); err != nil {
		return err
	}

	writeNodeType(rootHandler.Data, internalNodeType)
	writeElementSize(rootHandler.Data, pointerSize)
	writeNumElements(rootHandler.Data, 2)
	newRoot := &internalNode[K, V]{tree: t, handler: rootHandler}
	newRoot.setChildAt(0, movedHandler.PageID)
	newRoot.setChildAt(1, result.rightPN)
	newRoot.setKeyAt(0, result.key)
	return t.pool.SetPageDirty(t.rootPN)
}

// Delete removes the entry for key, if present.
func (t *Tree[K, V]) Delete(key K) error {
	h, err := t.pool.Pin(t.rootPN)
	if err != nil {
		return err
	}
	root, err := loadNode(t, h)
	if err != nil {
		t.pool.Unpin(t.rootPN)
		return err
	}
	if _, err := root.remove(t, key); err != nil {
		t.pool.Unpin(t.rootPN)
		return err
	}
	if internalRoot, ok := root.(*internalNode[K, V]); ok && internalRoot.numElements() == 1 {
		if err := t.shrinkRoot(h, internalRoot); err != nil {
			t.pool.Unpin(t.rootPN)
			return err
		}
	}
	return t.pool.Unpin(t.rootPN)
}

// shrinkRoot handles the case where the root internal node was left with
// a single child after a merge: the child's contents are copied up into
// the root's page and the child's own page is released, shrinking the
// tree's height by one.
func (t *Tree[K, V]) shrinkRoot(rootHandler *bufferpool.BufferHandler, root *internalNode[K, V]) error {
	childPN := root.childAt(0)
	childHandler, err := t.pool.Pin(childPN)
	if err != nil {
		return err
	}
	copy(rootHandler.Data, childHandler.Data)
	if err := t.pool.SetPageDirty(t.rootPN); err != nil {
		return err
	}
	return t.pool.Release(childPN)
}
