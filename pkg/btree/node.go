package btree

import (
	"cmp"
	"encoding/binary"
	"errors"

	"storagecore/pkg/bufferpool"
)

// nodeType identifies whether a page holds a leaf or an internal node.
type nodeType byte

const (
	internalNodeType nodeType = 0
	leafNodeType     nodeType = 1
)

// Fixed header layout shared by both node kinds: a one-byte type tag, the
// key/element sizes the page was built with (checked against the tree's
// codecs on every load so a page built for a different K/V never gets
// silently misinterpreted), and the node's live element count.
const (
	nodeTypeOffset      int64 = 0
	nodeTypeSize        int64 = 1
	keySizeOffset       int64 = nodeTypeOffset + nodeTypeSize
	keySizeFieldSize    int64 = 4
	elementSizeOffset   int64 = keySizeOffset + keySizeFieldSize
	elementSizeField    int64 = 4
	numElementsOffset   int64 = elementSizeOffset + elementSizeField
	numElementsSize     int64 = 8
	nodeHeaderSize      int64 = numElementsOffset + numElementsSize
)

// pointerSize is the width of a page id as stored on a page: an internal
// node's child pointers and a leaf's right-sibling pointer.
const pointerSize int64 = 8

// Leaf nodes additionally store the page id of their right sibling, to
// support chained range iteration without walking back up the tree.
const (
	rightSiblingOffset int64 = nodeHeaderSize
	rightSiblingSize   int64 = 8
	leafHeaderSize     int64 = rightSiblingOffset + rightSiblingSize
)

// Internal nodes use the bare node header; their keys and child pointers
// follow directly.
const internalHeaderSize int64 = nodeHeaderSize

// noPN marks the absence of a sibling or child pointer.
const noPN int64 = -1

var (
	// ErrDuplicateKey is not returned by any operation in this package:
	// Insert always overwrites the value of an existing key.
	ErrDuplicateKey = errors.New("btree: duplicate key")
	// ErrKeyNotFound is returned when a lookup or delete targets a key
	// that isn't present.
	ErrKeyNotFound = errors.New("btree: key not found")
	// ErrInvalidRange is not returned by any operation in this package;
	// the tree has no bounded range query, only the full-scan Cursor.
	ErrInvalidRange = errors.New("btree: startKey must be less than endKey")
	// ErrCorruptedPage is returned when a loaded page's stored key/element
	// sizes don't match the tree's K/V codecs.
	ErrCorruptedPage = errors.New("btree: corrupted page: key/element size mismatch")
)

// layout precomputes the sizing arithmetic for one key/value type pair
// over one page size, since Go generics can't express it as compile-time
// constants.
type layout struct {
	pageSize  int64
	keySize   int64
	valueSize int64

	maxLeafElements int64
	entrySize       int64

	maxInternalElements int64
	keysRegionSize      int64
}

func newLayout(pageSize int64, keySize, valueSize int) layout {
	l := layout{
		pageSize:  pageSize,
		keySize:   int64(keySize),
		valueSize: int64(valueSize),
	}
	l.entrySize = l.keySize + l.valueSize
	l.maxLeafElements = (pageSize - leafHeaderSize) / l.entrySize

	ptrSpace := pageSize - internalHeaderSize
	l.maxInternalElements = (ptrSpace + l.keySize) / (l.keySize + pointerSize)
	l.keysRegionSize = l.keySize * (l.maxInternalElements - 1)
	return l
}

func (l layout) entryPos(index int64) int64 {
	return leafHeaderSize + index*l.entrySize
}

func (l layout) keyPos(index int64) int64 {
	return internalHeaderSize + index*l.keySize
}

func (l layout) pnPos(index int64) int64 {
	return internalHeaderSize + l.keysRegionSize + index*pointerSize
}

// split carries the information an overflowing node's caller needs to
// route the promoted key and new sibling into the parent.
type split[K cmp.Ordered] struct {
	did     bool
	key     K
	leftPN  int64
	rightPN int64
}

// removal carries the information an underflowing child's caller needs to
// fix up its own separator key or trigger a merge.
type removal[K cmp.Ordered] struct {
	minChanged bool
	newMin     K
	underflow  bool
}

// node is the shared interface implemented by *leafNode[K,V] and
// *internalNode[K,V]. All methods operate on an already-pinned page and
// leave pinning/unpinning to their callers.
type node[K cmp.Ordered, V any] interface {
	pageID() int64
	numElements() int64
	search(key K) int64
	get(tree *Tree[K, V], key K) (V, bool, error)
	insert(tree *Tree[K, V], key K, value V) (split[K], error)
	remove(tree *Tree[K, V], key K) (removal[K], error)
	destroy(tree *Tree[K, V]) error
}

// readNodeType reads the type tag at the front of a page's data.
func readNodeType(data []byte) nodeType {
	return nodeType(data[nodeTypeOffset])
}

func writeNodeType(data []byte, t nodeType) {
	data[nodeTypeOffset] = byte(t)
}

// readKeySize/readElementSize report the key/element widths a page was
// built with, for the corruption check on load; writeKeySize/writeElementSize
// stamp them in at creation time.
func readKeySize(data []byte) int64 {
	return int64(binary.BigEndian.Uint32(data[keySizeOffset : keySizeOffset+keySizeFieldSize]))
}

func writeKeySize(data []byte, n int64) {
	binary.BigEndian.PutUint32(data[keySizeOffset:keySizeOffset+keySizeFieldSize], uint32(n))
}

func readElementSize(data []byte) int64 {
	return int64(binary.BigEndian.Uint32(data[elementSizeOffset : elementSizeOffset+elementSizeField]))
}

func writeElementSize(data []byte, n int64) {
	binary.BigEndian.PutUint32(data[elementSizeOffset:elementSizeOffset+elementSizeField], uint32(n))
}

func readNumElements(data []byte) int64 {
	return int64(binary.BigEndian.Uint64(data[numElementsOffset : numElementsOffset+numElementsSize]))
}

func writeNumElements(data []byte, n int64) {
	binary.BigEndian.PutUint64(data[numElementsOffset:numElementsOffset+numElementsSize], uint64(n))
}

func readPN(data []byte, offset int64) int64 {
	return int64(binary.BigEndian.Uint64(data[offset : offset+8]))
}

func writePN(data []byte, offset int64, pn int64) {
	binary.BigEndian.PutUint64(data[offset:offset+8], uint64(pn))
}

// loadNode wraps an already-pinned handler in the node implementation its
// type tag says it is, after checking the page's stored key/element sizes
// against what the tree's codecs expect. On a mismatch it returns
// ErrCorruptedPage; the caller remains responsible for unpinning handler,
// since loadNode never took the pin.
func loadNode[K cmp.Ordered, V any](tree *Tree[K, V], handler *bufferpool.BufferHandler) (node[K, V], error) {
	data := handler.Data
	wantKeySize := tree.layout.keySize
	wantElementSize := tree.layout.valueSize
	if readNodeType(data) == internalNodeType {
		wantElementSize = pointerSize
	}
	if readKeySize(data) != wantKeySize || readElementSize(data) != wantElementSize {
		return nil, ErrCorruptedPage
	}
	if readNodeType(data) == leafNodeType {
		return &leafNode[K, V]{tree: tree, handler: handler}, nil
	}
	return &internalNode[K, V]{tree: tree, handler: handler}, nil
}
