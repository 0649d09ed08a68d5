package btree

import (
	"cmp"
	"os"
	"strconv"
	"testing"
)

// tempTreeFile returns a path to a not-yet-created file in the test's
// temporary directory.
func tempTreeFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return name
}

// collectLeafDepths descends from pageID, returning the depth (relative to
// pageID) of every leaf underneath it and failing the test if any node's
// keys aren't strictly ascending or any internal node has a live child
// pointer that's INVALID_PAGE_ID.
func collectLeafDepths[K cmp.Ordered, V any](t *testing.T, tree *Tree[K, V], pageID int64, depth int64) []int64 {
	t.Helper()
	h, err := tree.pool.Pin(pageID)
	if err != nil {
		t.Fatalf("Pin(%d): %s", pageID, err)
	}
	defer tree.pool.Unpin(pageID)
	n, err := loadNode(tree, h)
	if err != nil {
		t.Fatalf("loadNode(%d): %s", pageID, err)
	}

	switch node := n.(type) {
	case *leafNode[K, V]:
		for i := int64(1); i < node.numElements(); i++ {
			if !(node.keyAt(i-1) < node.keyAt(i)) {
				t.Errorf("leaf %d: keys not strictly ascending at index %d", pageID, i)
			}
		}
		return []int64{depth}
	case *internalNode[K, V]:
		for i := int64(1); i < node.numKeys(); i++ {
			if !(node.keyAt(i-1) < node.keyAt(i)) {
				t.Errorf("internal %d: keys not strictly ascending at index %d", pageID, i)
			}
		}
		var depths []int64
		for i := int64(0); i < node.numElements(); i++ {
			child := node.childAt(i)
			if child == noPN {
				t.Errorf("internal %d: child %d is INVALID_PAGE_ID within numElements", pageID, i)
				continue
			}
			depths = append(depths, collectLeafDepths[K, V](t, tree, child, depth+1)...)
		}
		return depths
	default:
		t.Fatalf("unrecognized node kind at page %d", pageID)
		return nil
	}
}

// assertBalanced checks that every leaf sits at equal depth and that keys
// are strictly ascending within each node, by walking the whole tree from
// the root.
func assertBalanced[K cmp.Ordered, V any](t *testing.T, tree *Tree[K, V]) {
	t.Helper()
	depths := collectLeafDepths[K, V](t, tree, tree.rootPN, 0)
	for _, d := range depths {
		if d != depths[0] {
			t.Errorf("leaves at unequal depths: %v", depths)
			break
		}
	}
}

// smallValueCodec pads values to a large enough fixed width that a 4 KiB
// extent only fits a handful of leaf entries, so a modest number of
// insertions is enough to exercise splits and root growth.
var smallValueCodec = FixedStringCodec(300)

func newSmallTree(t *testing.T) *Tree[int64, string] {
	t.Helper()
	path := tempTreeFile(t)
	tree, err := Create(path, 4, 64, Int64Codec, smallValueCodec)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

// tinyValueCodec sizes leaf capacity to exactly 3 elements per page (the
// smallest useful leaf capacity), so a run of inserts and deletes
// repeatedly drives siblings right up against the redistribute-vs-merge
// boundary in mergeChild.
var tinyValueCodec = FixedStringCodec(1349)

func newTinyTree(t *testing.T) *Tree[int64, string] {
	t.Helper()
	path := tempTreeFile(t)
	tree, err := Create(path, 4, 64, Int64Codec, tinyValueCodec)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

// TestUnderflowRedistributesRatherThanOverflowing exercises mergeChild's
// choice between borrowing a single entry from a full sibling and merging
// into it outright: with 3-element leaves, a 2-element leaf next to a
// full 3-element one overflows a straight merge (1+3 after a delete, or
// 2+3 before one), so mergeChild must redistribute instead whenever the
// combined count would exceed capacity.
func TestUnderflowRedistributesRatherThanOverflowing(t *testing.T) {
	t.Parallel()
	tree := newTinyTree(t)

	const n = 40
	for i := int64(0); i < n; i++ {
		key := (i * 13) % n // coprime with n: visits every key exactly once
		if err := tree.Insert(key, strconv.FormatInt(key, 10)); err != nil {
			t.Fatalf("Insert(%d): %s", key, err)
		}
		assertBalanced[int64, string](t, tree)
	}

	for i := int64(0); i < n-2; i++ {
		if err := tree.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %s", i, err)
		}
		assertBalanced[int64, string](t, tree)
	}

	for i := int64(n - 2); i < n; i++ {
		if _, ok, err := tree.Get(i); err != nil || !ok {
			t.Errorf("Get(%d) after mass delete = (ok=%v, err=%v), want (true, nil)", i, ok, err)
		}
	}
}

func TestInvariantsHoldAcrossInsertsAndDeletes(t *testing.T) {
	t.Parallel()
	tree := newSmallTree(t)

	const n = 60
	for i := int64(0); i < n; i++ {
		key := (i * 37) % n // scramble insertion order
		if err := tree.Insert(key, strconv.FormatInt(key, 10)); err != nil {
			t.Fatalf("Insert(%d): %s", key, err)
		}
		assertBalanced[int64, string](t, tree)
	}

	for i := int64(0); i < n; i += 2 {
		if err := tree.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %s", i, err)
		}
		assertBalanced[int64, string](t, tree)
	}
}
