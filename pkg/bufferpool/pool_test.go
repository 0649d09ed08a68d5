package bufferpool_test

import (
	"os"
	"testing"

	"storagecore/pkg/bufferpool"
	"storagecore/pkg/extentstore"
)

func newTestPool(t *testing.T, capacity int) *bufferpool.Pool {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	store, err := extentstore.Create(name, extentstore.Config{ExtentSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("extentstore.Create: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	return bufferpool.New(store, capacity)
}

func TestAllocPinUnpin(t *testing.T) {
	t.Parallel()
	pool := newTestPool(t, 4)

	h, err := pool.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if len(h.Data) != int(pool.PageSize()) {
		t.Fatalf("Alloc data length = %d, want %d", len(h.Data), pool.PageSize())
	}

	// The page is already pinned by Alloc; a second Pin should succeed
	// and bump the refcount rather than error.
	h2, err := pool.Pin(h.PageID)
	if err != nil {
		t.Fatalf("Pin: %s", err)
	}
	if h2.PageID != h.PageID {
		t.Fatalf("Pin returned page %d, want %d", h2.PageID, h.PageID)
	}

	if err := pool.Unpin(h.PageID); err != nil {
		t.Fatalf("Unpin: %s", err)
	}
	if err := pool.Unpin(h.PageID); err != nil {
		t.Fatalf("second Unpin: %s", err)
	}
	if err := pool.Unpin(h.PageID); err != bufferpool.ErrNegativePinCount {
		t.Fatalf("third Unpin = %v, want ErrNegativePinCount", err)
	}
}

func TestSetPageDirtyPersistsAcrossEviction(t *testing.T) {
	t.Parallel()
	pool := newTestPool(t, 1)

	h, err := pool.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	h.Data[0] = 0x42
	if err := pool.SetPageDirty(h.PageID); err != nil {
		t.Fatalf("SetPageDirty: %s", err)
	}
	if err := pool.Unpin(h.PageID); err != nil {
		t.Fatalf("Unpin: %s", err)
	}

	// With capacity 1, allocating a second page must evict the first,
	// flushing its dirty contents first.
	h2, err := pool.Alloc()
	if err != nil {
		t.Fatalf("second Alloc: %s", err)
	}
	if err := pool.Unpin(h2.PageID); err != nil {
		t.Fatalf("Unpin second: %s", err)
	}

	reread, err := pool.Pin(h.PageID)
	if err != nil {
		t.Fatalf("re-Pin evicted page: %s", err)
	}
	defer pool.Unpin(reread.PageID)
	if reread.Data[0] != 0x42 {
		t.Errorf("evicted page's dirty write was lost: got %#x, want 0x42", reread.Data[0])
	}
}

func TestReleaseReturnsPageToFreeList(t *testing.T) {
	t.Parallel()
	pool := newTestPool(t, 1)

	h, err := pool.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if err := pool.Unpin(h.PageID); err != nil {
		t.Fatalf("Unpin: %s", err)
	}
	if err := pool.Release(h.PageID); err != nil {
		t.Fatalf("Release: %s", err)
	}
	if err := pool.SetPageDirty(h.PageID); err != bufferpool.ErrPageNotFound {
		t.Errorf("SetPageDirty after Release = %v, want ErrPageNotFound", err)
	}
}

func TestCloseFailsWithPagesStillPinned(t *testing.T) {
	t.Parallel()
	pool := newTestPool(t, 4)

	if _, err := pool.Alloc(); err != nil {
		t.Fatalf("Alloc: %s", err)
	}
	if err := pool.Close(); err != bufferpool.ErrPagesStillPinned {
		t.Errorf("Close with a pinned page = %v, want ErrPagesStillPinned", err)
	}
}
