package extentstore_test

import (
	"bytes"
	"os"
	"testing"

	"storagecore/pkg/extentstore"
)

// tempDBPath returns a path to a not-yet-created file in the test's
// temporary directory, cleaned up automatically when the test ends.
func tempDBPath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(name); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestCreateOpenRoundTrip(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	reopened, err := extentstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer reopened.Close()

	if got := reopened.Config().ExtentSizeKB; got != 4 {
		t.Errorf("Config().ExtentSizeKB = %d, want 4", got)
	}
}

func TestCreateWithoutOverwriteFailsOnExistingPath(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	store.Close()

	if _, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 4}, false); err != extentstore.ErrPathAlreadyExists {
		t.Errorf("Create on existing path without overwrite: got %v, want ErrPathAlreadyExists", err)
	}

	// overwrite=true must still succeed.
	store2, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 4}, true)
	if err != nil {
		t.Fatalf("Create with overwrite: %s", err)
	}
	store2.Close()
}

func TestReserveSequence(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 64}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer store.Close()

	wantFirstIDs := []int64{1, 2, 3, 7}
	reserveCounts := []int{1, 1, 4, 1}
	for i, n := range reserveCounts {
		first, err := store.Reserve(n)
		if err != nil {
			t.Fatalf("Reserve(%d): %s", n, err)
		}
		if first != wantFirstIDs[i] {
			t.Errorf("Reserve(%d) #%d = %d, want %d", n, i, first, wantFirstIDs[i])
		}
	}
	if got := store.Size(); got != 8 {
		t.Errorf("Size() = %d, want 8", got)
	}
}

func TestWriteReadPattern(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 64}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}

	first, err := store.Reserve(63)
	if err != nil {
		t.Fatalf("Reserve: %s", err)
	}
	if first != 1 {
		t.Fatalf("Reserve returned first id %d, want 1", first)
	}

	for i := int64(1); i <= 63; i++ {
		buf := store.NewExtentBuffer()
		fill := byte('0' + i%10)
		for j := range buf {
			buf[j] = fill
		}
		if err := store.Write(buf, i); err != nil {
			t.Fatalf("Write(%d): %s", i, err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	store, err = extentstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer store.Close()

	for i := int64(1); i <= 63; i++ {
		buf := store.NewExtentBuffer()
		if err := store.Read(buf, i); err != nil {
			t.Fatalf("Read(%d): %s", i, err)
		}
		want := bytes.Repeat([]byte{byte('0' + i%10)}, len(buf))
		if !bytes.Equal(buf, want) {
			t.Errorf("extent %d contents mismatch", i)
		}
	}
}

func TestBoundsErrors(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 64}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer store.Close()

	buf := store.NewExtentBuffer()
	if err := store.Write(buf, 63); err != extentstore.ErrOutOfBoundsExtent {
		t.Errorf("Write(63) = %v, want ErrOutOfBoundsExtent", err)
	}
	if err := store.Read(buf, 32); err != extentstore.ErrOutOfBoundsExtent {
		t.Errorf("Read(32) = %v, want ErrOutOfBoundsExtent", err)
	}
	if err := store.Read(buf, 0); err != extentstore.ErrOutOfBoundsExtent {
		t.Errorf("Read(0) = %v, want ErrOutOfBoundsExtent", err)
	}
	if err := store.Write(buf, 0); err != extentstore.ErrOutOfBoundsExtent {
		t.Errorf("Write(0) = %v, want ErrOutOfBoundsExtent", err)
	}
}

func TestCreateRejectsUnalignedExtentSize(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	// 1 KiB is not a multiple of directio.BlockSize (4 KiB): every
	// Read/Write would be a sub-block O_DIRECT transfer.
	if _, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 1}, false); err != extentstore.ErrInvalidExtentSize {
		t.Errorf("Create with ExtentSizeKB=1 = %v, want ErrInvalidExtentSize", err)
	}
}

func TestCloseWithoutOpenFails(t *testing.T) {
	t.Parallel()
	path := tempDBPath(t)

	store, err := extentstore.Create(path, extentstore.Config{ExtentSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if err := store.Close(); err != extentstore.ErrNotOpen {
		t.Errorf("second Close() = %v, want ErrNotOpen", err)
	}
}
