// Package extentstore implements a file divided into fixed-size extents:
// create/open a backing file, reserve new extents, and read or write a
// single extent by id. Extent 0 holds a persisted header and is not
// reachable through Read/Write.
package extentstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// Errors returned by the store. These are the Go-native equivalent of the
// spec's STORAGE_* error codes.
var (
	ErrInvalidPath       = errors.New("extentstore: invalid path")
	ErrPathAlreadyExists = errors.New("extentstore: path already exists")
	ErrNotOpen           = errors.New("extentstore: store is not open")
	ErrOutOfBoundsExtent = errors.New("extentstore: extent id out of bounds")
	ErrCorrupted         = errors.New("extentstore: file is corrupted")
	// ErrInvalidExtentSize is returned when a Config's ExtentSizeKB doesn't
	// produce an extent size that's a multiple of directio.BlockSize: every
	// Read/Write/header transfer is a whole-extent O_DIRECT transfer, and
	// O_DIRECT requires the transfer length to be a device-block multiple.
	ErrInvalidExtentSize = errors.New("extentstore: extent size must be a multiple of directio.BlockSize")
)

var headerMagic = [4]byte{'s', 'm', 'l', '1'}

// configRecordSize is the number of bytes at the front of extent 0 reserved
// for the persisted Config, magic included. It is never touched again after
// Create writes it once, so any bytes in it beyond what this version reads
// (Config.Tail) ride along unmodified across opens by construction.
const configRecordSize = 32

// Config is the record persisted at extent 0.
type Config struct {
	// ExtentSizeKB is the size of one extent, in KiB.
	ExtentSizeKB uint32
	// Tail holds whatever bytes follow the fields this version knows
	// about, within configRecordSize. A newer store version that adds
	// fields here would see them; this version just preserves them.
	Tail []byte
}

// Store is a single backing file divided into fixed-size extents.
type Store struct {
	file       *os.File
	cfg        Config
	extentSize int64
	numExtents int64
	zero       []byte
}

// Create creates a new extent-addressed file at path. If overwrite is
// false and path already exists, returns ErrPathAlreadyExists. On success
// the store is left open with extent 0 reserved and its header written.
func Create(path string, cfg Config, overwrite bool) (*Store, error) {
	extentSize := int64(cfg.ExtentSizeKB) * 1024
	if extentSize%int64(directio.BlockSize) != 0 {
		return nil, ErrInvalidExtentSize
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, ErrPathAlreadyExists
		}
	}
	file, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	s := &Store{
		file:       file,
		cfg:        cfg,
		extentSize: extentSize,
	}
	s.zero = directio.AlignedBlock(int(s.extentSize))
	if _, err := s.Reserve(1); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// Open opens an existing extent-addressed file at path, reading its
// config from extent 0 and computing its size in whole extents.
func Open(path string) (*Store, error) {
	file, err := directio.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	// The header record lives within extent 0, but O_DIRECT transfers must
	// be a whole device-block multiple: probe with one aligned block to
	// read the magic and the extent size, then re-read the full extent
	// once that size is known.
	probe := directio.AlignedBlock(directio.BlockSize)
	if _, err := file.ReadAt(probe, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if [4]byte(probe[:4]) != headerMagic {
		file.Close()
		return nil, fmt.Errorf("%w: bad header magic", ErrCorrupted)
	}
	extentSizeKB := binary.LittleEndian.Uint32(probe[4:8])
	extentSize := int64(extentSizeKB) * 1024
	if extentSize == 0 || extentSize%int64(directio.BlockSize) != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: invalid extent size", ErrCorrupted)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size()%extentSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: size %d is not a multiple of the extent size", ErrCorrupted, info.Size())
	}

	record := directio.AlignedBlock(int(extentSize))
	if _, err := file.ReadAt(record, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	s := &Store{
		file:       file,
		extentSize: extentSize,
		numExtents: info.Size() / extentSize,
		cfg: Config{
			ExtentSizeKB: extentSizeKB,
			Tail:         append([]byte(nil), record[8:configRecordSize]...),
		},
	}
	s.zero = directio.AlignedBlock(int(extentSize))
	return s, nil
}

// writeHeader serializes the store's Config into the first configRecordSize
// bytes of extent 0. The write is staged into a full aligned extent buffer
// and transferred whole, since extent 0 was reserved (and zero-filled) as a
// complete O_DIRECT extent and a partial rewrite of it must match that.
func (s *Store) writeHeader() error {
	record := directio.AlignedBlock(int(s.extentSize))
	copy(record[:4], headerMagic[:])
	binary.LittleEndian.PutUint32(record[4:8], s.cfg.ExtentSizeKB)
	copy(record[8:configRecordSize], s.cfg.Tail)
	_, err := s.file.WriteAt(record, 0)
	return err
}

// Close closes the backing file. The store may be Open'd again afterward.
func (s *Store) Close() error {
	if s.file == nil {
		return ErrNotOpen
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Reserve appends n zero-filled extents to the end of the file and returns
// the id of the first newly reserved extent.
//
// Only the last of the n new extents is explicitly written; the file
// system treats the gap between the old end-of-file and that write as a
// hole, which reads back as zero without requiring n separate writes.
func (s *Store) Reserve(n int) (int64, error) {
	if s.file == nil {
		return 0, ErrNotOpen
	}
	first := s.numExtents
	lastOffset := (first + int64(n) - 1) * s.extentSize
	if _, err := s.file.WriteAt(s.zero, lastOffset); err != nil {
		return 0, fmt.Errorf("extentstore: reserve: %w", err)
	}
	s.numExtents += int64(n)
	return first, nil
}

// Read reads exactly one extent into buf, which must be at least
// ExtentSize() bytes long.
func (s *Store) Read(buf []byte, extentID int64) error {
	if s.file == nil {
		return ErrNotOpen
	}
	if extentID == 0 || extentID >= s.numExtents {
		return ErrOutOfBoundsExtent
	}
	if _, err := s.file.ReadAt(buf[:s.extentSize], extentID*s.extentSize); err != nil {
		return fmt.Errorf("extentstore: read: %w", err)
	}
	return nil
}

// Write writes exactly one extent from buf, which must be at least
// ExtentSize() bytes long.
func (s *Store) Write(buf []byte, extentID int64) error {
	if s.file == nil {
		return ErrNotOpen
	}
	if extentID == 0 || extentID >= s.numExtents {
		return ErrOutOfBoundsExtent
	}
	if _, err := s.file.WriteAt(buf[:s.extentSize], extentID*s.extentSize); err != nil {
		return fmt.Errorf("extentstore: write: %w", err)
	}
	return nil
}

// Size returns the number of extents currently in the file, header included.
func (s *Store) Size() int64 {
	return s.numExtents
}

// Config returns the store's persisted configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// ExtentSize returns the size of one extent in bytes.
func (s *Store) ExtentSize() int64 {
	return s.extentSize
}

// NewExtentBuffer allocates a directio-aligned buffer sized to hold one
// extent, suitable for passing to Read/Write.
func (s *Store) NewExtentBuffer() []byte {
	return directio.AlignedBlock(int(s.extentSize))
}
