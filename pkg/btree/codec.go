package btree

import "encoding/binary"

// Codec describes how to marshal a fixed-size value of type T to and from
// page bytes. The B+tree is monomorphized over K and V through a pair of
// Codecs rather than through an entry.Entry-style fixed int64 pair, so
// nodes can be built for any fixed-width key or value type without
// resorting to reflection.
type Codec[T any] struct {
	// Size is the number of bytes Put always writes and Get always reads.
	Size int
	Put  func(buf []byte, value T)
	Get  func(buf []byte) T
}

// Int64Codec marshals int64 values in 8 bytes, big-endian two's
// complement. The byte-wise order of the encoding does not match numeric
// order for negative values; that does not matter here, since key
// comparison is done on the decoded Go value, not on the raw bytes.
var Int64Codec = Codec[int64]{
	Size: 8,
	Put: func(buf []byte, value int64) {
		binary.BigEndian.PutUint64(buf, uint64(value))
	},
	Get: func(buf []byte) int64 {
		return int64(binary.BigEndian.Uint64(buf))
	},
}

// Int32Codec marshals int32 values in 4 bytes.
var Int32Codec = Codec[int32]{
	Size: 4,
	Put: func(buf []byte, value int32) {
		binary.BigEndian.PutUint32(buf, uint32(value))
	},
	Get: func(buf []byte) int32 {
		return int32(binary.BigEndian.Uint32(buf))
	},
}

// Uint64Codec marshals uint64 values in 8 bytes.
var Uint64Codec = Codec[uint64]{
	Size: 8,
	Put: func(buf []byte, value uint64) {
		binary.BigEndian.PutUint64(buf, value)
	},
	Get: func(buf []byte) uint64 {
		return binary.BigEndian.Uint64(buf)
	},
}

// FixedStringCodec returns a Codec for strings zero-padded to exactly n
// bytes. Strings longer than n are rejected by Put via panic rather than
// truncated, since a truncated key would silently corrupt ordering.
func FixedStringCodec(n int) Codec[string] {
	return Codec[string]{
		Size: n,
		Put: func(buf []byte, value string) {
			if len(value) > n {
				panic("btree: string value exceeds fixed codec width")
			}
			copy(buf, value)
			for i := len(value); i < n; i++ {
				buf[i] = 0
			}
		},
		Get: func(buf []byte) string {
			end := 0
			for end < len(buf) && buf[end] != 0 {
				end++
			}
			return string(buf[:end])
		},
	}
}
