// Package config holds process-wide defaults for the storage core.
package config

// DefaultExtentSizeKB is the default of btreeload's -extent-kb flag,
// matching directio's block size so extents stay aligned for
// O_DIRECT-style I/O.
const DefaultExtentSizeKB = 4

// DefaultPoolCapacity is the number of pages the reference buffer pool
// implementation keeps resident at once.
const DefaultPoolCapacity = 32
