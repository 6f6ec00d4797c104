package partition

import "errors"

// Sentinel errors surfaced by a Partition. All are fatal to the enclosing
// operation; once returned by Open, the partition is left closed.
var (
	ErrInvalidFileHeader  = errors.New("partition: invalid file header")
	ErrInvalidFileVersion = errors.New("partition: invalid file version")
	ErrInvalidDataSize    = errors.New("partition: data size does not match stored record")
	ErrCorruptFile        = errors.New("partition: corrupt file (torn write detected)")
	ErrInvalidBoundary    = errors.New("partition: truncate position is not a record boundary")
	ErrNotOpen            = errors.New("partition: not open")
)
