package index

import "errors"

// Sentinel errors surfaced by an Index. All are fatal to the enclosing
// operation; open-time errors leave the index closed.
var (
	ErrInvalidFileHeader     = errors.New("index: invalid file header")
	ErrInvalidFileVersion    = errors.New("index: invalid file version")
	ErrInvalidMetadataSize   = errors.New("index: declared metadata size inconsistent with file length")
	ErrInvalidMetadata       = errors.New("index: metadata bytes are not a valid blob")
	ErrIndexMetadataMismatch = errors.New("index: stored metadata does not match metadata passed at open")
	ErrIndexFileCorrupt      = errors.New("index: body length is not a multiple of the entry size")
	ErrNotOpen               = errors.New("index: not open")
)
