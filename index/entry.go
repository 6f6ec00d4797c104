package index

import "encoding/binary"

// EntrySize is the on-disk size of a single Entry record: four big-endian
// fields, number/position/size/partition, in that order.
const EntrySize = 20

// Entry maps a 1-based slot in an Index to a location in a Partition.
// Entry is identical on disk and in memory; all four fields are encoded
// big-endian in declaration order.
type Entry struct {
	Number    uint32
	Position  uint64
	Size      uint32
	Partition uint32
}

// Marshal writes the entry into dst, which must be at least EntrySize bytes.
func (e Entry) Marshal(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], e.Number)
	binary.BigEndian.PutUint64(dst[4:12], e.Position)
	binary.BigEndian.PutUint32(dst[12:16], e.Size)
	binary.BigEndian.PutUint32(dst[16:20], e.Partition)
}

// Unmarshal reads an entry from src, which must be at least EntrySize bytes.
func (e *Entry) Unmarshal(src []byte) {
	e.Number = binary.BigEndian.Uint32(src[0:4])
	e.Position = binary.BigEndian.Uint64(src[4:12])
	e.Size = binary.BigEndian.Uint32(src[12:16])
	e.Partition = binary.BigEndian.Uint32(src[16:20])
}
