// Package index implements the fixed-record secondary index file format:
// a 1-based sequence of Entry records mapping a slot to a location in a
// Partition, with O(1) random access and a monotonic binary search over
// Entry.Number.
package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	magicPrefix  = "nesidx"
	magicVersion = "01"
	magic        = magicPrefix + magicVersion
	magicLen     = int64(len(magic))

	// DefaultBufferSize is the write-buffer capacity used when Options.BufferSize is zero.
	DefaultBufferSize = 16 << 10
)

// Options configures an Index at Open time.
type Options struct {
	// BufferSize is the write-buffer capacity in bytes. Defaults to
	// DefaultBufferSize.
	BufferSize int
	// Metrics, if non-nil, observes add/flush activity. Defaults to a no-op
	// hook.
	Metrics MetricsHook
	// FlushDelay, if non-zero, flushes the write buffer on an idle tick of
	// this period even if it never fills. Zero (the default) flushes only
	// when the buffer fills or the index is closed.
	FlushDelay time.Duration
}

// MetricsHook is the observation seam an Index reports through.
type MetricsHook interface {
	ObserveAdd(elapsed time.Duration, entries int)
	ObserveFlush(elapsed time.Duration, entries int)
}

// NoopMetrics implements MetricsHook by doing nothing.
type NoopMetrics struct{}

func (NoopMetrics) ObserveAdd(time.Duration, int)   {}
func (NoopMetrics) ObserveFlush(time.Duration, int) {}

// DefaultOptions returns the engine's documented defaults.
func DefaultOptions() Options {
	return Options{BufferSize: DefaultBufferSize, Metrics: NoopMetrics{}}
}

// Index is a single append-only fixed-record file.
type Index struct {
	mu sync.Mutex

	path      string
	file      *os.File
	headerLen int64
	metadata  []byte

	opts Options

	// durable is the number of whole entries flushed to disk.
	durable int64
	// buf holds entries appended but not yet flushed, packed EntrySize
	// bytes apiece.
	buf     []byte
	pending []func(int64)

	closed bool

	stopIdleFlush chan struct{}
	idleFlushDone chan struct{}
	stopOnce      sync.Once
}

// Open opens the index file at path, creating it with the given metadata
// blob if absent. If the file already exists, the stored metadata blob must
// be bit-equal to metadata or ErrIndexMetadataMismatch is returned.
func Open(path string, metadata []byte, opts Options) (*Index, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if metadata == nil {
		metadata = []byte("{}\n")
	}
	idx := &Index{path: path, opts: opts}
	if err := idx.open(metadata); err != nil {
		return nil, err
	}
	if opts.FlushDelay > 0 {
		idx.stopIdleFlush = make(chan struct{})
		idx.idleFlushDone = make(chan struct{})
		go idx.idleFlushLoop(opts.FlushDelay)
	}
	return idx, nil
}

// idleFlushLoop flushes the buffer on every tick, so a slow trickle of
// Add calls below BufferSize still reaches disk within FlushDelay.
func (idx *Index) idleFlushLoop(delay time.Duration) {
	defer close(idx.idleFlushDone)
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-idx.stopIdleFlush:
			return
		case <-ticker.C:
			idx.Flush()
		}
	}
}

// Flush writes any buffered entries to disk and fsyncs, firing completion
// callbacks for entries it flushes. It is a no-op on a closed or
// empty-buffer index.
func (idx *Index) Flush() {
	idx.mu.Lock()
	var failed bool
	fired, firedPos := idx.flushLocked(&failed)
	idx.mu.Unlock()
	for i, f := range fired {
		f(firedPos[i])
	}
}

func (idx *Index) open(metadata []byte) error {
	f, err := os.OpenFile(idx.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if info.Size() == 0 {
		return idx.createLocked(f, metadata)
	}
	return idx.reopenLocked(f, info.Size(), metadata)
}

func (idx *Index) createLocked(f *os.File, metadata []byte) error {
	hdr := make([]byte, 0, magicLen+4+int64(len(metadata)))
	hdr = append(hdr, []byte(magic)...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metadata)))
	hdr = append(hdr, lenBuf[:]...)
	hdr = append(hdr, metadata...)

	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	idx.file = f
	idx.headerLen = int64(len(hdr))
	idx.metadata = append([]byte(nil), metadata...)
	return nil
}

func (idx *Index) reopenLocked(f *os.File, fileSize int64, metadata []byte) error {
	hdr := make([]byte, magicLen+4)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return ErrInvalidFileHeader
	}
	if err := validateMagicBytes(hdr[:magicLen]); err != nil {
		f.Close()
		return err
	}
	metaLen := int64(binary.BigEndian.Uint32(hdr[magicLen : magicLen+4]))
	if metaLen < 0 || magicLen+4+metaLen > fileSize {
		f.Close()
		return ErrInvalidMetadataSize
	}

	storedMeta := make([]byte, metaLen)
	if metaLen > 0 {
		if _, err := io.ReadFull(f, storedMeta); err != nil {
			f.Close()
			return ErrInvalidMetadataSize
		}
	}
	if !isValidMetadataBlob(storedMeta) {
		f.Close()
		return ErrInvalidMetadata
	}
	if !bytes.Equal(storedMeta, metadata) {
		f.Close()
		return ErrIndexMetadataMismatch
	}

	headerLen := magicLen + 4 + metaLen
	body := fileSize - headerLen
	if body%EntrySize != 0 {
		f.Close()
		return ErrIndexFileCorrupt
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}

	idx.file = f
	idx.headerLen = headerLen
	idx.metadata = append([]byte(nil), storedMeta...)
	idx.durable = body / EntrySize
	return nil
}

func validateMagicBytes(hdr []byte) error {
	if len(hdr) < len(magicPrefix) || string(hdr[:len(magicPrefix)]) != magicPrefix {
		return ErrInvalidFileHeader
	}
	if string(hdr[len(magicPrefix):len(magicPrefix)+len(magicVersion)]) != magicVersion {
		return ErrInvalidFileVersion
	}
	return nil
}

func isValidMetadataBlob(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	trimmed := bytes.TrimRight(b, "\n")
	var v any
	return json.Unmarshal(trimmed, &v) == nil
}

// Length returns the number of entries, including buffered-but-unflushed ones.
func (idx *Index) Length() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.durable + int64(len(idx.buf))/EntrySize
}

// Add appends entry at the next slot and returns the byte position it was
// written at. If cb is non-nil, it fires with that position once the
// enclosing flush completes. Callbacks of entries still buffered when Close
// runs are not invoked.
func (idx *Index) Add(entry Entry, cb func(int64)) (position int64, ok bool) {
	start := time.Now()
	idx.mu.Lock()

	if idx.closed {
		idx.mu.Unlock()
		return 0, false
	}

	rec := make([]byte, EntrySize)
	entry.Marshal(rec)

	var fired []func(int64)
	var firedPos []int64
	var failed bool

	if len(idx.buf)+EntrySize > idx.opts.BufferSize {
		f, p := idx.flushLocked(&failed)
		fired, firedPos = f, p
	}
	if !failed {
		position = idx.headerLen + idx.durable*EntrySize + int64(len(idx.buf))
		idx.buf = append(idx.buf, rec...)
		if cb != nil {
			// Bind cb to this entry's own position: pending holds callbacks
			// only for entries that passed one, so a flush cannot derive it.
			at := position
			idx.pending = append(idx.pending, func(int64) { cb(at) })
		}
	}

	idx.mu.Unlock()

	for i, f := range fired {
		f(firedPos[i])
	}
	if failed {
		return 0, false
	}
	idx.opts.Metrics.ObserveAdd(time.Since(start), 1)
	return position, true
}

func (idx *Index) flushLocked(failed *bool) ([]func(int64), []int64) {
	if len(idx.buf) == 0 {
		return nil, nil
	}
	start := time.Now()
	basePos := idx.headerLen + idx.durable*EntrySize
	if _, err := idx.file.Write(idx.buf); err != nil {
		idx.closed = true
		*failed = true
		idx.buf = idx.buf[:0]
		idx.pending = nil
		return nil, nil
	}
	if err := idx.file.Sync(); err != nil {
		idx.closed = true
		*failed = true
		idx.buf = idx.buf[:0]
		idx.pending = nil
		return nil, nil
	}
	n := int64(len(idx.buf)) / EntrySize
	idx.durable += n
	idx.buf = idx.buf[:0]
	cbs := idx.pending
	idx.pending = nil
	idx.opts.Metrics.ObserveFlush(time.Since(start), int(n))

	positions := make([]int64, len(cbs))
	for i := range cbs {
		positions[i] = basePos + int64(i)*EntrySize
	}
	return cbs, positions
}

// normalizeSlot resolves a possibly-negative 1-based slot against length.
// Returns (0, false) if the slot is out of range.
func normalizeSlot(n, length int64) (int64, bool) {
	if n < 0 {
		n = length + n + 1
	}
	if n <= 0 || n > length {
		return 0, false
	}
	return n, true
}

// Get returns the entry at slot n (1-based; negative counts from the end).
func (idx *Index) Get(n int64) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.getLocked(n)
}

func (idx *Index) getLocked(n int64) (Entry, bool) {
	if idx.closed {
		return Entry{}, false
	}
	length := idx.durable + int64(len(idx.buf))/EntrySize
	slot, ok := normalizeSlot(n, length)
	if !ok {
		return Entry{}, false
	}
	return idx.readSlotLocked(slot)
}

func (idx *Index) readSlotLocked(slot int64) (Entry, bool) {
	rec := make([]byte, EntrySize)
	if slot <= idx.durable {
		pos := idx.headerLen + (slot-1)*EntrySize
		if _, err := idx.file.ReadAt(rec, pos); err != nil {
			return Entry{}, false
		}
	} else {
		off := (slot - 1 - idx.durable) * EntrySize
		copy(rec, idx.buf[off:off+EntrySize])
	}
	var e Entry
	e.Unmarshal(rec)
	return e, true
}

// LastEntry returns Get(Length()), or ok=false when the index is empty.
func (idx *Index) LastEntry() (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	length := idx.durable + int64(len(idx.buf))/EntrySize
	if length == 0 {
		return Entry{}, false
	}
	return idx.getLocked(length)
}

// Range returns entries [from, to] inclusive (1-based, negative endpoints
// count from the end; to == 0 means "to Length()"). Returns ok=false if
// either endpoint normalizes out of range or from > to.
func (idx *Index) Range(from, to int64) ([]Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil, false
	}
	length := idx.durable + int64(len(idx.buf))/EntrySize
	if to == 0 {
		to = length
	}
	f, ok := normalizeSlot(from, length)
	if !ok {
		return nil, false
	}
	t, ok := normalizeSlot(to, length)
	if !ok {
		return nil, false
	}
	if f > t {
		return nil, false
	}

	out := make([]Entry, 0, t-f+1)
	for s := f; s <= t; s++ {
		e, ok := idx.readSlotLocked(s)
		if !ok {
			return nil, false
		}
		out = append(out, e)
	}
	return out, true
}

// All returns Range(1, Length()).
func (idx *Index) All() ([]Entry, bool) {
	return idx.Range(1, 0)
}

// Find performs a binary search over the sequence of entries keyed by
// Entry.Number, which is assumed monotonically non-decreasing.
//
// With min == false (the default), it returns the largest slot i such that
// entry[i].Number <= target, or 0 if no such slot exists. With min == true,
// it returns the smallest slot i such that entry[i].Number >= target, or 0
// if target exceeds every stored number.
func (idx *Index) Find(target uint32, min bool) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	length := idx.durable + int64(len(idx.buf))/EntrySize
	if length == 0 {
		return 0
	}

	numberAt := func(slot int64) uint32 {
		e, _ := idx.readSlotLocked(slot)
		return e.Number
	}

	if min {
		// Smallest i (1-based) with numberAt(i) >= target.
		i := sort.Search(int(length), func(i int) bool {
			return numberAt(int64(i+1)) >= target
		})
		if i == int(length) {
			return 0
		}
		return int64(i + 1)
	}

	// Largest i (1-based) with numberAt(i) <= target.
	i := sort.Search(int(length), func(i int) bool {
		return numberAt(int64(i+1)) > target
	})
	if i == 0 {
		return 0
	}
	return int64(i)
}

// Truncate keeps slots 1..afterSlot and drops the rest. afterSlot >= Length()
// is a no-op; a negative afterSlot clears the index entirely. Buffered tail
// entries above the cut are dropped.
func (idx *Index) Truncate(afterSlot int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return ErrNotOpen
	}

	length := idx.durable + int64(len(idx.buf))/EntrySize
	if afterSlot >= length {
		return nil
	}
	if afterSlot < 0 {
		afterSlot = 0
	}

	if afterSlot >= idx.durable {
		bufEntries := afterSlot - idx.durable
		idx.buf = idx.buf[:bufEntries*EntrySize]
		idx.pending = nil
		return nil
	}

	idx.buf = idx.buf[:0]
	idx.pending = nil
	newSize := idx.headerLen + afterSlot*EntrySize
	if err := idx.file.Truncate(newSize); err != nil {
		idx.closed = true
		return err
	}
	if _, err := idx.file.Seek(newSize, io.SeekStart); err != nil {
		idx.closed = true
		return err
	}
	idx.durable = afterSlot
	return nil
}

// Close flushes the buffer, fsyncs, and releases the file descriptor.
func (idx *Index) Close() error {
	if idx.stopIdleFlush != nil {
		idx.stopOnce.Do(func() { close(idx.stopIdleFlush) })
		<-idx.idleFlushDone
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	var failed bool
	idx.flushLocked(&failed)
	idx.closed = true
	if idx.file != nil {
		return idx.file.Close()
	}
	if failed {
		return ErrIndexFileCorrupt
	}
	return nil
}

// Destroy closes the index and removes its file from disk.
func (idx *Index) Destroy() error {
	if err := idx.Close(); err != nil {
		return err
	}
	return os.Remove(idx.path)
}

// Metadata returns the metadata blob this index was opened with.
func (idx *Index) Metadata() []byte {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]byte(nil), idx.metadata...)
}
