// Package partition implements the fixed-header, self-delimiting append-only
// document log described by the storage engine's on-disk format.
//
// A Partition owns exactly one file. Every record is framed as
// [length uint32 BE][payload][trailer 0x0A]; the trailer lets a reader detect
// a torn write (a record whose tail never made it to disk) without needing a
// separate write-ahead log.
package partition

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"
)

const (
	magicPrefix  = "nesprt"
	magicVersion = "01"
	magic        = magicPrefix + magicVersion
	headerLen    = int64(len(magic))
	trailerByte  = 0x0A

	// DefaultBufferSize is the write-buffer capacity used when Options.BufferSize is zero.
	DefaultBufferSize = 16 << 10
)

// Options configures a Partition at Open time.
type Options struct {
	// BufferSize is the write-buffer capacity in bytes. Records larger than
	// this are written directly to the file, bypassing the buffer.
	BufferSize int
	// DirtyReads, when true (the default), allows ReadFrom to serve bytes
	// that have been written to the in-memory buffer but not yet flushed.
	DirtyReads bool
	// Metrics, if non-nil, observes write/read/flush activity. Defaults to
	// a no-op hook.
	Metrics MetricsHook
	// FlushDelay, if non-zero, flushes the write buffer on an idle tick of
	// this period even if it never fills. Zero (the default) flushes only
	// when the buffer fills or the partition is closed.
	FlushDelay time.Duration
}

// MetricsHook is the observation seam a Partition reports through. It
// mirrors the hook shape storage engines in this codebase's lineage use to
// keep the hot path free of any specific metrics backend.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveFlush(elapsed time.Duration, bytes int)
}

// NoopMetrics implements MetricsHook by doing nothing.
type NoopMetrics struct{}

func (NoopMetrics) ObserveWrite(time.Duration, int) {}
func (NoopMetrics) ObserveRead(time.Duration, int)  {}
func (NoopMetrics) ObserveFlush(time.Duration, int) {}

// DefaultOptions returns the engine's documented defaults.
func DefaultOptions() Options {
	return Options{BufferSize: DefaultBufferSize, DirtyReads: true, Metrics: NoopMetrics{}}
}

// Partition is a single append-only document log file.
type Partition struct {
	mu sync.Mutex

	path string
	file *os.File

	opts Options

	// size is the number of durable (fsync'd) bytes in the file, including
	// the header.
	size int64
	// buf holds bytes appended but not yet flushed. buf always starts
	// exactly at file offset `size`, and never contains a partial record:
	// flush is always performed before a record that wouldn't fit is
	// appended, so every record lives wholly in the file or wholly in buf.
	buf []byte
	// pending holds the completion callbacks for writes currently sitting in buf.
	pending []func()

	closed bool

	// stopIdleFlush, when non-nil, shuts down the idle-flush ticker goroutine.
	stopIdleFlush chan struct{}
	idleFlushDone chan struct{}
	stopOnce      sync.Once
}

// Open opens the partition file at path, creating it with the magic header
// if absent. Each call returns a new, independent handle; Open does not
// detect or reuse a Partition that is already open on the same path.
func Open(path string, opts Options) (*Partition, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	p := &Partition{path: path, opts: opts}
	if err := p.open(); err != nil {
		return nil, err
	}
	if opts.FlushDelay > 0 {
		p.stopIdleFlush = make(chan struct{})
		p.idleFlushDone = make(chan struct{})
		go p.idleFlushLoop(opts.FlushDelay)
	}
	return p, nil
}

// idleFlushLoop flushes the buffer on every tick, so a slow trickle of
// writes below BufferSize still reaches disk within FlushDelay.
func (p *Partition) idleFlushLoop(delay time.Duration) {
	defer close(p.idleFlushDone)
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopIdleFlush:
			return
		case <-ticker.C:
			p.Flush()
		}
	}
}

// Flush writes any buffered bytes to disk and fsyncs, firing completion
// callbacks for writes it flushes. It is a no-op on a closed or empty-buffer
// partition.
func (p *Partition) Flush() {
	p.mu.Lock()
	var failed bool
	fired := p.flushLocked(&failed)
	p.mu.Unlock()
	for _, f := range fired {
		f()
	}
}

func (p *Partition) open() error {
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if info.Size() == 0 {
		if _, err := f.Write([]byte(magic)); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		p.file = f
		p.size = headerLen
		return nil
	}

	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return ErrInvalidFileHeader
	}
	if err := validateMagicBytes(hdr); err != nil {
		f.Close()
		return err
	}

	p.file = f
	p.size = info.Size()
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

func encodeRecord(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+1)
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	out[len(out)-1] = trailerByte
	return out
}

// Write appends payload to the partition and returns the byte position at
// which the record header starts. That position is the value later passed to
// ReadFrom. If cb is non-nil, it is invoked once the buffer containing this
// write has been flushed and fsync'd; callbacks of writes still buffered
// when Close runs are not invoked. Returns ok=false if the partition is not
// open.
func (p *Partition) Write(payload []byte, cb func()) (position int64, ok bool) {
	start := time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, false
	}

	record := encodeRecord(payload)

	var fired []func()
	var failed bool

	if len(record) > p.opts.BufferSize {
		fired = append(fired, p.flushLocked(&failed)...)
		if !failed {
			position = p.size
			if err := p.writeDirect(record); err != nil {
				p.closed = true
				failed = true
			} else {
				p.size += int64(len(record))
				if cb != nil {
					fired = append(fired, cb)
				}
			}
		}
	} else {
		if len(p.buf) > 0 && len(p.buf)+len(record) > p.opts.BufferSize {
			fired = append(fired, p.flushLocked(&failed)...)
		}
		if !failed {
			position = p.size + int64(len(p.buf))
			p.buf = append(p.buf, record...)
			if cb != nil {
				p.pending = append(p.pending, cb)
			}
			if len(p.buf) >= p.opts.BufferSize {
				fired = append(fired, p.flushLocked(&failed)...)
			}
		}
	}

	p.mu.Unlock()

	for _, f := range fired {
		f()
	}
	if failed {
		return 0, false
	}
	p.opts.Metrics.ObserveWrite(time.Since(start), len(payload))
	return position, true
}

// flushLocked writes the buffer to disk and fsyncs it, returning the
// callbacks queued for the flushed writes. Must be called with mu held.
// On I/O failure the partition is marked closed and queued callbacks are
// dropped, per the "no further callbacks after failure" contract.
func (p *Partition) flushLocked(failed *bool) []func() {
	if len(p.buf) == 0 {
		return nil
	}
	start := time.Now()
	n := len(p.buf)
	if err := p.writeDirect(p.buf); err != nil {
		p.closed = true
		*failed = true
		p.buf = p.buf[:0]
		p.pending = nil
		return nil
	}
	p.size += int64(n)
	p.buf = p.buf[:0]
	cbs := p.pending
	p.pending = nil
	p.opts.Metrics.ObserveFlush(time.Since(start), n)
	return cbs
}

func (p *Partition) writeDirect(b []byte) error {
	if _, err := p.file.Write(b); err != nil {
		return err
	}
	return p.file.Sync()
}

// ReadFrom reads the record starting at position. If expectedSize is > 0 and
// does not match the record's declared length, err is ErrInvalidDataSize. A
// torn or malformed record yields err=ErrCorruptFile. A position outside the
// known data (including a buffered-but-dirty-reads-disabled position) is not
// an error: ok is false and err is nil.
func (p *Partition) ReadFrom(position int64, expectedSize int) (payload []byte, ok bool, err error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, nil
	}
	total := p.size + int64(len(p.buf))
	if position < headerLen || position >= total {
		return nil, false, nil
	}

	if position < p.size {
		payload, ok, err = p.readFromFileLocked(position, total, expectedSize)
	} else if !p.opts.DirtyReads {
		return nil, false, nil
	} else {
		payload, ok, err = p.readFromBufLocked(position, expectedSize)
	}
	if ok {
		p.opts.Metrics.ObserveRead(time.Since(start), len(payload))
	}
	return payload, ok, err
}

func (p *Partition) readFromFileLocked(position, total int64, expectedSize int) ([]byte, bool, error) {
	lenBuf := make([]byte, 4)
	if _, err := p.file.ReadAt(lenBuf, position); err != nil {
		return nil, false, ErrCorruptFile
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if expectedSize > 0 && int(length) != expectedSize {
		return nil, false, ErrInvalidDataSize
	}
	end := position + 4 + int64(length) + 1
	if end > total {
		return nil, false, ErrCorruptFile
	}
	body := make([]byte, int64(length)+1)
	if _, err := p.file.ReadAt(body, position+4); err != nil {
		return nil, false, ErrCorruptFile
	}
	if body[len(body)-1] != trailerByte {
		return nil, false, ErrCorruptFile
	}
	return body[:length], true, nil
}

func (p *Partition) readFromBufLocked(position int64, expectedSize int) ([]byte, bool, error) {
	off := position - p.size
	if off+4 > int64(len(p.buf)) {
		return nil, false, ErrCorruptFile
	}
	length := binary.BigEndian.Uint32(p.buf[off : off+4])
	if expectedSize > 0 && int(length) != expectedSize {
		return nil, false, ErrInvalidDataSize
	}
	end := off + 4 + int64(length) + 1
	if end > int64(len(p.buf)) {
		return nil, false, ErrCorruptFile
	}
	if p.buf[end-1] != trailerByte {
		return nil, false, ErrCorruptFile
	}
	payload := make([]byte, length)
	copy(payload, p.buf[off+4:end-1])
	return payload, true, nil
}

// ReadAll returns a restartable iterator over every payload in write order.
func (p *Partition) ReadAll() *Iterator {
	return &Iterator{p: p, next: headerLen}
}

// Iterator is a restartable, lazy sequence over a Partition's records.
type Iterator struct {
	p    *Partition
	next int64
}

// Next returns the next payload, or ok=false once the sequence is exhausted.
// err is non-nil only on structural corruption.
func (it *Iterator) Next() (payload []byte, ok bool, err error) {
	payload, ok, err = it.p.ReadFrom(it.next, 0)
	if !ok || err != nil {
		return payload, ok, err
	}
	it.next += 4 + int64(len(payload)) + 1
	return payload, true, nil
}

// Reset rewinds the iterator to the first record.
func (it *Iterator) Reset() { it.next = headerLen }

// Truncate cuts the partition to position. position >= current size is a
// no-op; a negative position clears all content (the header is preserved);
// any other position must land exactly on an existing record boundary, or
// ErrInvalidBoundary is returned. Buffered bytes above the cut are dropped.
func (p *Partition) Truncate(position int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrNotOpen
	}

	total := p.size + int64(len(p.buf))
	if position >= total {
		return nil
	}
	if position < 0 {
		position = headerLen
	} else if !p.isRecordBoundaryLocked(position, total) {
		return ErrInvalidBoundary
	}

	if position >= p.size {
		p.buf = p.buf[:position-p.size]
		p.pending = nil
		return nil
	}

	if err := p.file.Truncate(position); err != nil {
		p.closed = true
		return err
	}
	if _, err := p.file.Seek(position, io.SeekStart); err != nil {
		p.closed = true
		return err
	}
	p.size = position
	p.buf = p.buf[:0]
	p.pending = nil
	return nil
}

func (p *Partition) isRecordBoundaryLocked(position, total int64) bool {
	if position == headerLen {
		return true
	}
	cursor := headerLen
	for cursor < total {
		if cursor == position {
			return true
		}
		var length uint32
		if cursor < p.size {
			lenBuf := make([]byte, 4)
			if _, err := p.file.ReadAt(lenBuf, cursor); err != nil {
				return false
			}
			length = binary.BigEndian.Uint32(lenBuf)
		} else {
			off := cursor - p.size
			if off+4 > int64(len(p.buf)) {
				return false
			}
			length = binary.BigEndian.Uint32(p.buf[off : off+4])
		}
		cursor += 4 + int64(length) + 1
	}
	return cursor == position
}

// Size returns the current total length of the partition, including
// buffered-but-unflushed bytes.
func (p *Partition) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size + int64(len(p.buf))
}

// Close flushes the buffer, fsyncs, and releases the file descriptor.
func (p *Partition) Close() error {
	if p.stopIdleFlush != nil {
		p.stopOnce.Do(func() { close(p.stopIdleFlush) })
		<-p.idleFlushDone
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	var failed bool
	p.flushLocked(&failed)
	p.closed = true
	if p.file != nil {
		return p.file.Close()
	}
	if failed {
		return ErrCorruptFile
	}
	return nil
}

// Destroy closes the partition and removes its file from disk.
func (p *Partition) Destroy() error {
	if err := p.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}
