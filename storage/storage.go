// Package storage binds one Partition to a family of matcher-filtered
// secondary Indexes: the single-writer dispatcher that is the entry point
// for writing documents and the one place that knows how to resolve a
// slot back into bytes.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nesdb/nesdb/consumer"
	"github.com/nesdb/nesdb/index"
	"github.com/nesdb/nesdb/partition"
	"github.com/nesdb/nesdb/pkg/matcher"
	"github.com/nesdb/nesdb/stream"
)

// Options configures a Storage at Open time.
type Options struct {
	PartitionName    string
	PartitionOptions partition.Options
	IndexBufferSize  int
	// IndexFlushDelay, if non-zero, is the idle-flush tick period applied to
	// every index EnsureIndex opens. See index.Options.FlushDelay.
	IndexFlushDelay time.Duration
	// IndexMetrics, if non-nil, is attached to every index EnsureIndex opens.
	IndexMetrics index.MetricsHook
}

// DefaultOptions returns the engine's documented defaults.
func DefaultOptions() Options {
	return Options{
		PartitionName:    "store",
		PartitionOptions: partition.DefaultOptions(),
		IndexBufferSize:  index.DefaultBufferSize,
	}
}

// WriteResult describes where a document landed.
type WriteResult struct {
	Position int64
	Size     int
	// IndexSlots maps each index name whose matcher accepted the document
	// to the slot assigned to it in that index.
	IndexSlots map[string]int64
}

type boundIndex struct {
	idx     *index.Index
	matcher matcher.Matcher

	mu       sync.Mutex
	notifyCh chan struct{}
}

func newBoundIndex(idx *index.Index, m matcher.Matcher) *boundIndex {
	return &boundIndex{idx: idx, matcher: m, notifyCh: make(chan struct{})}
}

func (b *boundIndex) notifyChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifyCh
}

func (b *boundIndex) broadcast() {
	b.mu.Lock()
	close(b.notifyCh)
	b.notifyCh = make(chan struct{})
	b.mu.Unlock()
}

// Storage is the single-writer façade over one Partition and its secondary
// Indexes.
type Storage struct {
	dir  string
	opts Options

	part *partition.Partition

	mu      sync.Mutex
	indexes map[string]*boundIndex
	closed  bool
}

// Open opens (creating if absent) the partition file under dir, named per
// opts.PartitionName. The directory is created if it does not exist.
func Open(dir string, opts Options) (*Storage, error) {
	if opts.PartitionName == "" {
		opts.PartitionName = "store"
	}
	if opts.IndexBufferSize <= 0 {
		opts.IndexBufferSize = index.DefaultBufferSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}

	part, err := partition.Open(filepath.Join(dir, opts.PartitionName), opts.PartitionOptions)
	if err != nil {
		return nil, fmt.Errorf("storage: open partition: %w", err)
	}
	return &Storage{
		dir:     dir,
		opts:    opts,
		part:    part,
		indexes: make(map[string]*boundIndex),
	}, nil
}

// EnsureIndex opens the named index, creating it with metadata if absent.
// matcher is attached in memory only; on reopen, metadata must match
// bit-for-bit or ErrIndexMetadataMismatch (from the index package) is
// returned.
func (s *Storage) EnsureIndex(name string, m matcher.Matcher, metadata []byte) (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrNotOpen
	}
	if b, ok := s.indexes[name]; ok {
		return b.idx, nil
	}
	if m == nil {
		m = matcher.All
	}

	path := filepath.Join(s.dir, name+".index")
	idx, err := index.Open(path, metadata, index.Options{
		BufferSize: s.opts.IndexBufferSize,
		FlushDelay: s.opts.IndexFlushDelay,
		Metrics:    s.opts.IndexMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: ensure index %q: %w", name, err)
	}
	s.indexes[name] = newBoundIndex(idx, m)
	return idx, nil
}

// Index returns the previously-ensured index by name.
func (s *Storage) Index(name string) (*index.Index, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.indexes[name]
	if !ok {
		return nil, false
	}
	return b.idx, true
}

// writeCompletion hands callback the fully-populated WriteResult exactly
// once both of its inputs are ready: the partition's enclosing flush has
// gone durable, and the index fan-out loop has finished filling in
// Position/IndexSlots. Either can happen first — the partition may flush
// synchronously inside s.part.Write (an oversized record, or one that
// exactly fills the buffer) before fan-out even starts, or it may stay
// buffered and only flush later from the idle-flush ticker or a
// subsequent Write — so firing is gated on both, not threaded through
// whichever happens to finish first.
type writeCompletion struct {
	mu       sync.Mutex
	durable  bool
	result   WriteResult
	ready    bool
	fired    bool
	callback func(WriteResult)
}

func (c *writeCompletion) markDurable() {
	c.mu.Lock()
	c.durable = true
	cb, result, fire := c.maybeFireLocked()
	c.mu.Unlock()
	if fire {
		cb(result)
	}
}

func (c *writeCompletion) setResult(result WriteResult) {
	c.mu.Lock()
	c.result = result
	c.ready = true
	cb, res, fire := c.maybeFireLocked()
	c.mu.Unlock()
	if fire {
		cb(res)
	}
}

// maybeFireLocked must be called with c.mu held.
func (c *writeCompletion) maybeFireLocked() (cb func(WriteResult), result WriteResult, fire bool) {
	if c.callback == nil || c.fired || !c.durable || !c.ready {
		return nil, WriteResult{}, false
	}
	c.fired = true
	return c.callback, c.result, true
}

// Write appends doc to the partition, then to every index whose matcher
// accepts it. callback, if non-nil, fires once the partition's enclosing
// flush is durable and the result is fully populated; it is not invoked for
// a write that is still buffered when Close runs. A matcher error or
// panic aborts that index's append only; the partition write and other
// indexes are unaffected.
func (s *Storage) Write(doc []byte, callback func(WriteResult)) (WriteResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return WriteResult{}, ErrNotOpen
	}
	bound := make(map[string]*boundIndex, len(s.indexes))
	for name, b := range s.indexes {
		bound[name] = b
	}
	s.mu.Unlock()

	completion := &writeCompletion{callback: callback}

	position, ok := s.part.Write(doc, completion.markDurable)
	if !ok {
		return WriteResult{}, fmt.Errorf("storage: partition write failed: %w", ErrNotOpen)
	}

	result := WriteResult{Position: position, Size: len(doc), IndexSlots: make(map[string]int64)}

	for name, b := range bound {
		accepted, err := evalMatcher(b.matcher, doc)
		if err != nil || !accepted {
			continue
		}
		nextSlot := b.idx.Length() + 1
		entry := index.Entry{
			Number:    uint32(nextSlot),
			Position:  uint64(position),
			Size:      uint32(len(doc)),
			Partition: 0,
		}
		if _, ok := b.idx.Add(entry, nil); !ok {
			continue
		}
		result.IndexSlots[name] = nextSlot
		b.broadcast()
	}

	completion.setResult(result)
	return result, nil
}

// evalMatcher runs m.Match, converting a panic into an error so that a
// broken matcher only disqualifies its own index rather than the whole
// write.
func evalMatcher(m matcher.Matcher, doc []byte) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage: matcher panicked: %v", r)
		}
	}()
	return m.Match(doc)
}

// ReadFrom reads the raw bytes written at position. ok is false for any
// expected miss (closed storage, corrupt record); structural detail is
// available from the partition package directly if needed.
func (s *Storage) ReadFrom(position int64, size int) ([]byte, bool) {
	s.mu.Lock()
	closed := s.closed
	part := s.part
	s.mu.Unlock()
	if closed {
		return nil, false
	}
	doc, ok, err := part.ReadFrom(position, size)
	if err != nil {
		return nil, false
	}
	return doc, ok
}

// ReadRange resolves slots [fromSlot, toSlot] of idx and returns a lazy,
// restartable stream over their documents.
func (s *Storage) ReadRange(fromSlot, toSlot int64, idx *index.Index) (*stream.ReadableStream, bool) {
	entries, ok := idx.Range(fromSlot, toSlot)
	if !ok {
		return nil, false
	}
	return stream.New(entries, func(e index.Entry) ([]byte, bool) {
		return s.ReadFrom(int64(e.Position), int(e.Size))
	}), true
}

// NotifyChan returns the channel that closes the next time a document is
// indexed into name. Callers must re-fetch the channel after it fires.
func (s *Storage) NotifyChan(name string) (<-chan struct{}, bool) {
	s.mu.Lock()
	b, ok := s.indexes[name]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return b.notifyChan(), true
}

// consumerSource adapts a Storage + index name into a consumer.Source.
type consumerSource struct {
	s         *Storage
	indexName string
}

func (c consumerSource) Resolve(e index.Entry) ([]byte, bool) {
	return c.s.ReadFrom(int64(e.Position), int(e.Size))
}

func (c consumerSource) NotifyChan() (<-chan struct{}, bool) {
	return c.s.NotifyChan(c.indexName)
}

// ConsumerSource returns the consumer.Source for name, suitable for passing
// to consumer.New. ok is false if name has not been ensured.
func (s *Storage) ConsumerSource(name string) (consumer.Source, bool) {
	s.mu.Lock()
	_, ok := s.indexes[name]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return consumerSource{s: s, indexName: name}, true
}

// Close flushes and closes every index, then the partition.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	indexes := s.indexes
	s.indexes = nil
	s.mu.Unlock()

	var firstErr error
	for _, b := range indexes {
		if err := b.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.part.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
