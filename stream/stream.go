// Package stream adapts a resolved sequence of index entries into a
// restartable reader: a pull-iterator for synchronous consumers and a
// channel for consumers that want to range over it.
package stream

import (
	"context"
	"sync"

	"github.com/nesdb/nesdb/index"
)

// Resolver turns an index entry into the document it points at. ok is false
// when the entry no longer resolves (the partition was truncated past it);
// that ends the stream early rather than erroring.
type Resolver func(e index.Entry) (doc []byte, ok bool)

// ReadableStream is a lazy, restartable sequence of documents resolved from
// a fixed slice of index entries captured at construction time.
type ReadableStream struct {
	mu      sync.Mutex
	entries []index.Entry
	resolve Resolver
	pos     int
}

// New wraps entries with resolve. entries is typically the result of an
// Index.Range call.
func New(entries []index.Entry, resolve Resolver) *ReadableStream {
	return &ReadableStream{entries: entries, resolve: resolve}
}

// Next returns the next document, or ok=false once the sequence is
// exhausted or the next entry fails to resolve.
func (s *ReadableStream) Next() (doc []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.entries) {
		return nil, false
	}
	e := s.entries[s.pos]
	s.pos++
	doc, ok = s.resolve(e)
	if !ok {
		s.pos = len(s.entries)
	}
	return doc, ok
}

// Reset rewinds the stream to its first entry.
func (s *ReadableStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
}

// Len returns the number of entries in the underlying sequence, irrespective
// of how far Next has advanced.
func (s *ReadableStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// C returns a channel that yields every remaining document in order, closed
// once the stream is exhausted or ctx is done. Each call to C drains the
// stream from its current position; call Reset first to replay from the
// start.
func (s *ReadableStream) C(ctx context.Context) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for {
			doc, ok := s.Next()
			if !ok {
				return
			}
			select {
			case ch <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
