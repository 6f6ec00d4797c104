package storage

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nesdb/nesdb/consumer"
	"github.com/nesdb/nesdb/internal/consumerstore"
	"github.com/nesdb/nesdb/pkg/matcher"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := newTestStorage(t)
	res, err := s.Write([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok := s.ReadFrom(res.Position, res.Size)
	if !ok || string(got) != "hello" {
		t.Fatalf("read: ok=%v got=%q", ok, got)
	}
}

func TestWriteFansOutToMatchingIndexOnly(t *testing.T) {
	s := newTestStorage(t)

	accept := matcher.MatcherFunc(func(doc []byte) (bool, error) { return len(doc) > 3, nil })
	reject := matcher.MatcherFunc(func(doc []byte) (bool, error) { return false, nil })

	if _, err := s.EnsureIndex("long", accept, nil); err != nil {
		t.Fatalf("ensure long: %v", err)
	}
	if _, err := s.EnsureIndex("never", reject, nil); err != nil {
		t.Fatalf("ensure never: %v", err)
	}

	res, err := s.Write([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := res.IndexSlots["long"]; !ok {
		t.Fatalf("expected long index to accept document: %+v", res)
	}
	if _, ok := res.IndexSlots["never"]; ok {
		t.Fatalf("expected never index to reject document: %+v", res)
	}

	longIdx, _ := s.Index("long")
	if got := longIdx.Length(); got != 1 {
		t.Fatalf("long index length = %d, want 1", got)
	}
	neverIdx, _ := s.Index("never")
	if got := neverIdx.Length(); got != 0 {
		t.Fatalf("never index length = %d, want 0", got)
	}
}

func TestMatcherPanicSkipsOnlyThatIndex(t *testing.T) {
	s := newTestStorage(t)

	panicking := matcher.MatcherFunc(func(doc []byte) (bool, error) { panic("boom") })
	fine := matcher.All

	if _, err := s.EnsureIndex("panics", panicking, nil); err != nil {
		t.Fatalf("ensure panics: %v", err)
	}
	if _, err := s.EnsureIndex("fine", fine, nil); err != nil {
		t.Fatalf("ensure fine: %v", err)
	}

	res, err := s.Write([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := res.IndexSlots["panics"]; ok {
		t.Fatalf("panicking matcher should not have indexed the document")
	}
	if _, ok := res.IndexSlots["fine"]; !ok {
		t.Fatalf("fine matcher should have indexed the document")
	}
}

func TestReadRangeResolvesLazily(t *testing.T) {
	s := newTestStorage(t)
	idx, err := s.EnsureIndex("all", matcher.All, nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	want := []string{"one", "two", "three"}
	for _, w := range want {
		if _, err := s.Write([]byte(w), nil); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := idx.Length(); got != int64(len(want)) {
		t.Fatalf("index length = %d, want %d", got, len(want))
	}

	st, ok := s.ReadRange(1, 0, idx)
	if !ok {
		t.Fatalf("range failed")
	}
	for _, w := range want {
		doc, ok := st.Next()
		if !ok || string(doc) != w {
			t.Fatalf("got %q, want %q", doc, w)
		}
	}
	if _, ok := st.Next(); ok {
		t.Fatalf("expected exhausted stream")
	}
}

func TestWriteCallbackFiresAfterFlush(t *testing.T) {
	// A 16 KiB default buffer never fills for a 5-byte payload, so the
	// write stays buffered and the callback is never invoked; size the
	// buffer to exactly one record so the write flushes synchronously.
	opts := DefaultOptions()
	payload := []byte("hello")
	opts.PartitionOptions.BufferSize = 4 + len(payload) + 1
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	var mu sync.Mutex
	fired := false
	_, err = s.Write(payload, func(WriteResult) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatalf("expected callback to have fired synchronously with the fsync'd write")
	}
}

// TestWriteCallbackSeesFullResultOnSynchronousFlush forces the record to
// exactly fill the partition's write buffer, so s.part.Write flushes (and
// fires completion.markDurable) before Storage.Write's index fan-out loop
// has run. The callback must still observe the final Position/IndexSlots,
// not the zero-value WriteResult that existed at the moment the partition
// went durable.
func TestWriteCallbackSeesFullResultOnSynchronousFlush(t *testing.T) {
	opts := DefaultOptions()
	// A partition record is 4 (length) + len(payload) + 1 (trailer) bytes;
	// size the buffer to exactly that so the write fills it and flushes
	// synchronously, inside s.part.Write, before Write returns.
	payload := []byte("hello")
	opts.PartitionOptions.BufferSize = 4 + len(payload) + 1
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	idx, err := s.EnsureIndex("all", matcher.All, nil)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	var mu sync.Mutex
	var got WriteResult
	fired := false
	result, err := s.Write(payload, func(r WriteResult) {
		mu.Lock()
		got = r
		fired = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatalf("expected callback to fire for a buffer-filling write")
	}
	if got.Position != result.Position || got.Position == 0 {
		t.Fatalf("callback saw Position=%d, want the write's actual position %d", got.Position, result.Position)
	}
	if got.IndexSlots["all"] != idx.Length() {
		t.Fatalf("callback saw IndexSlots[%q]=%d, want %d", "all", got.IndexSlots["all"], idx.Length())
	}
}

func TestNotifyChanFiresOnIndexedWrite(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.EnsureIndex("all", matcher.All, nil); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	ch, ok := s.NotifyChan("all")
	if !ok {
		t.Fatalf("expected notify channel for known index")
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
		case <-time.After(time.Second):
		}
		close(done)
	}()

	if _, err := s.Write([]byte("x"), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notify channel did not fire")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Write([]byte("x"), nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("want ErrNotOpen, got %v", err)
	}
}

func TestConsumerSourceTailsLiveWrites(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.EnsureIndex("all", matcher.All, nil); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	src, ok := s.ConsumerSource("all")
	if !ok {
		t.Fatalf("expected consumer source for ensured index")
	}

	cs, err := consumerstore.Open(filepath.Join(t.TempDir(), "consumers"))
	if err != nil {
		t.Fatalf("open consumer store: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	idx, _ := s.Index("all")
	c := consumer.New("all", "tailer", idx, src, cs)
	t.Cleanup(func() { _ = c.Stop() })

	ch, err := c.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := s.Write([]byte("live"), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case doc := <-ch:
		if string(doc) != "live" {
			t.Fatalf("got %q, want %q", doc, "live")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not observe the live write")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	pos, ok, err := cs.Load("all", "tailer")
	if err != nil || !ok || pos != 1 {
		t.Fatalf("persisted position: pos=%d ok=%v err=%v", pos, ok, err)
	}
}
