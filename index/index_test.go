package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestIndex(t *testing.T, metadata []byte, opts Options) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx0")
	idx, err := Open(path, metadata, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func TestAddGetSequentialAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx0")
	idx, err := Open(path, []byte(`{"name":"by-ts"}`), DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := uint32(1); i <= 25; i++ {
		e := Entry{Number: i, Position: uint64(i) * 10, Size: 10, Partition: 0}
		if _, ok := idx.Add(e, nil); !ok {
			t.Fatalf("add %d failed", i)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx2, err := Open(path, []byte(`{"name":"by-ts"}`), DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	if got := idx2.Length(); got != 25 {
		t.Fatalf("want length 25, got %d", got)
	}
	e, ok := idx2.Get(1)
	if !ok || e.Number != 1 {
		t.Fatalf("slot 1: ok=%v e=%+v", ok, e)
	}
	last, ok := idx2.LastEntry()
	if !ok || last.Number != 25 {
		t.Fatalf("last entry: ok=%v e=%+v", ok, last)
	}
	neg, ok := idx2.Get(-1)
	if !ok || neg.Number != 25 {
		t.Fatalf("get(-1): ok=%v e=%+v", ok, neg)
	}
}

func TestFindLargestLEAndSmallestGE(t *testing.T) {
	idx, _ := newTestIndex(t, nil, DefaultOptions())

	// Numbers double on each slot: slot i -> number 2*i, for i in [1, 15].
	for i := uint32(1); i <= 15; i++ {
		e := Entry{Number: i * 2, Position: uint64(i), Size: 1}
		if _, ok := idx.Add(e, nil); !ok {
			t.Fatalf("add %d failed", i)
		}
	}

	if got := idx.Find(25, false); got != 12 {
		t.Fatalf("Find(25, false) = %d, want 12", got)
	}
	if got := idx.Find(25, true); got != 13 {
		t.Fatalf("Find(25, true) = %d, want 13", got)
	}
	if got := idx.Find(0, false); got != 0 {
		t.Fatalf("Find(0, false) = %d, want 0", got)
	}
	if got := idx.Find(1000, false); got != 15 {
		t.Fatalf("Find(1000, false) = %d, want 15", got)
	}
	if got := idx.Find(1000, true); got != 0 {
		t.Fatalf("Find(1000, true) = %d, want 0", got)
	}
}

func TestRangeNormalizesNegativeEndpoints(t *testing.T) {
	idx, _ := newTestIndex(t, nil, DefaultOptions())
	for i := uint32(1); i <= 5; i++ {
		idx.Add(Entry{Number: i}, nil)
	}

	entries, ok := idx.Range(-3, -1)
	if !ok {
		t.Fatalf("range failed")
	}
	if len(entries) != 3 || entries[0].Number != 3 || entries[2].Number != 5 {
		t.Fatalf("unexpected range result: %+v", entries)
	}

	all, ok := idx.All()
	if !ok || len(all) != 5 {
		t.Fatalf("all: ok=%v len=%d", ok, len(all))
	}
}

func TestMetadataMismatchOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx0")
	idx, err := Open(path, []byte(`{"v":1}`), DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Open(path, []byte(`{"v":2}`), DefaultOptions()); !errors.Is(err, ErrIndexMetadataMismatch) {
		t.Fatalf("want ErrIndexMetadataMismatch, got %v", err)
	}
}

func TestTruncateThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx0")
	idx, err := Open(path, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := uint32(1); i <= 10; i++ {
		idx.Add(Entry{Number: i}, nil)
	}
	if err := idx.Truncate(4); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if got := idx.Length(); got != 4 {
		t.Fatalf("length after truncate = %d, want 4", got)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx2, err := Open(path, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	if got := idx2.Length(); got != 4 {
		t.Fatalf("length after reopen = %d, want 4", got)
	}
	last, ok := idx2.LastEntry()
	if !ok || last.Number != 4 {
		t.Fatalf("last entry after reopen: ok=%v e=%+v", ok, last)
	}
}

func TestCorruptTrailingBytesAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx0")
	idx, err := Open(path, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.Add(Entry{Number: 1}, nil)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	if _, err := f.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	if _, err := Open(path, nil, DefaultOptions()); !errors.Is(err, ErrIndexFileCorrupt) {
		t.Fatalf("want ErrIndexFileCorrupt, got %v", err)
	}
}

func TestGetOutOfRangeReturnsFalse(t *testing.T) {
	idx, _ := newTestIndex(t, nil, DefaultOptions())
	idx.Add(Entry{Number: 1}, nil)

	if _, ok := idx.Get(0); ok {
		t.Fatalf("expected ok=false for slot 0")
	}
	if _, ok := idx.Get(2); ok {
		t.Fatalf("expected ok=false for out-of-range slot")
	}
}

func TestAddFlushCallbackFiresWithPosition(t *testing.T) {
	idx, _ := newTestIndex(t, nil, Options{BufferSize: EntrySize})

	var got int64 = -1
	pos, ok := idx.Add(Entry{Number: 1}, func(p int64) { got = p })
	if !ok {
		t.Fatalf("add failed")
	}
	// Second add forces a flush of the first since the buffer only holds one entry.
	idx.Add(Entry{Number: 2}, nil)
	if got != pos {
		t.Fatalf("callback position = %d, want %d", got, pos)
	}
}

func TestFlushDelayFlushesWithoutFillingBuffer(t *testing.T) {
	opts := DefaultOptions()
	opts.BufferSize = 1 << 20
	opts.FlushDelay = 5 * time.Millisecond
	idx, path := newTestIndex(t, nil, opts)

	if _, ok := idx.Add(Entry{Number: 1}, nil); !ok {
		t.Fatalf("add failed")
	}

	deadline := time.Now().Add(time.Second)
	for {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read file: %v", err)
		}
		if len(raw) > int(idx.headerLen) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("idle flush never reached disk")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseStopsIdleFlushLoopAndIsIdempotent(t *testing.T) {
	opts := DefaultOptions()
	opts.FlushDelay = time.Millisecond
	idx, _ := newTestIndex(t, nil, opts)

	if _, ok := idx.Add(Entry{Number: 1}, nil); !ok {
		t.Fatalf("add failed")
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
