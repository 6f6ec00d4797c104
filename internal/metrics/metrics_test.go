package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPartitionHookObservesWritesAndFlushes(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "test")

	h.Partition.ObserveWrite(5*time.Millisecond, 128)
	h.Partition.ObserveFlush(2*time.Millisecond, 128)

	if got := testutil.ToFloat64(h.writeBytes); got != 128 {
		t.Fatalf("write bytes = %v, want 128", got)
	}
	if got := testutil.ToFloat64(h.flushBytes.WithLabelValues("partition")); got != 128 {
		t.Fatalf("flush bytes = %v, want 128", got)
	}
}

func TestIndexHookObservesAdds(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "test")

	h.Index.ObserveAdd(time.Millisecond, 3)

	if got := testutil.ToFloat64(h.addTotal); got != 3 {
		t.Fatalf("add total = %v, want 3", got)
	}
}
