package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"inferd/internal/errdefs"
)

func TestReporterRecords(t *testing.T) {
	r := For("resnet", 3)
	r.Request("sync", nil, 5*time.Millisecond)
	r.Request("sync", errdefs.ErrInvalidShape, time.Millisecond)
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues("resnet", "3", "sync", "ok")); got != 1 {
		t.Fatalf("ok requests=%v", got)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues("resnet", "3", "sync", "configuration")); got != 1 {
		t.Fatalf("configuration requests=%v", got)
	}

	r.ContextAcquired()
	r.ContextAcquired()
	r.ContextReleased()
	if got := testutil.ToFloat64(activeContexts.WithLabelValues("resnet", "3")); got != 1 {
		t.Fatalf("active=%v", got)
	}
	r.PoolSize(4)
	r.Sequences().Set(7)
	r.Reloaded()
	if got := testutil.ToFloat64(poolSize.WithLabelValues("resnet", "3")); got != 4 {
		t.Fatalf("pool size=%v", got)
	}
	if got := testutil.ToFloat64(reloadsTotal.WithLabelValues("resnet", "3")); got != 1 {
		t.Fatalf("reloads=%v", got)
	}

	r.Forget()
	if n := testutil.CollectAndCount(poolSize); n != 0 {
		t.Fatalf("series left after Forget: %d", n)
	}
}

func TestNilReporter(t *testing.T) {
	var r *Reporter
	r.Request("sync", nil, time.Second)
	r.WaitForContext(time.Second)
	r.Inference(time.Second)
	r.ContextAcquired()
	r.ContextReleased()
	r.PoolSize(1)
	r.Reloaded()
	r.Forget()
}

func TestOutcome(t *testing.T) {
	cases := map[error]string{
		nil:                          "ok",
		errdefs.ErrTooBusy:           "concurrency",
		errdefs.ErrModelNotLoadedYet: "unavailable",
		errors.New("boom"):           "unknown",
	}
	for err, want := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v)=%q want %q", err, got, want)
		}
	}
}
