package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterDefaultIsIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	SyncRuns.WithLabelValues("manual", "ok").Inc()
	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("manual", "ok")); got < 1 {
		t.Fatalf("sync runs counter: %v", got)
	}
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "sync_runs_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("sync_runs_total not registered")
	}
}
