package stash

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "save_yarn", true, 20*time.Millisecond)
	rec.Observe(ctx, "save_yarn", true, 30*time.Millisecond)
	rec.Observe(ctx, "save_yarn", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second) // ignored

	stats := rec.Stats("save_yarn")
	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("errors = %d, want 1", stats.Errors)
	}
	if stats.TotalMS != 55 {
		t.Fatalf("total = %v, want 55", stats.TotalMS)
	}
	if len(rec.Snapshot()) != 1 {
		t.Fatalf("unexpected snapshot: %+v", rec.Snapshot())
	}
	if rec.Name() == "" {
		t.Fatal("expected generated name")
	}
}

func TestRepositoryReportsMetrics(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	repo, _ := newTestRepo(t, WithMetrics(rec))
	seedRepo(t, repo)

	for _, op := range []string{"load", "save_yarn", "set_assignments"} {
		stats := rec.Stats(op)
		if stats.Count != 1 || stats.Errors != 0 {
			t.Fatalf("%s not recorded: %+v", op, stats)
		}
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	ctx := context.Background()

	rec.Observe(ctx, "import_archive", true, 40*time.Millisecond)
	rec.Observe(ctx, "import_archive", false, 10*time.Millisecond)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("import_archive", "success")); got != 1 {
		t.Fatalf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("import_archive", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 2 {
		t.Fatalf("expected two metric families, got %d", len(families))
	}
}
