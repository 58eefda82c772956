package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestResourceCollectorSamplesSelf(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewResourceCollector(10 * time.Millisecond)
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, func() map[string]int {
		return map[string]int{"self": os.Getpid()}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mfs, err := reg.Gather()
		if err != nil {
			t.Fatalf("gather: %v", err)
		}
		var rss float64
		for _, mf := range mfs {
			if mf.GetName() == "warden_process_memory_rss_bytes" && len(mf.GetMetric()) > 0 {
				rss = mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		if rss > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no RSS sample for own pid")
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Stop()
}

func TestResourceCollectorDropsVanishedIDs(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewResourceCollector(time.Hour)
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	c.sample(map[string]int{"self": os.Getpid()})
	c.sample(map[string]int{})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if len(mf.GetMetric()) != 0 {
			t.Fatalf("metric %s still has series after process vanished", mf.GetName())
		}
	}
}

func TestResourceCollectorStopIdempotent(t *testing.T) {
	c := NewResourceCollector(0)
	if c.interval != defaultSampleInterval {
		t.Fatalf("expected default interval, got %s", c.interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, func() map[string]int { return nil })
	cancel()
	c.Stop()
	c.Stop()
}
