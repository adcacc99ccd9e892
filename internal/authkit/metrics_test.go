package authkit

import (
	"sync"
	"testing"
)

func TestCounterMetricsConcurrentIncrements(t *testing.T) {
	recorder := NewCounterMetrics()
	var waiters sync.WaitGroup
	for workerIndex := 0; workerIndex < 8; workerIndex++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			for iteration := 0; iteration < 100; iteration++ {
				recorder.Increment(MetricSignInSuccess)
			}
		}()
	}
	waiters.Wait()

	if count := recorder.Count(MetricSignInSuccess); count != 800 {
		t.Fatalf("expected 800 increments, got %d", count)
	}
	snapshot := recorder.Snapshot()
	if snapshot[MetricSignInSuccess] != 800 {
		t.Fatalf("expected snapshot to carry 800, got %d", snapshot[MetricSignInSuccess])
	}
	snapshot[MetricSignInSuccess] = 0
	if recorder.Count(MetricSignInSuccess) != 800 {
		t.Fatalf("expected snapshot mutation to leave the recorder untouched")
	}
}
