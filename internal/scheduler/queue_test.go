package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestQueueRunsEveryJob(t *testing.T) {
	q := newQueue(3)
	q.start(context.Background())
	var ran atomic.Int64
	for i := 0; i < 60; i++ {
		q.submit(job{priority: i % 3, run: func(context.Context) { ran.Add(1) }})
	}
	q.close()
	q.wait()
	if got := ran.Load(); got != 60 {
		t.Fatalf("expected 60 jobs run, got %d", got)
	}
}

func TestQueueStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newQueue(2)
	q.start(ctx)
	cancel()
	q.wait() // must not hang
}
