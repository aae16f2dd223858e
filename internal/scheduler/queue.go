package scheduler

import (
	"context"
	"sync"
)

const (
	priorityUrgent = iota
	priorityHigh
	priorityDefault
)

type job struct {
	priority int
	run      func(ctx context.Context)
}

// queue is a three-lane work queue. Workers drain the urgent lane first,
// then high, then default, so a large backlog of routine closes never
// starves the tight-window ones.
type queue struct {
	urgent chan job
	high   chan job
	def    chan job
	wg     sync.WaitGroup
	n      int
}

func newQueue(workers int) *queue {
	return &queue{
		urgent: make(chan job, 256),
		high:   make(chan job, 256),
		def:    make(chan job, 256),
		n:      workers,
	}
}

func (q *queue) submit(j job) {
	switch j.priority {
	case priorityUrgent:
		q.urgent <- j
	case priorityHigh:
		q.high <- j
	default:
		q.def <- j
	}
}

func (q *queue) start(ctx context.Context) {
	for i := 0; i < q.n; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *queue) worker(ctx context.Context) {
	defer q.wg.Done()
	high, def := q.high, q.def
	for {
		// Prefer urgent work without blocking on it.
		select {
		case j, ok := <-q.urgent:
			if !ok {
				q.drain(ctx, high)
				q.drain(ctx, def)
				return
			}
			j.run(ctx)
			continue
		default:
		}
		select {
		case j, ok := <-q.urgent:
			if !ok {
				q.drain(ctx, high)
				q.drain(ctx, def)
				return
			}
			j.run(ctx)
		case j, ok := <-high:
			if !ok {
				high = nil
				continue
			}
			j.run(ctx)
		case j, ok := <-def:
			if !ok {
				def = nil
				continue
			}
			j.run(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (q *queue) drain(ctx context.Context, ch chan job) {
	if ch == nil {
		return
	}
	for {
		select {
		case j, ok := <-ch:
			if !ok {
				return
			}
			j.run(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// close signals that no more jobs will arrive. Workers finish what is
// queued and exit.
func (q *queue) close() {
	close(q.urgent)
	close(q.high)
	close(q.def)
}

func (q *queue) wait() { q.wg.Wait() }
