// Package worker runs the fixed-size stage pools that move Orders through
// the pipeline: each Worker pops one Order from its input queue, applies
// a stage action that advances it by exactly one status, emits it
// downstream, and repeats until told to stop.
package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/orderline/internal/order"
	"github.com/ChuLiYu/orderline/internal/queue"
)

var log = slog.Default()

// StageFunc advances an Order by exactly one status. It is only ever
// called with an Order whose current status makes the call legal, so it
// is not expected to return an error in normal operation.
type StageFunc func(o *order.Order) error

// EmitFunc hands a processed Order to the next stage (a queue push) or to
// the terminal sink (the delivered store). It returns false only when the
// pipeline is shutting down immediately and the order had to be
// abandoned.
type EmitFunc func(o *order.Order) bool

// Worker is one goroutine running a single stage's loop.
type Worker struct {
	id         int
	in         *queue.BoundedBlockingQueue[*order.Order]
	popTimeout time.Duration
	cancelled  *atomic.Bool
	stage      StageFunc
	onDone     func(o *order.Order)
	emit       EmitFunc
}

func newWorker(id int, in *queue.BoundedBlockingQueue[*order.Order], popTimeout time.Duration, cancelled *atomic.Bool, stage StageFunc, onDone func(*order.Order), emit EmitFunc) *Worker {
	return &Worker{
		id:         id,
		in:         in,
		popTimeout: popTimeout,
		cancelled:  cancelled,
		stage:      stage,
		onDone:     onDone,
		emit:       emit,
	}
}

// Run is the main loop of Worker:
//  1. If cancellation is raised: exit without popping again, so orders
//     still buffered in in stay there.
//  2. Pop from in with popTimeout.
//  3. On an element: apply stage, bump the stage counter, emit downstream.
//  4. On a miss (timeout) with cancellation raised: exit.
//  5. On a miss with in closed (Pop already drains buffered elements
//     before returning false, so a closed miss means in is also empty):
//     exit.
//  6. Otherwise: loop.
//
// A panic while processing one Order is recovered, logged, and treated as
// fatal only to that Order — the worker keeps running afterward.
func (w *Worker) Run() {
	for {
		if w.cancelled.Load() {
			return
		}
		var o *order.Order
		ok := w.in.Pop(&o, w.popTimeout)
		if !ok {
			if w.cancelled.Load() {
				return
			}
			if w.in.Closed() {
				return
			}
			continue
		}

		w.process(o)
	}
}

func (w *Worker) process(o *order.Order) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker: panic while processing order", "worker", w.id, "order_id", o.ID, "panic", r)
		}
	}()

	if err := w.stage(o); err != nil {
		log.Error("worker: stage action failed", "worker", w.id, "order_id", o.ID, "error", err)
		return
	}

	w.onDone(o)

	if !w.emit(o) {
		log.Warn("worker: order abandoned during shutdown", "worker", w.id, "order_id", o.ID)
	}
}

// Pool runs a fixed number of Workers against a shared input queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds n Workers, each popping from in with popTimeout,
// applying stage, recording completion via onDone, and handing the
// result to emit.
func NewPool(n int, in *queue.BoundedBlockingQueue[*order.Order], popTimeout time.Duration, cancelled *atomic.Bool, stage StageFunc, onDone func(*order.Order), emit EmitFunc) *Pool {
	p := &Pool{workers: make([]*Worker, 0, n)}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, newWorker(i, in, popTimeout, cancelled, stage, onDone, emit))
	}
	return p
}

// Start spawns one goroutine per worker.
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}
}

// Join blocks until every worker goroutine has returned.
func (p *Pool) Join() {
	p.wg.Wait()
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
