// Package work provides a bounded worker pool. Heavy pipeline stages run
// on pool workers so the HTTP accept loop only ever suspends at the
// point where it awaits a submitted task's result.
package work

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of a submitted task.
type Result struct {
	Value any
	Err   error
}

type task struct {
	fn  func() (any, error)
	out chan Result
}

// Pool runs submitted tasks on a fixed set of worker goroutines.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPool starts workers goroutines ready to accept tasks.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan task, workers*2),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for t := range p.tasks {
				v, err := t.fn()
				t.out <- Result{Value: v, Err: err}
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}
	return p
}

// Submit queues fn and returns a channel delivering exactly one Result.
// A task always runs to completion once dispatched; a caller that stops
// waiting does not cancel it.
func (p *Pool) Submit(fn func() (any, error)) <-chan Result {
	out := make(chan Result, 1)
	p.tasks <- task{fn: fn, out: out}
	return out
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
