// Package parallel runs independent solver jobs on a bounded set of
// goroutines. A solver itself is single-threaded; parallelism comes from
// solving several problems, or several configurations of one problem, at
// the same time.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// ErrPoolShutdown is returned when trying to submit jobs to a shut down
// pool.
var ErrPoolShutdown = errors.New("worker pool has been shut down")

// WorkerPool manages a fixed number of goroutines fed from a buffered
// channel. Submit blocks while every worker is busy and the buffer is full.
type WorkerPool struct {
	maxWorkers   int
	taskChan     chan func()
	workerWg     sync.WaitGroup
	shutdownChan chan struct{}
	once         sync.Once
}

// NewWorkerPool creates a pool with maxWorkers goroutines, or one per CPU
// when maxWorkers is not positive.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		maxWorkers:   maxWorkers,
		taskChan:     make(chan func(), maxWorkers*2),
		shutdownChan: make(chan struct{}),
	}
	for i := 0; i < maxWorkers; i++ {
		pool.workerWg.Add(1)
		go pool.worker()
	}
	return pool
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.maxWorkers }

func (wp *WorkerPool) worker() {
	defer wp.workerWg.Done()

	for {
		select {
		case task, ok := <-wp.taskChan:
			if !ok {
				return
			}
			if task != nil {
				task()
			}
		case <-wp.shutdownChan:
			return
		}
	}
}

// Submit queues a task. It blocks until the task is queued, ctx ends or
// the pool is shut down.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case <-wp.shutdownChan:
		return ErrPoolShutdown
	default:
	}
	select {
	case wp.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.shutdownChan:
		return ErrPoolShutdown
	}
}

// Shutdown stops the workers once they finish their current task. Queued
// tasks that no worker picked up yet are dropped.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() {
		close(wp.shutdownChan)
		wp.workerWg.Wait()
	})
}

// Job is one unit of work of a batch, identified by its position.
type Job[R any] func(ctx context.Context) (R, error)

// Outcome is the result of the job at position Index.
type Outcome[R any] struct {
	Index  int
	Result R
	Err    error
}

// RunBatch runs every job on pool and returns their outcomes in job order.
// Jobs keep running after one of them fails; only ctx stops the batch, in
// which case the jobs not yet submitted report ctx.Err().
func RunBatch[R any](ctx context.Context, pool *WorkerPool, jobs []Job[R]) []Outcome[R] {
	out := make([]Outcome[R], len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		out[i].Index = i
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			out[i].Result, out[i].Err = job(ctx)
		})
		if err != nil {
			wg.Done()
			out[i].Err = err
		}
	}
	wg.Wait()
	return out
}
