package workers

import (
	"context"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds the parallelism of candidate scoring and search restarts
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// A non-positive count defaults to the number of physical cores.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// DefaultWorkers returns the physical core count, falling back to the
// logical count when the host does not report it.
func DefaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

// Run executes tasks with at most Size() running at once. The first error
// cancels the context passed to the remaining tasks and is returned.
func (wp *WorkerPool) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(wp.numWorkers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return task(gctx)
		})
	}
	return g.Wait()
}

// jobItem represents a single mapping job
type jobItem[T any] struct {
	index int
	item  T
}

// resultItem represents the result of a mapping job
type resultItem[R any] struct {
	index  int
	result R
	err    error
}

// Map applies fn to every item in parallel and returns the results in input
// order. On error the lowest-index failure is returned.
func Map[T, R any](ctx context.Context, wp *WorkerPool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	numItems := len(items)
	if numItems == 0 {
		return []R{}, nil
	}

	jobs := make(chan jobItem[T], numItems)
	results := make(chan resultItem[R], numItems)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numItems < numActualWorkers {
		numActualWorkers = numItems // Don't spawn more workers than items
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := ctx.Err(); err != nil {
					results <- resultItem[R]{index: job.index, err: err}
					continue
				}
				r, err := fn(ctx, job.item)
				results <- resultItem[R]{index: job.index, result: r, err: err}
			}
		}()
	}

	for idx, item := range items {
		jobs <- jobItem[T]{index: idx, item: item}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]R, numItems)
	firstErr := -1
	var err error
	for r := range results {
		out[r.index] = r.result
		if r.err != nil && (firstErr < 0 || r.index < firstErr) {
			firstErr = r.index
			err = r.err
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
