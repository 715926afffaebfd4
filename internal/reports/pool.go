package reports

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction processes one queued job.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed-size pool of report-rendering goroutines,
// adapted from the teacher's connection-handling WorkerPool
// (internal/worker.go) to a CSV-rendering job queue: same
// tomb-supervised fixed pool shape, new domain.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool returns a pool sized to run up to size jobs at once.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// Submit enqueues a job for the pool. Blocks if the queue is full.
func (pool *WorkerPool) Submit(task any) {
	pool.tasks <- task
}

// Setup starts the pool's n workers under t; each runs until t dies.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("starting report worker pool")
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

// worker pulls jobs off the queue until t dies, running each to
// completion before taking the next.
func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("report worker job failed")
			}
		}
	}
}
