package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/pkg/logger"
)

type JobKind string

const (
	JobRun    JobKind = "run"
	JobImport JobKind = "import"
)

type Job struct {
	ExtractionID string
	Kind         JobKind
	Queued       time.Time
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue. Dispatch
// never blocks: when the queue is full the job is skipped and the extraction
// stays in the repository for the retry worker.
type Pool struct {
	o       *Orchestrator
	queue   chan Job
	workers int
	wg      sync.WaitGroup
}

func NewPool(o *Orchestrator, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{o: o, queue: make(chan Job, queueSize), workers: workers}
}

func (p *Pool) Dispatch(job Job) bool {
	job.Queued = time.Now()
	select {
	case p.queue <- job:
		metrics.DispatchQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		metrics.DispatchDropped.Inc()
		logger.Warn("Dispatch queue full, leaving extraction for the retry worker",
			zap.String("extraction_id", job.ExtractionID),
			zap.String("kind", string(job.Kind)),
		)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and in-flight
// jobs have finished.
func (p *Pool) Run(ctx context.Context) error {
	logger.Info("Dispatch pool started", zap.Int("workers", p.workers), zap.Int("queue", cap(p.queue)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					metrics.DispatchQueueDepth.Set(float64(len(p.queue)))
					p.handle(context.WithoutCancel(ctx), worker, job)
				}
			}
		}(i)
	}

	<-ctx.Done()
	p.wg.Wait()
	logger.Info("Dispatch pool stopped")
	return nil
}

func (p *Pool) handle(ctx context.Context, worker int, job Job) {
	logger.Debug("Dispatching job",
		zap.Int("worker", worker),
		zap.String("extraction_id", job.ExtractionID),
		zap.String("kind", string(job.Kind)),
		zap.Duration("queued_for", time.Since(job.Queued)),
	)

	var err error
	switch job.Kind {
	case JobImport:
		err = p.o.Import(ctx, job.ExtractionID)
	default:
		err = p.o.Run(ctx, job.ExtractionID)
	}
	if err != nil {
		logger.Error("Job failed",
			zap.String("extraction_id", job.ExtractionID),
			zap.String("kind", string(job.Kind)),
			zap.Error(err),
		)
	}
}
