package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
)

type WorkerOptions struct {
	Tick          time.Duration
	Debounce      time.Duration
	LMTimeout     time.Duration
	ImportTimeout time.Duration
	MaxRetries    int
	BatchSize     int
}

func WorkerOptionsFromConfig(cfg config.PipelineConfig) WorkerOptions {
	return WorkerOptions{
		Tick:          cfg.WorkerTick(),
		Debounce:      cfg.RetryDebounce(),
		LMTimeout:     cfg.LMTimeout(),
		ImportTimeout: cfg.ImportTxTimeout(),
		MaxRetries:    cfg.MaxRetries,
	}
}

// Worker periodically re-enters extractions the repository shows as
// unfinished: imports parked in extracted (manual retries past the retry
// budget included), uploads never dispatched, and runs abandoned mid-phase
// by a crashed process. It keeps no state of its own between sweeps.
type Worker struct {
	o    *Orchestrator
	opts WorkerOptions
	now  func() time.Time
}

// Sweep counts what one pass picked up.
type Sweep struct {
	Imported   int
	Dispatched int
	Requeued   int
	Expired    int
}

func NewWorker(o *Orchestrator, opts WorkerOptions) *Worker {
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	if opts.LMTimeout <= 0 {
		opts.LMTimeout = 60 * time.Second
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Worker{o: o, opts: opts, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Retry worker started", zap.Duration("tick", w.opts.Tick), zap.Int("max_retries", w.opts.MaxRetries))

	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Retry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("Retry worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) (Sweep, error) {
	var sweep Sweep
	store := w.o.store
	now := w.now()
	cutoff := now.Add(-w.opts.Debounce)

	stuck, err := store.FindStuckExtractions(ctx, w.opts.MaxRetries, cutoff, w.opts.BatchSize)
	if err != nil {
		return sweep, err
	}
	for _, ext := range stuck {
		if ctx.Err() != nil {
			return sweep, ctx.Err()
		}
		if err := w.o.Import(ctx, ext.ID); err != nil {
			logger.Error("Retry import failed", zap.String("extraction_id", ext.ID), zap.Error(err))
		}
		sweep.Imported++
		metrics.RetryWorkerActions.WithLabelValues("import").Inc()
	}

	resumed, err := store.FindResumedExtractions(ctx, w.opts.MaxRetries, cutoff, w.opts.BatchSize)
	if err != nil {
		return sweep, err
	}
	for _, ext := range resumed {
		if ctx.Err() != nil {
			return sweep, ctx.Err()
		}
		// one more attempt; a further failure fails it for good
		if err := w.o.Import(ctx, ext.ID); err != nil {
			logger.Error("Resumed import failed", zap.String("extraction_id", ext.ID), zap.Error(err))
		}
		sweep.Imported++
		metrics.RetryWorkerActions.WithLabelValues("resume").Inc()
	}

	pending, err := store.FindStaleExtractions(ctx, models.StatusPending, cutoff, w.opts.BatchSize)
	if err != nil {
		return sweep, err
	}
	for _, ext := range pending {
		if ctx.Err() != nil {
			return sweep, ctx.Err()
		}
		if w.o.dispatcher == nil || !w.o.dispatcher.Dispatch(Job{ExtractionID: ext.ID, Kind: JobRun}) {
			if err := w.o.Run(ctx, ext.ID); err != nil {
				logger.Error("Pending run failed", zap.String("extraction_id", ext.ID), zap.Error(err))
			}
		}
		sweep.Dispatched++
		metrics.RetryWorkerActions.WithLabelValues("dispatch").Inc()
	}

	importing, err := store.FindStaleExtractions(ctx, models.StatusImporting, now.Add(-2*w.opts.ImportTimeout), w.opts.BatchSize)
	if err != nil {
		return sweep, err
	}
	for i := range importing {
		if err := w.o.failImport(ctx, &importing[i], errors.New("import interrupted"), true); err != nil {
			logger.Error("Failed to requeue import", zap.String("extraction_id", importing[i].ID), zap.Error(err))
			continue
		}
		sweep.Requeued++
		metrics.RetryWorkerActions.WithLabelValues("requeue").Inc()
	}

	processing, err := store.FindStaleExtractions(ctx, models.StatusProcessing, now.Add(-2*w.opts.LMTimeout), w.opts.BatchSize)
	if err != nil {
		return sweep, err
	}
	for i := range processing {
		err := w.o.fail(ctx, &processing[i], models.PhasePythonExtraction, errors.New("extraction did not finish in time"), models.ExtractionPatch{})
		if err != nil {
			logger.Error("Failed to expire extraction", zap.String("extraction_id", processing[i].ID), zap.Error(err))
			continue
		}
		sweep.Expired++
		metrics.RetryWorkerActions.WithLabelValues("expire").Inc()
	}

	if counts, err := store.CountExtractionsByStatus(ctx); err == nil {
		for _, s := range []models.Status{
			models.StatusPending, models.StatusProcessing, models.StatusExtracted,
			models.StatusImporting, models.StatusCompleted, models.StatusFailed,
		} {
			metrics.ExtractionsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
		}
	}

	if sweep != (Sweep{}) {
		logger.Info("Retry sweep finished",
			zap.Int("imported", sweep.Imported),
			zap.Int("dispatched", sweep.Dispatched),
			zap.Int("requeued", sweep.Requeued),
			zap.Int("expired", sweep.Expired),
		)
	}
	return sweep, nil
}
