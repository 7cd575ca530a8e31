package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scalpeldb/scalpel/catalog"
)

// Report summarizes a batch execution run.
type Report struct {
	BatchesCompleted int           `json:"batches_completed"`
	Executed         []string      `json:"executed"`
	FailedOp         string        `json:"failed_op,omitempty"`
	RolledBack       bool          `json:"rolled_back"`
	Duration         time.Duration `json:"duration"`
}

// BatchExecutor runs scheduled batches against one database target.
type BatchExecutor struct {
	adapter     catalog.Adapter
	log         *slog.Logger
	maxParallel int
}

// BatchOption configures a BatchExecutor.
type BatchOption func(*BatchExecutor)

// WithBatchLogger sets the structured logger. The default discards
// everything.
func WithBatchLogger(log *slog.Logger) BatchOption {
	return func(e *BatchExecutor) { e.log = log }
}

// WithMaxParallel caps concurrent operations within a parallel-safe batch.
func WithMaxParallel(n int) BatchOption {
	return func(e *BatchExecutor) { e.maxParallel = n }
}

// NewBatchExecutor builds an executor over the given catalog adapter.
func NewBatchExecutor(adapter catalog.Adapter, opts ...BatchOption) *BatchExecutor {
	e := &BatchExecutor{
		adapter:     adapter,
		log:         slog.New(slog.DiscardHandler),
		maxParallel: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteBatches runs batches strictly in level order. Within a
// parallel-safe batch, operations run concurrently, each in its own
// transaction; otherwise the whole batch runs inside one transaction on
// engines with transactional DDL, so a mid-batch failure commits nothing
// from that batch. On the first failure, everything committed by earlier
// batches of this run is compensated with its reverse SQL in reverse order,
// and the failure is reported rather than returned: the error return is
// reserved for a compensation that itself failed.
func (e *BatchExecutor) ExecuteBatches(ctx context.Context, batches []Batch) (*Report, error) {
	start := time.Now()
	report := &Report{}

	// Committed operations in execution order, kept for compensation.
	var done []Operation

	for _, batch := range batches {
		var failed *Operation
		var cause error

		if batch.Parallel && e.maxParallel > 1 {
			failed, cause = e.runParallel(ctx, batch, &done)
		} else {
			failed, cause = e.runSequential(ctx, batch, &done)
		}

		if failed != nil {
			e.log.Error("batch failed",
				"level", batch.Level, "op", failed.ID, "error", cause)
			report.FailedOp = failed.ID
			report.Duration = time.Since(start)
			for _, op := range done {
				report.Executed = append(report.Executed, op.ID)
			}
			if err := e.compensate(ctx, done); err != nil {
				return report, fmt.Errorf("operation %s failed (%v); compensation also failed: %w",
					failed.ID, cause, err)
			}
			report.RolledBack = true
			return report, nil
		}

		report.BatchesCompleted++
		e.log.Info("batch complete", "level", batch.Level, "ops", len(batch.Operations))
	}

	for _, op := range done {
		report.Executed = append(report.Executed, op.ID)
	}
	report.Duration = time.Since(start)
	return report, nil
}

// runSequential executes a batch in order. On engines with transactional
// DDL the batch is one transaction: a failure rolls the whole batch back and
// nothing needs compensating. Other engines commit per statement, so each
// committed operation is recorded for compensation.
func (e *BatchExecutor) runSequential(ctx context.Context, batch Batch, done *[]Operation) (*Operation, error) {
	if len(batch.Operations) == 0 {
		return nil, nil
	}

	if !e.adapter.SupportsTransactionalDDL() {
		for i := range batch.Operations {
			op := batch.Operations[i]
			if _, err := e.adapter.DB().ExecContext(ctx, op.ForwardSQL); err != nil {
				return &op, fmt.Errorf("operation %s: %w", op.ID, err)
			}
			*done = append(*done, op)
		}
		return nil, nil
	}

	tx, err := e.adapter.DB().BeginTxx(ctx, nil)
	if err != nil {
		return &batch.Operations[0], fmt.Errorf("begin batch: %w", err)
	}
	for i := range batch.Operations {
		op := batch.Operations[i]
		if _, err := tx.ExecContext(ctx, op.ForwardSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return &op, fmt.Errorf("operation %s: %w", op.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return &batch.Operations[0], fmt.Errorf("commit batch: %w", err)
	}
	*done = append(*done, batch.Operations...)
	return nil, nil
}

func (e *BatchExecutor) runParallel(ctx context.Context, batch Batch, done *[]Operation) (*Operation, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)

	var mu sync.Mutex
	var failed *Operation
	var cause error

	for i := range batch.Operations {
		op := batch.Operations[i]
		g.Go(func() error {
			if err := e.runOne(gctx, op); err != nil {
				mu.Lock()
				if failed == nil {
					failed = &op
					cause = err
				}
				mu.Unlock()
				return err
			}
			mu.Lock()
			*done = append(*done, op)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, cause
	}
	return nil, nil
}

// runOne executes a single operation, inside a transaction when the engine
// supports transactional DDL.
func (e *BatchExecutor) runOne(ctx context.Context, op Operation) error {
	e.log.Debug("executing operation", "op", op.ID, "kind", op.Kind, "table", op.Table)

	if !e.adapter.SupportsTransactionalDDL() {
		if _, err := e.adapter.DB().ExecContext(ctx, op.ForwardSQL); err != nil {
			return fmt.Errorf("operation %s: %w", op.ID, err)
		}
		return nil
	}

	tx, err := e.adapter.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("operation %s: begin: %w", op.ID, err)
	}
	if _, err := tx.ExecContext(ctx, op.ForwardSQL); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("operation %s: %w", op.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("operation %s: commit: %w", op.ID, err)
	}
	return nil
}

// compensate replays reverse SQL for committed operations, newest first.
// Operations without reverse SQL are skipped with a warning; their effects
// survive the rollback.
func (e *BatchExecutor) compensate(ctx context.Context, done []Operation) error {
	undoCtx := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		op := done[i]
		if op.ReverseSQL == "" {
			e.log.Warn("operation has no reverse SQL, skipping compensation", "op", op.ID)
			continue
		}
		if _, err := e.adapter.DB().ExecContext(undoCtx, op.ReverseSQL); err != nil {
			return fmt.Errorf("compensate %s: %w", op.ID, err)
		}
		e.log.Info("operation compensated", "op", op.ID)
	}
	return nil
}
