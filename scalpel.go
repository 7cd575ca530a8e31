// Package scalpel analyzes schema dependencies and executes staged,
// reversible column removals and batched DDL against a database target.
//
// An Engine binds one catalog adapter. Dependency discovery, removal
// planning, safety validation, staged execution, and batch scheduling are
// exposed here; the engine-specific catalog work lives in the adapters under
// catalog/.
package scalpel

import (
	"context"
	"fmt"

	"github.com/scalpeldb/scalpel/backup"
	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/depend"
	"github.com/scalpeldb/scalpel/migrate"
	"github.com/scalpeldb/scalpel/remove"
)

// Engine is the top-level entry point for one database target.
type Engine struct {
	adapter  catalog.Adapter
	analyzer *depend.Analyzer
	remover  *remove.Executor
	batcher  *migrate.BatchExecutor
}

// New builds an engine over a connected catalog adapter.
func New(adapter catalog.Adapter, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	removeOpts := []remove.Option{remove.WithLogger(cfg.log)}
	if cfg.store != nil {
		removeOpts = append(removeOpts, remove.WithBackupStore(cfg.store))
	}
	if cfg.gate != nil {
		removeOpts = append(removeOpts, remove.WithStageGate(cfg.gate))
	}
	if cfg.stageTimeout > 0 {
		removeOpts = append(removeOpts, remove.WithStageTimeout(cfg.stageTimeout))
	}

	return &Engine{
		adapter:  adapter,
		analyzer: depend.NewAnalyzer(adapter, cfg.log),
		remover:  remove.NewExecutor(adapter, removeOpts...),
		batcher: migrate.NewBatchExecutor(adapter,
			migrate.WithBatchLogger(cfg.log),
			migrate.WithMaxParallel(cfg.maxParallel)),
	}
}

// AnalyzeDependencies discovers every dependency on the given column across
// all catalog surfaces and classifies its removal risk.
func (e *Engine) AnalyzeDependencies(ctx context.Context, table, column string) (*depend.Report, error) {
	return e.analyzer.AnalyzeColumn(ctx, table, column)
}

// AnalyzeTableDependencies aggregates the per-column reports of every column
// in the table.
func (e *Engine) AnalyzeTableDependencies(ctx context.Context, table string) (*depend.Report, error) {
	t, err := e.adapter.DescribeTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	columns := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		columns[i] = c.Name
	}
	return e.analyzer.AnalyzeTable(ctx, table, columns)
}

// PlanRemoval prepares a column removal without touching the schema.
func (e *Engine) PlanRemoval(ctx context.Context, table, column string, strategy backup.Strategy) (*remove.Plan, error) {
	return e.remover.PlanColumnRemoval(ctx, table, column, strategy)
}

// ValidateSafety analyzes the planned column's dependencies and attaches the
// verdict to the plan.
func (e *Engine) ValidateSafety(ctx context.Context, plan *remove.Plan) (*remove.SafetyValidation, error) {
	return e.remover.ValidateRemovalSafety(ctx, plan)
}

// ExecuteRemoval drives the plan through the removal stage machine.
func (e *Engine) ExecuteRemoval(ctx context.Context, plan *remove.Plan, force bool) (*remove.Result, error) {
	return e.remover.ExecuteSafeRemoval(ctx, plan, force)
}

// RestoreColumn re-adds a removed column from its backup artifact.
func (e *Engine) RestoreColumn(ctx context.Context, plan *remove.Plan) error {
	return e.remover.RestoreColumn(ctx, plan)
}

// BatchOperations schedules DDL operations into dependency-ordered batches.
func (e *Engine) BatchOperations(ops []migrate.Operation) ([]migrate.Batch, error) {
	return migrate.BuildBatches(ops)
}

// ExecuteBatches runs scheduled batches in level order.
func (e *Engine) ExecuteBatches(ctx context.Context, batches []migrate.Batch) (*migrate.Report, error) {
	return e.batcher.ExecuteBatches(ctx, batches)
}
