package remove

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/backup"
	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/depend"
)

// ErrColumnAlreadyAbsent is returned when a removal targets a column that no
// longer exists. Re-executing a committed plan is a no-op, not a failure.
var ErrColumnAlreadyAbsent = errors.New("column already absent")

// Outcome classifies how an execution attempt ended.
type Outcome string

const (
	// OutcomeSuccess means the column was dropped, verified, and committed.
	OutcomeSuccess Outcome = "success"
	// OutcomeSafetyValidationFailed means the verdict was unsafe and force
	// was not set. Nothing was mutated.
	OutcomeSafetyValidationFailed Outcome = "safety_validation_failed"
	// OutcomeTransactionFailed means a mutation stage failed or was vetoed
	// and the attempt was rolled back.
	OutcomeTransactionFailed Outcome = "transaction_failed"
	// OutcomeSystemError means the context was cancelled or timed out
	// mid-flight; the attempt was rolled back as far as possible.
	OutcomeSystemError Outcome = "system_error"
)

// Result describes one execution attempt.
type Result struct {
	Outcome          Outcome       `json:"outcome"`
	Stage            Stage         `json:"stage"`
	ExecutionTime    time.Duration `json:"execution_time"`
	BackupPreserved  bool          `json:"backup_preserved"`
	RollbackExecuted bool          `json:"rollback_executed"`
	Message          string        `json:"message,omitempty"`
}

// Executor runs column removals against one database target.
type Executor struct {
	adapter      catalog.Adapter
	analyzer     *depend.Analyzer
	store        *backup.Store
	log          *slog.Logger
	gate         Gate
	stageTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithBackupStore sets the artifact store. Without one, only StrategyNone
// removals and manifest-less snapshots are possible.
func WithBackupStore(store *backup.Store) Option {
	return func(e *Executor) { e.store = store }
}

// WithStageGate installs a hook invoked before every stage transition.
func WithStageGate(gate Gate) Option {
	return func(e *Executor) { e.gate = gate }
}

// WithStageTimeout bounds the wall time of each individual stage.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stageTimeout = d }
}

// NewExecutor builds an executor over the given catalog adapter.
func NewExecutor(adapter catalog.Adapter, opts ...Option) *Executor {
	e := &Executor{
		adapter: adapter,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.analyzer = depend.NewAnalyzer(adapter, e.log)
	return e
}

// PlanColumnRemoval prepares a removal without touching the schema. The plan
// records the column's current definition, the SQL that re-adds it, and the
// table's row count for later verification.
func (e *Executor) PlanColumnRemoval(ctx context.Context, table, column string, strategy backup.Strategy) (*Plan, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown backup strategy %q", strategy)
	}

	col, err := e.adapter.DescribeColumn(ctx, table, column)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", table, column, err)
	}
	rows, err := e.adapter.CountRows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", table, err)
	}

	plan := &Plan{
		ID:          uuid.NewString(),
		Table:       table,
		Column:      column,
		Strategy:    strategy,
		ColumnDef:   *col,
		RollbackSQL: e.adapter.BuildAddColumn(table, *col),
		RowCount:    rows,
		stage:       StagePlanned,
	}
	if strategy != backup.StrategyNone {
		plan.BackupID = uuid.NewString()
	}

	e.log.Info("removal planned",
		"plan_id", plan.ID, "table", table, "column", column,
		"strategy", strategy, "rows", rows)
	return plan, nil
}

// ValidateRemovalSafety analyzes the column's dependencies and attaches the
// verdict to the plan. An unsafe verdict is returned as data, not an error.
func (e *Executor) ValidateRemovalSafety(ctx context.Context, plan *Plan) (*SafetyValidation, error) {
	report, err := e.analyzer.AnalyzeColumn(ctx, plan.Table, plan.Column)
	if err != nil {
		return nil, err
	}

	v := validateSafety(report, plan.ColumnDef.IsPrimaryKey)
	plan.report = report
	plan.validation = v
	if plan.stage == StagePlanned {
		if err := plan.transition(StageSafetyValidated); err != nil {
			return nil, err
		}
	}

	e.log.Info("safety validated",
		"plan_id", plan.ID, "safe", v.IsSafe, "risk", v.RiskLevel,
		"blocking", len(v.BlockingDependencies))
	return v, nil
}

// ExecuteSafeRemoval drives the plan through the stage machine. An unsafe
// verdict blocks execution unless force is set; any failure past the backup
// stage is compensated and the plan lands in RolledBack with the schema and
// data unchanged.
func (e *Executor) ExecuteSafeRemoval(ctx context.Context, plan *Plan, force bool) (*Result, error) {
	start := time.Now()

	if plan.stage.Terminal() {
		if plan.stage == StageCommitted {
			return nil, fmt.Errorf("plan %s already committed: %w", plan.ID, ErrColumnAlreadyAbsent)
		}
		return nil, fmt.Errorf("plan %s was rolled back; plan the removal again", plan.ID)
	}

	exists, err := e.adapter.ColumnExists(ctx, e.adapter.DB(), plan.Table, plan.Column)
	if err != nil {
		return nil, fmt.Errorf("check column %s.%s: %w", plan.Table, plan.Column, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s.%s: %w", plan.Table, plan.Column, ErrColumnAlreadyAbsent)
	}

	if plan.validation == nil {
		if _, err := e.ValidateRemovalSafety(ctx, plan); err != nil {
			return nil, err
		}
	} else if plan.stage == StagePlanned {
		if err := plan.transition(StageSafetyValidated); err != nil {
			return nil, err
		}
	}

	v := plan.validation
	if !v.IsSafe && !force {
		e.log.Warn("removal blocked",
			"plan_id", plan.ID, "table", plan.Table, "column", plan.Column,
			"blocking", len(v.BlockingDependencies))
		return &Result{
			Outcome: OutcomeSafetyValidationFailed,
			Stage:   plan.stage,
			Message: fmt.Sprintf("blocked by %d high-impact dependencies; re-run with force to override",
				len(v.BlockingDependencies)),
			ExecutionTime: time.Since(start),
		}, nil
	}

	// TableSnapshot is mandatory at Medium risk or above, forced or not.
	if v.RiskLevel >= depend.Medium && plan.Strategy != backup.StrategyTableSnapshot {
		e.log.Warn("removal blocked by backup strategy",
			"plan_id", plan.ID, "risk", v.RiskLevel, "strategy", plan.Strategy)
		return &Result{
			Outcome: OutcomeSafetyValidationFailed,
			Stage:   plan.stage,
			Message: fmt.Sprintf("risk level %s requires the %s backup strategy, plan uses %s",
				v.RiskLevel, backup.StrategyTableSnapshot, plan.Strategy),
			ExecutionTime: time.Since(start),
		}, nil
	}

	if err := e.advance(ctx, plan, StageBackupCreated, func(c context.Context) error {
		return e.createBackup(c, plan)
	}); err != nil {
		return e.abort(ctx, plan, start, err, nil, false), nil
	}
	backupPreserved := plan.Strategy != backup.StrategyNone

	drops, err := e.buildDependentDrops(plan, force)
	if err != nil {
		return e.abort(ctx, plan, start, err, nil, backupPreserved), nil
	}

	if e.adapter.SupportsTransactionalDDL() {
		return e.executeTransactional(ctx, plan, drops, start, backupPreserved)
	}
	return e.executeCompensated(ctx, plan, drops, start, backupPreserved)
}

// executeTransactional runs every mutation stage inside a single transaction;
// rollback is the database's, not ours.
func (e *Executor) executeTransactional(ctx context.Context, plan *Plan, drops []dependentDrop, start time.Time, backupPreserved bool) (*Result, error) {
	tx, err := e.adapter.DB().BeginTxx(ctx, nil)
	if err != nil {
		return e.abort(ctx, plan, start, fmt.Errorf("begin transaction: %w", err), nil, backupPreserved), nil
	}
	undo := []func(context.Context) error{
		func(context.Context) error { return tx.Rollback() },
	}

	if len(drops) > 0 {
		if err := e.advance(ctx, plan, StageDependentsHandled, func(c context.Context) error {
			for _, d := range drops {
				if _, err := tx.ExecContext(c, d.forward); err != nil {
					return fmt.Errorf("drop dependent %s: %w", d.name, err)
				}
			}
			return nil
		}); err != nil {
			return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
		}
	}

	if err := e.advance(ctx, plan, StageColumnDropped, func(c context.Context) error {
		_, err := tx.ExecContext(c, e.adapter.BuildDropColumn(plan.Table, plan.Column))
		return err
	}); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}

	if err := e.advance(ctx, plan, StageVerified, func(c context.Context) error {
		return e.verifyDropped(c, tx, plan)
	}); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}

	if err := e.advance(ctx, plan, StageCommitted, func(context.Context) error {
		return tx.Commit()
	}); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}

	return e.success(plan, start, backupPreserved), nil
}

// executeCompensated runs each mutation as its own statement and records a
// reverse statement for everything done, replaying them in reverse order on
// failure. Used by engines whose DDL implicitly commits.
func (e *Executor) executeCompensated(ctx context.Context, plan *Plan, drops []dependentDrop, start time.Time, backupPreserved bool) (*Result, error) {
	db := e.adapter.DB()
	var undo []func(context.Context) error

	if len(drops) > 0 {
		if err := e.advance(ctx, plan, StageDependentsHandled, func(c context.Context) error {
			for _, d := range drops {
				if _, err := db.ExecContext(c, d.forward); err != nil {
					return fmt.Errorf("drop dependent %s: %w", d.name, err)
				}
				if d.reverse != "" {
					stmt := d.reverse
					undo = append(undo, func(c context.Context) error {
						_, err := db.ExecContext(c, stmt)
						return err
					})
				}
			}
			return nil
		}); err != nil {
			return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
		}
	}

	if err := e.advance(ctx, plan, StageColumnDropped, func(c context.Context) error {
		_, err := db.ExecContext(c, e.adapter.BuildDropColumn(plan.Table, plan.Column))
		return err
	}); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}
	undo = append(undo, func(c context.Context) error {
		if _, err := db.ExecContext(c, plan.RollbackSQL); err != nil {
			return err
		}
		if plan.Strategy == backup.StrategyColumnOnly && plan.BackupID != "" {
			return e.restoreData(c, plan)
		}
		return nil
	})

	if err := e.advance(ctx, plan, StageVerified, func(c context.Context) error {
		return e.verifyDropped(c, db, plan)
	}); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}

	if err := e.advance(ctx, plan, StageCommitted, nil); err != nil {
		return e.abort(ctx, plan, start, err, undo, backupPreserved), nil
	}

	return e.success(plan, start, backupPreserved), nil
}

// advance gates, runs, and records one stage transition.
func (e *Executor) advance(ctx context.Context, plan *Plan, to Stage, work func(context.Context) error) error {
	if e.gate != nil {
		if err := e.gate(to); err != nil {
			return fmt.Errorf("stage %s vetoed: %w", to, err)
		}
	}
	stageCtx := ctx
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}
	if work != nil {
		if err := work(stageCtx); err != nil {
			return fmt.Errorf("stage %s: %w", to, err)
		}
	}
	if err := plan.transition(to); err != nil {
		return err
	}
	e.log.Debug("stage complete", "plan_id", plan.ID, "stage", to)
	return nil
}

// abort replays compensations in reverse order and lands the plan in
// RolledBack. Compensations run on a context detached from the caller's so a
// cancellation that caused the abort cannot also break the rollback.
func (e *Executor) abort(ctx context.Context, plan *Plan, start time.Time, cause error, undo []func(context.Context) error, backupPreserved bool) *Result {
	undoCtx := context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](undoCtx); err != nil {
			e.log.Error("compensation failed", "plan_id", plan.ID, "error", err)
		}
	}
	if err := plan.transition(StageRolledBack); err != nil {
		e.log.Error("rollback transition failed", "plan_id", plan.ID, "error", err)
	}

	e.log.Error("removal rolled back",
		"plan_id", plan.ID, "table", plan.Table, "column", plan.Column, "error", cause)
	return &Result{
		Outcome:          classify(cause),
		Stage:            plan.stage,
		ExecutionTime:    time.Since(start),
		BackupPreserved:  backupPreserved,
		RollbackExecuted: true,
		Message:          cause.Error(),
	}
}

func (e *Executor) success(plan *Plan, start time.Time, backupPreserved bool) *Result {
	e.log.Info("column removed",
		"plan_id", plan.ID, "table", plan.Table, "column", plan.Column)
	return &Result{
		Outcome:         OutcomeSuccess,
		Stage:           plan.stage,
		ExecutionTime:   time.Since(start),
		BackupPreserved: backupPreserved,
	}
}

func (e *Executor) verifyDropped(ctx context.Context, q sqlx.QueryerContext, plan *Plan) error {
	exists, err := e.adapter.ColumnExists(ctx, q, plan.Table, plan.Column)
	if err != nil {
		return fmt.Errorf("verify drop: %w", err)
	}
	if exists {
		return fmt.Errorf("column %s.%s still present after drop", plan.Table, plan.Column)
	}
	return nil
}

func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeSystemError
	}
	return OutcomeTransactionFailed
}

// dependentDrop is one dependent object removed before the column drop, with
// the statement that rebuilds it.
type dependentDrop struct {
	name    string
	forward string
	reverse string
}

// buildDependentDrops turns the plan's dependency report into the drop
// statements that must precede the column drop. Foreign keys are only handled
// on forced runs; indexes and standalone constraints are always handled since
// several engines refuse to drop a column they reference. Views and triggers
// are left in place for the engine to accept or reject.
func (e *Executor) buildDependentDrops(plan *Plan, force bool) ([]dependentDrop, error) {
	if plan.report == nil {
		return nil, nil
	}

	var drops []dependentDrop
	seen := make(map[string]bool)
	for _, rec := range plan.report.All() {
		if seen[rec.ObjectName] {
			continue
		}
		switch rec.Kind {
		case depend.KindForeignKey:
			if !force {
				continue
			}
			fwd := e.adapter.BuildDropConstraint(rec.SourceTable, rec.ObjectName)
			if fwd == "" {
				return nil, fmt.Errorf("engine %s cannot drop foreign key %s automatically; drop it manually first",
					e.adapter.DriverName(), rec.ObjectName)
			}
			drops = append(drops, dependentDrop{
				name:    rec.ObjectName,
				forward: fwd,
				reverse: e.rebuildForeignKeySQL(rec),
			})
		case depend.KindIndex:
			drops = append(drops, dependentDrop{
				name:    rec.ObjectName,
				forward: e.adapter.BuildDropIndex(rec.SourceTable, rec.ObjectName),
				reverse: executableDefinition(rec.Definition),
			})
		case depend.KindConstraint:
			if rec.Unique && rec.Definition == "" {
				// Unique constraints backed by an index were already
				// collected under KindIndex on engines that report both.
				continue
			}
			fwd := e.adapter.BuildDropConstraint(rec.SourceTable, rec.ObjectName)
			if fwd == "" {
				return nil, fmt.Errorf("engine %s cannot drop constraint %s automatically; drop it manually first",
					e.adapter.DriverName(), rec.ObjectName)
			}
			drops = append(drops, dependentDrop{
				name:    rec.ObjectName,
				forward: fwd,
				reverse: executableDefinition(rec.Definition),
			})
		case depend.KindView, depend.KindTrigger:
			e.log.Warn("dependent left in place",
				"plan_id", plan.ID, "kind", rec.Kind, "object", rec.ObjectName)
		}
		seen[rec.ObjectName] = true
	}
	return drops, nil
}

// executableDefinition returns the stored definition when it is a runnable
// statement, empty otherwise.
func executableDefinition(def string) string {
	upper := strings.ToUpper(strings.TrimSpace(def))
	if strings.HasPrefix(upper, "CREATE") || strings.HasPrefix(upper, "ALTER") {
		return def
	}
	return ""
}

func (e *Executor) rebuildForeignKeySQL(rec depend.Record) string {
	q := e.adapter.QuoteIdentifier
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		q(rec.SourceTable), q(rec.ObjectName), q(rec.SourceColumn),
		q(rec.TargetTable), q(rec.TargetColumn))
	if rec.OnDelete != "" && rec.OnDelete != depend.ActionNoAction {
		sql += " ON DELETE " + string(rec.OnDelete)
	}
	if rec.OnUpdate != "" && rec.OnUpdate != depend.ActionNoAction {
		sql += " ON UPDATE " + string(rec.OnUpdate)
	}
	return sql
}
