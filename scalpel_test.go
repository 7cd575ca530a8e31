package scalpel

import (
	"context"
	"testing"

	"github.com/scalpeldb/scalpel/backup"
	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/catalog/sqlite"
	"github.com/scalpeldb/scalpel/depend"
	"github.com/scalpeldb/scalpel/migrate"
	"github.com/scalpeldb/scalpel/remove"
	"github.com/scalpeldb/scalpel/schema"
)

func beforeAfterDiff(before, after *schema.Table) string {
	diff := schema.DiffTable(*before, *after)
	if diff.Empty() {
		return ""
	}
	out := ""
	for _, item := range diff.Items {
		out += item.Description + "\n"
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, catalog.Adapter) {
	t.Helper()
	a := sqlite.New()
	if err := a.Connect(catalog.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	store, err := backup.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(a, WithBackupStore(store)), a
}

func seedSchema(t *testing.T, a catalog.Adapter) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			code TEXT NOT NULL,
			nickname TEXT
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_code TEXT REFERENCES customers(code) ON DELETE RESTRICT
		)`,
		`CREATE VIEW v_codes AS SELECT code FROM customers`,
		`INSERT INTO customers (id, code, nickname) VALUES (1, 'ACME', 'roadrunner')`,
		`INSERT INTO orders (id, customer_code) VALUES (10, 'ACME')`,
	}
	for _, s := range stmts {
		if _, err := a.DB().Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func TestEngineAnalyzeDependencies(t *testing.T) {
	e, a := newTestEngine(t)
	seedSchema(t, a)

	report, err := e.AnalyzeDependencies(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("AnalyzeDependencies: %v", err)
	}
	if len(report.ByKind(depend.KindForeignKey)) != 1 {
		t.Errorf("foreign keys = %d, want 1", len(report.ByKind(depend.KindForeignKey)))
	}
	if len(report.ByKind(depend.KindView)) != 1 {
		t.Errorf("views = %d, want 1", len(report.ByKind(depend.KindView)))
	}
	if report.Recommendation() != depend.Dangerous {
		t.Errorf("recommendation = %v, want Dangerous", report.Recommendation())
	}
}

func TestEngineAnalyzeTableDependencies(t *testing.T) {
	e, a := newTestEngine(t)
	seedSchema(t, a)

	report, err := e.AnalyzeTableDependencies(context.Background(), "customers")
	if err != nil {
		t.Fatalf("AnalyzeTableDependencies: %v", err)
	}
	if report.Total() == 0 {
		t.Fatal("table-level report is empty")
	}
	if len(report.ByKind(depend.KindForeignKey)) != 1 {
		t.Errorf("foreign keys = %d, want 1", len(report.ByKind(depend.KindForeignKey)))
	}
}

func TestEngineRemovalEndToEnd(t *testing.T) {
	e, a := newTestEngine(t)
	seedSchema(t, a)
	ctx := context.Background()

	plan, err := e.PlanRemoval(ctx, "customers", "nickname", backup.StrategyColumnOnly)
	if err != nil {
		t.Fatalf("PlanRemoval: %v", err)
	}
	v, err := e.ValidateSafety(ctx, plan)
	if err != nil {
		t.Fatalf("ValidateSafety: %v", err)
	}
	if !v.IsSafe {
		t.Fatalf("nickname should be safe to remove: %+v", v)
	}

	res, err := e.ExecuteRemoval(ctx, plan, false)
	if err != nil {
		t.Fatalf("ExecuteRemoval: %v", err)
	}
	if res.Outcome != remove.OutcomeSuccess {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Message)
	}

	if err := e.RestoreColumn(ctx, plan); err != nil {
		t.Fatalf("RestoreColumn: %v", err)
	}
	var nickname string
	if err := a.DB().Get(&nickname, "SELECT nickname FROM customers WHERE id = 1"); err != nil {
		t.Fatalf("select restored nickname: %v", err)
	}
	if nickname != "roadrunner" {
		t.Errorf("restored nickname = %q, want roadrunner", nickname)
	}
}

func TestEngineBlockedRemovalLeavesSchemaUnchanged(t *testing.T) {
	e, a := newTestEngine(t)
	seedSchema(t, a)
	ctx := context.Background()

	before, err := a.DescribeTable(ctx, "customers")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}

	plan, err := e.PlanRemoval(ctx, "customers", "code", backup.StrategyNone)
	if err != nil {
		t.Fatalf("PlanRemoval: %v", err)
	}
	res, err := e.ExecuteRemoval(ctx, plan, false)
	if err != nil {
		t.Fatalf("ExecuteRemoval: %v", err)
	}
	if res.Outcome != remove.OutcomeSafetyValidationFailed {
		t.Fatalf("outcome = %s, want safety_validation_failed", res.Outcome)
	}

	after, err := a.DescribeTable(ctx, "customers")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if diff := beforeAfterDiff(before, after); diff != "" {
		t.Errorf("schema changed after blocked removal:\n%s", diff)
	}
}

func TestEngineBatchOperations(t *testing.T) {
	e, a := newTestEngine(t)
	ctx := context.Background()

	ops := []migrate.Operation{
		{ID: "create-widgets", Kind: migrate.KindCreateTable, Table: "widgets",
			ForwardSQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY, sku TEXT)`,
			ReverseSQL: `DROP TABLE widgets`},
		{ID: "idx-sku", Kind: migrate.KindAddIndex, Table: "widgets", Column: "sku",
			ForwardSQL: `CREATE INDEX idx_widgets_sku ON widgets(sku)`,
			ReverseSQL: `DROP INDEX idx_widgets_sku`},
	}

	batches, err := e.BatchOperations(ops)
	if err != nil {
		t.Fatalf("BatchOperations: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}

	report, err := e.ExecuteBatches(ctx, batches)
	if err != nil {
		t.Fatalf("ExecuteBatches: %v", err)
	}
	if report.FailedOp != "" {
		t.Fatalf("unexpected failure: %+v", report)
	}
	var n int
	if err := a.DB().Get(&n, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'idx_widgets_sku'"); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 1 {
		t.Error("index missing after batch execution")
	}
}
