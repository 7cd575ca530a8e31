package sqlite

import (
	"context"
	"testing"

	"github.com/scalpeldb/scalpel/catalog"
	"github.com/scalpeldb/scalpel/depend"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New().(*Adapter)
	if err := a.Connect(catalog.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func mustExec(t *testing.T, a *Adapter, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := a.DB().Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func setupCustomersOrders(t *testing.T, a *Adapter) {
	mustExec(t, a,
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			code TEXT UNIQUE NOT NULL CHECK (length(code) > 2)
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_code TEXT REFERENCES customers(code) ON DELETE RESTRICT
		)`,
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER REFERENCES customers(id) ON DELETE CASCADE
		)`,
		`CREATE VIEW v_customer_codes AS SELECT code FROM customers`,
		`CREATE TRIGGER customers_touch AFTER UPDATE ON customers BEGIN
			UPDATE customers SET code = code WHERE id = NEW.id;
		END`,
		`CREATE INDEX idx_orders_customer_code ON orders(customer_code)`,
	)
}

func TestFindForeignKeysInbound(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)
	ctx := context.Background()

	records, err := a.FindForeignKeys(ctx, "customers", "code")
	if err != nil {
		t.Fatalf("FindForeignKeys: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(records), records)
	}
	rec := records[0]
	if rec.SourceTable != "orders" || rec.SourceColumn != "customer_code" {
		t.Errorf("source = %s.%s, want orders.customer_code", rec.SourceTable, rec.SourceColumn)
	}
	if rec.OnDelete != depend.ActionRestrict {
		t.Errorf("on delete = %q, want RESTRICT", rec.OnDelete)
	}
	if rec.Impact != depend.Critical {
		t.Errorf("impact = %v, want Critical", rec.Impact)
	}
}

func TestFindForeignKeysCascadeOnPK(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)

	records, err := a.FindForeignKeys(context.Background(), "customers", "id")
	if err != nil {
		t.Fatalf("FindForeignKeys: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(records), records)
	}
	if !records[0].IsCascade() {
		t.Errorf("expected cascade FK, got %+v", records[0])
	}
}

func TestFindForeignKeysSelfReferencing(t *testing.T) {
	a := newTestAdapter(t)
	mustExec(t, a,
		`CREATE TABLE employees (
			id INTEGER PRIMARY KEY,
			manager_id INTEGER REFERENCES employees(id) ON DELETE CASCADE
		)`,
	)

	records, err := a.FindForeignKeys(context.Background(), "employees", "id")
	if err != nil {
		t.Fatalf("FindForeignKeys: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("self-referencing FK records = %d, want 1: %+v", len(records), records)
	}
	rec := records[0]
	if rec.SourceTable != "employees" || rec.SourceColumn != "manager_id" {
		t.Errorf("source = %s.%s, want employees.manager_id", rec.SourceTable, rec.SourceColumn)
	}
	if !rec.IsCascade() {
		t.Errorf("expected cascade FK, got %+v", rec)
	}

	report, err := depend.NewAnalyzer(a, nil).AnalyzeColumn(context.Background(), "employees", "id")
	if err != nil {
		t.Fatalf("AnalyzeColumn: %v", err)
	}
	if report.Recommendation() != depend.Dangerous {
		t.Errorf("recommendation = %v, want Dangerous", report.Recommendation())
	}
}

func TestFindForeignKeysCompositeKey(t *testing.T) {
	a := newTestAdapter(t)
	mustExec(t, a,
		`CREATE TABLE regions (
			country TEXT NOT NULL,
			zone TEXT NOT NULL,
			PRIMARY KEY (country, zone)
		)`,
		`CREATE TABLE shipments (
			id INTEGER PRIMARY KEY,
			dest_country TEXT,
			dest_zone TEXT,
			FOREIGN KEY (dest_country, dest_zone) REFERENCES regions(country, zone)
		)`,
	)

	records, err := a.FindForeignKeys(context.Background(), "regions", "zone")
	if err != nil {
		t.Fatalf("FindForeignKeys: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("composite FK records = %d, want one per participating column: %+v", len(records), records)
	}
	sources := map[string]string{}
	for _, rec := range records {
		sources[rec.SourceColumn] = rec.TargetColumn
	}
	if sources["dest_country"] != "country" || sources["dest_zone"] != "zone" {
		t.Errorf("participating columns = %v, want dest_country->country and dest_zone->zone", sources)
	}
}

func TestFindViewsDirectReference(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)

	records, err := a.FindViews(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("FindViews: %v", err)
	}
	if len(records) != 1 || records[0].ObjectName != "v_customer_codes" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Impact != depend.High {
		t.Errorf("impact = %v, want High", records[0].Impact)
	}

	// No view touches orders.id.
	none, err := a.FindViews(context.Background(), "orders", "id")
	if err != nil {
		t.Fatalf("FindViews: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no view records for orders.id, got %+v", none)
	}
}

func TestFindTriggersByFiringTable(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)

	records, err := a.FindTriggers(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("FindTriggers: %v", err)
	}
	if len(records) != 1 || records[0].ObjectName != "customers_touch" {
		t.Fatalf("records = %+v", records)
	}
}

func TestFindIndexesAndConstraints(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)
	ctx := context.Background()

	idx, err := a.FindIndexes(ctx, "orders", "customer_code")
	if err != nil {
		t.Fatalf("FindIndexes: %v", err)
	}
	if len(idx) != 1 || idx[0].ObjectName != "idx_orders_customer_code" || idx[0].Unique {
		t.Fatalf("index records = %+v", idx)
	}

	cons, err := a.FindConstraints(ctx, "customers", "code")
	if err != nil {
		t.Fatalf("FindConstraints: %v", err)
	}
	var haveUnique, haveCheck bool
	for _, c := range cons {
		if c.Unique {
			haveUnique = true
		}
		if c.Definition == "CHECK (length(code) > 2)" {
			haveCheck = true
		}
	}
	if !haveUnique || !haveCheck {
		t.Errorf("constraint records = %+v, want unique and check", cons)
	}
}

func TestDescribeTableAndColumn(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)
	ctx := context.Background()

	tbl, err := a.DescribeTable(ctx, "customers")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if len(tbl.Columns) != 2 {
		t.Errorf("got %d columns, want 2", len(tbl.Columns))
	}
	if !tbl.IsPrimaryKeyColumn("id") {
		t.Error("id should be a primary key column")
	}

	col, err := a.DescribeColumn(ctx, "customers", "code")
	if err != nil {
		t.Fatalf("DescribeColumn: %v", err)
	}
	if col.Nullable {
		t.Error("code should be NOT NULL")
	}

	if _, err := a.DescribeColumn(ctx, "customers", "missing"); err == nil {
		t.Error("expected error for missing column")
	}
}

func TestCountRowsAndColumnExists(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)
	ctx := context.Background()

	mustExec(t, a,
		`INSERT INTO customers (id, code) VALUES (1, 'abc'), (2, 'abcd')`,
	)

	n, err := a.CountRows(ctx, "customers")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("CountRows = %d, want 2", n)
	}

	exists, err := a.ColumnExists(ctx, a.DB(), "customers", "code")
	if err != nil {
		t.Fatalf("ColumnExists: %v", err)
	}
	if !exists {
		t.Error("code should exist")
	}
	exists, err = a.ColumnExists(ctx, a.DB(), "customers", "gone")
	if err != nil {
		t.Fatalf("ColumnExists: %v", err)
	}
	if exists {
		t.Error("gone should not exist")
	}
}

func TestAnalyzerOverLiveCatalog(t *testing.T) {
	a := newTestAdapter(t)
	setupCustomersOrders(t, a)

	analyzer := depend.NewAnalyzer(a, nil)
	rep, err := analyzer.AnalyzeColumn(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("AnalyzeColumn: %v", err)
	}

	if rep.Recommendation() != depend.Dangerous {
		t.Errorf("recommendation = %q, want dangerous", rep.Recommendation())
	}
	if len(rep.ByKind(depend.KindForeignKey)) != 1 {
		t.Errorf("FK records = %+v", rep.ByKind(depend.KindForeignKey))
	}

	// A column nobody references.
	rep2, err := analyzer.AnalyzeColumn(context.Background(), "orders", "id")
	if err != nil {
		t.Fatalf("AnalyzeColumn: %v", err)
	}
	if rep2.Total() != 0 {
		t.Errorf("expected empty report for orders.id, got %+v", rep2.All())
	}
	if rep2.Recommendation() != depend.Safe {
		t.Errorf("recommendation = %q, want safe", rep2.Recommendation())
	}
}
