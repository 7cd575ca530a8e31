package mssql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/depend"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Adapter{db: sqlx.NewDb(db, "sqlmock"), schemaName: "dbo"}, mock
}

func TestReferentialActionMapping(t *testing.T) {
	tests := []struct {
		desc string
		want depend.ReferentialAction
	}{
		{"NO_ACTION", depend.ActionNoAction},
		{"CASCADE", depend.ActionCascade},
		{"SET_NULL", depend.ActionSetNull},
	}
	for _, tt := range tests {
		if got := referentialAction(tt.desc); got != tt.want {
			t.Errorf("referentialAction(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestFindForeignKeys(t *testing.T) {
	a, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{
		"constraint_name", "source_table", "source_column",
		"target_table", "target_column", "delete_rule", "update_rule",
	}).AddRow("FK_orders_customers", "orders", "customer_code", "customers", "code", "CASCADE", "NO_ACTION")

	mock.ExpectQuery("FROM sys.foreign_keys").
		WithArgs("dbo", "customers", "code").
		WillReturnRows(rows)

	records, err := a.FindForeignKeys(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("FindForeignKeys: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Impact != depend.Critical {
		t.Errorf("impact = %v, want Critical", records[0].Impact)
	}
	if records[0].OnDelete != depend.ActionCascade {
		t.Errorf("on delete = %q, want CASCADE", records[0].OnDelete)
	}
	if records[0].OnUpdate != depend.ActionNoAction {
		t.Errorf("on update = %q, want NO ACTION", records[0].OnUpdate)
	}
}

func TestFindIndexes(t *testing.T) {
	a, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"index_name", "is_unique"}).
		AddRow("UQ_customers_code", true)

	mock.ExpectQuery("FROM sys.indexes").
		WithArgs("dbo", "customers", "code").
		WillReturnRows(rows)

	records, err := a.FindIndexes(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("FindIndexes: %v", err)
	}
	if len(records) != 1 || !records[0].Unique || records[0].Impact != depend.Medium {
		t.Fatalf("records = %+v", records)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	a := &Adapter{schemaName: "dbo"}
	if got := a.QuoteIdentifier("customers"); got != "[customers]" {
		t.Errorf("QuoteIdentifier = %q", got)
	}
	if got := a.QuoteIdentifier("evil]name"); got != "[evil]]name]" {
		t.Errorf("QuoteIdentifier with bracket = %q", got)
	}
	if got := a.BuildDropColumn("customers", "code"); got != "ALTER TABLE [dbo].[customers] DROP COLUMN [code]" {
		t.Errorf("BuildDropColumn = %q", got)
	}
}
