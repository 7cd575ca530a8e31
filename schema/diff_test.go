package schema

import "testing"

func col(name, typ string, nullable bool) Column {
	return Column{Name: name, Type: typ, Nullable: nullable}
}

func TestDiffTableIdentical(t *testing.T) {
	tbl := Table{
		Name:    "orders",
		Columns: []Column{col("id", "integer", false), col("note", "text", true)},
	}

	diff := DiffTable(tbl, tbl)
	if !diff.Empty() {
		t.Errorf("expected empty diff, got %d items", len(diff.Items))
	}
	if diff.BreakingCount != 0 || diff.AdditiveCount != 0 {
		t.Errorf("expected zero counts, got breaking=%d additive=%d", diff.BreakingCount, diff.AdditiveCount)
	}
}

func TestDiffTableColumnRemoved(t *testing.T) {
	before := Table{Name: "orders", Columns: []Column{col("id", "integer", false), col("note", "text", true)}}
	after := Table{Name: "orders", Columns: []Column{col("id", "integer", false)}}

	diff := DiffTable(before, after)
	if diff.BreakingCount != 1 {
		t.Fatalf("got %d breaking items, want 1", diff.BreakingCount)
	}
	item := diff.Items[0]
	if item.Category != "column_removed" || item.ColumnName != "note" {
		t.Errorf("got item %+v, want column_removed on note", item)
	}
}

func TestDiffTableClassification(t *testing.T) {
	tests := []struct {
		name         string
		before       Column
		after        Column
		wantType     ChangeType
		wantCategory string
	}{
		{"type change is breaking", col("v", "integer", true), col("v", "text", true), ChangeBreaking, "type_changed"},
		{"adding not null is breaking", col("v", "text", true), col("v", "text", false), ChangeBreaking, "nullable_changed"},
		{"dropping not null is additive", col("v", "text", false), col("v", "text", true), ChangeAdditive, "nullable_changed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := DiffTable(
				Table{Name: "t", Columns: []Column{tt.before}},
				Table{Name: "t", Columns: []Column{tt.after}},
			)
			if len(diff.Items) != 1 {
				t.Fatalf("got %d items, want 1", len(diff.Items))
			}
			if diff.Items[0].Type != tt.wantType {
				t.Errorf("got type %q, want %q", diff.Items[0].Type, tt.wantType)
			}
			if diff.Items[0].Category != tt.wantCategory {
				t.Errorf("got category %q, want %q", diff.Items[0].Category, tt.wantCategory)
			}
		})
	}
}

func TestDiffTableColumnAdded(t *testing.T) {
	before := Table{Name: "orders", Columns: []Column{col("id", "integer", false)}}
	after := Table{Name: "orders", Columns: []Column{col("id", "integer", false), col("created_at", "timestamptz", true)}}

	diff := DiffTable(before, after)
	if diff.AdditiveCount != 1 || diff.BreakingCount != 0 {
		t.Fatalf("got additive=%d breaking=%d, want 1/0", diff.AdditiveCount, diff.BreakingCount)
	}
}

func TestTableHelpers(t *testing.T) {
	tbl := Table{
		Name:       "customers",
		Columns:    []Column{col("id", "integer", false), col("code", "text", false)},
		PrimaryKey: []string{"id"},
	}

	if !tbl.HasColumn("code") {
		t.Error("HasColumn(code) = false, want true")
	}
	if tbl.HasColumn("missing") {
		t.Error("HasColumn(missing) = true, want false")
	}
	if !tbl.IsPrimaryKeyColumn("id") {
		t.Error("IsPrimaryKeyColumn(id) = false, want true")
	}
	if tbl.IsPrimaryKeyColumn("code") {
		t.Error("IsPrimaryKeyColumn(code) = true, want false")
	}
	if c := tbl.Column("code"); c == nil || c.Type != "text" {
		t.Errorf("Column(code) = %+v, want text column", c)
	}
}
