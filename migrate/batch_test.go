package migrate

import (
	"strings"
	"testing"
)

func levelOf(t *testing.T, batches []Batch, opID string) int {
	t.Helper()
	for _, b := range batches {
		for _, op := range b.Operations {
			if op.ID == opID {
				return b.Level
			}
		}
	}
	t.Fatalf("operation %s not scheduled", opID)
	return -1
}

func TestBuildBatchesStructuralOrdering(t *testing.T) {
	ops := []Operation{
		{ID: "idx-email", Kind: KindAddIndex, Table: "users", Column: "email",
			ForwardSQL: `CREATE INDEX idx_users_email ON users(email)`},
		{ID: "add-email", Kind: KindAddColumn, Table: "users", Column: "email",
			ForwardSQL: `ALTER TABLE users ADD COLUMN email TEXT`},
		{ID: "create-users", Kind: KindCreateTable, Table: "users",
			ForwardSQL: `CREATE TABLE users (id INTEGER PRIMARY KEY)`},
	}

	batches, err := BuildBatches(ops)
	if err != nil {
		t.Fatalf("BuildBatches: %v", err)
	}

	create := levelOf(t, batches, "create-users")
	add := levelOf(t, batches, "add-email")
	idx := levelOf(t, batches, "idx-email")
	if !(create < add && add < idx) {
		t.Errorf("levels create=%d add=%d idx=%d, want create < add < idx", create, add, idx)
	}
}

func TestBuildBatchesForeignKeyReference(t *testing.T) {
	ops := []Operation{
		{ID: "create-orders", Kind: KindCreateTable, Table: "orders", References: []string{"customers"},
			ForwardSQL: `CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id))`},
		{ID: "create-customers", Kind: KindCreateTable, Table: "customers",
			ForwardSQL: `CREATE TABLE customers (id INTEGER PRIMARY KEY)`},
	}

	batches, err := BuildBatches(ops)
	if err != nil {
		t.Fatalf("BuildBatches: %v", err)
	}
	if levelOf(t, batches, "create-customers") >= levelOf(t, batches, "create-orders") {
		t.Error("referenced table must be created before the referencing table")
	}
}

func TestBuildBatchesParallelSafety(t *testing.T) {
	ops := []Operation{
		{ID: "create-a", Kind: KindCreateTable, Table: "a", ForwardSQL: `CREATE TABLE a (id INTEGER)`},
		{ID: "create-b", Kind: KindCreateTable, Table: "b", ForwardSQL: `CREATE TABLE b (id INTEGER)`},
	}
	batches, err := BuildBatches(ops)
	if err != nil {
		t.Fatalf("BuildBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if !batches[0].Parallel {
		t.Error("disjoint creates should be parallel-safe")
	}
}

func TestBuildBatchesReferencedPeerNeverParallel(t *testing.T) {
	// Neither referenced table is created here, so both operations land on
	// the same level. The first operation (by ID) references the table the
	// second one alters; the verdict must not depend on which the planner
	// inspects first.
	ops := []Operation{
		{ID: "add-gadget-link", Kind: KindAddColumn, Table: "gadgets", Column: "sprocket_id",
			References: []string{"sprockets"},
			ForwardSQL: `ALTER TABLE gadgets ADD COLUMN sprocket_id INTEGER REFERENCES sprockets(id)`},
		{ID: "add-sprocket-note", Kind: KindAddColumn, Table: "sprockets", Column: "note",
			ForwardSQL: `ALTER TABLE sprockets ADD COLUMN note TEXT`},
	}
	batches, err := BuildBatches(ops)
	if err != nil {
		t.Fatalf("BuildBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].Parallel {
		t.Error("an operation referencing a peer's table must not run in parallel with it")
	}
}

func TestBuildBatchesDestructiveNeverParallel(t *testing.T) {
	ops := []Operation{
		{ID: "create-a", Kind: KindCreateTable, Table: "a", ForwardSQL: `CREATE TABLE a (id INTEGER)`},
		{ID: "drop-b", Kind: KindDropTable, Table: "b", ForwardSQL: `DROP TABLE b`},
	}
	batches, err := BuildBatches(ops)
	if err != nil {
		t.Fatalf("BuildBatches: %v", err)
	}
	if batches[0].Parallel {
		t.Error("a batch containing a destructive operation must not be parallel")
	}
}

func TestBuildBatchesCycleDetection(t *testing.T) {
	ops := []Operation{
		{ID: "a", Kind: KindRawSQL, ForwardSQL: "SELECT 1", DependsOn: []string{"b"}},
		{ID: "b", Kind: KindRawSQL, ForwardSQL: "SELECT 1", DependsOn: []string{"a"}},
	}
	_, err := BuildBatches(ops)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error does not name the cycle: %v", err)
	}
}

func TestBuildBatchesUnknownDependency(t *testing.T) {
	ops := []Operation{
		{ID: "a", Kind: KindRawSQL, ForwardSQL: "SELECT 1", DependsOn: []string{"ghost"}},
	}
	if _, err := BuildBatches(ops); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestBuildBatchesRejectsDuplicateIDs(t *testing.T) {
	ops := []Operation{
		{ID: "a", Kind: KindRawSQL, ForwardSQL: "SELECT 1"},
		{ID: "a", Kind: KindRawSQL, ForwardSQL: "SELECT 2"},
	}
	if _, err := BuildBatches(ops); err == nil {
		t.Fatal("expected error for duplicate ids")
	}
}
