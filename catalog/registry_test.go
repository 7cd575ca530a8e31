package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/scalpeldb/scalpel/depend"
	"github.com/scalpeldb/scalpel/schema"
)

// stubAdapter is a minimal Adapter for registry tests.
type stubAdapter struct {
	connectErr error
	closed     bool
}

func (s *stubAdapter) Connect(cfg ConnectionConfig) error { return s.connectErr }
func (s *stubAdapter) Close() error                       { s.closed = true; return nil }
func (s *stubAdapter) Ping(ctx context.Context) error     { return nil }
func (s *stubAdapter) DB() *sqlx.DB                       { return nil }

func (s *stubAdapter) FindForeignKeys(ctx context.Context, table, column string) ([]depend.Record, error) {
	return nil, nil
}
func (s *stubAdapter) FindViews(ctx context.Context, table, column string) ([]depend.Record, error) {
	return nil, nil
}
func (s *stubAdapter) FindTriggers(ctx context.Context, table, column string) ([]depend.Record, error) {
	return nil, nil
}
func (s *stubAdapter) FindIndexes(ctx context.Context, table, column string) ([]depend.Record, error) {
	return nil, nil
}
func (s *stubAdapter) FindConstraints(ctx context.Context, table, column string) ([]depend.Record, error) {
	return nil, nil
}

func (s *stubAdapter) DescribeTable(ctx context.Context, table string) (*schema.Table, error) {
	return nil, errors.New("not implemented")
}
func (s *stubAdapter) DescribeColumn(ctx context.Context, table, column string) (*schema.Column, error) {
	return nil, errors.New("not implemented")
}
func (s *stubAdapter) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	return nil, nil
}
func (s *stubAdapter) CountRows(ctx context.Context, table string) (int64, error) { return 0, nil }
func (s *stubAdapter) ColumnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	return false, nil
}

func (s *stubAdapter) QuoteIdentifier(name string) string               { return `"` + name + `"` }
func (s *stubAdapter) BuildDropColumn(table, column string) string      { return "" }
func (s *stubAdapter) BuildAddColumn(t string, c schema.Column) string  { return "" }
func (s *stubAdapter) BuildCopyTable(src, dst string) string            { return "" }
func (s *stubAdapter) BuildDropIndex(table, index string) string        { return "" }
func (s *stubAdapter) BuildDropConstraint(table, name string) string    { return "" }
func (s *stubAdapter) DriverName() string                               { return "stub" }
func (s *stubAdapter) SupportsTransactionalDDL() bool                   { return true }

func TestRegistryConnectAndGet(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("stub", func() Adapter { return &stubAdapter{} })

	if err := r.Connect("primary", ConnectionConfig{Driver: "stub"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := r.Get("primary"); err != nil {
		t.Errorf("Get(primary): %v", err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("Get(missing) should fail")
	}

	targets := r.ListTargets()
	if len(targets) != 1 || targets[0] != "primary" {
		t.Errorf("ListTargets = %v", targets)
	}

	if err := r.Disconnect("primary"); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	if _, err := r.Get("primary"); err == nil {
		t.Error("Get after Disconnect should fail")
	}
}

func TestRegistryUnsupportedDriver(t *testing.T) {
	r := NewRegistry()
	if err := r.Connect("x", ConnectionConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unregistered driver")
	}
}

func TestRegistryReplaceClosesExisting(t *testing.T) {
	r := NewRegistry()
	first := &stubAdapter{}
	adapters := []*stubAdapter{first, {}}
	i := 0
	r.RegisterDriver("stub", func() Adapter {
		a := adapters[i]
		i++
		return a
	})

	if err := r.Connect("primary", ConnectionConfig{Driver: "stub"}); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := r.Connect("primary", ConnectionConfig{Driver: "stub"}); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !first.closed {
		t.Error("replacing a target should close the previous adapter")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("stub", func() Adapter { return &stubAdapter{} })
	if err := r.Connect("shared", ConnectionConfig{Driver: "stub"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get("shared"); err != nil {
				t.Errorf("Get: %v", err)
			}
			r.ListTargets()
		}()
	}
	wg.Wait()
}
