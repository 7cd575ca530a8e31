package depend

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

// fakeSource returns canned records per kind and counts calls. The analyzer
// calls the five discoveries concurrently, so access is mutex-guarded.
type fakeSource struct {
	mu      sync.Mutex
	records map[Kind][]Record
	errs    map[Kind]error
	calls   map[Kind]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records: make(map[Kind][]Record),
		errs:    make(map[Kind]error),
		calls:   make(map[Kind]int),
	}
}

func (f *fakeSource) find(kind Kind) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return f.records[kind], nil
}

func (f *fakeSource) FindForeignKeys(_ context.Context, _, _ string) ([]Record, error) {
	return f.find(KindForeignKey)
}
func (f *fakeSource) FindViews(_ context.Context, _, _ string) ([]Record, error) {
	return f.find(KindView)
}
func (f *fakeSource) FindTriggers(_ context.Context, _, _ string) ([]Record, error) {
	return f.find(KindTrigger)
}
func (f *fakeSource) FindIndexes(_ context.Context, _, _ string) ([]Record, error) {
	return f.find(KindIndex)
}
func (f *fakeSource) FindConstraints(_ context.Context, _, _ string) ([]Record, error) {
	return f.find(KindConstraint)
}

func TestAnalyzeColumnAggregates(t *testing.T) {
	src := newFakeSource()
	src.records[KindForeignKey] = []Record{
		{Kind: KindForeignKey, SourceTable: "orders", SourceColumn: "customer_code",
			TargetTable: "customers", TargetColumn: "code", ObjectName: "orders_customer_code_fkey",
			OnDelete: ActionCascade, Impact: Critical},
	}
	src.records[KindView] = []Record{
		{Kind: KindView, SourceTable: "customers", ObjectName: "v_customers", Impact: High},
	}

	rep, err := NewAnalyzer(src, nil).AnalyzeColumn(context.Background(), "customers", "code")
	if err != nil {
		t.Fatalf("AnalyzeColumn: %v", err)
	}

	if rep.Total() != 2 {
		t.Errorf("Total() = %d, want 2", rep.Total())
	}
	if rep.Recommendation() != Dangerous {
		t.Errorf("Recommendation() = %q, want dangerous", rep.Recommendation())
	}
	for _, fk := range rep.ByKind(KindForeignKey) {
		if fk.Impact != Critical {
			t.Errorf("cascade FK impact = %v, want Critical", fk.Impact)
		}
	}
	for _, kind := range Kinds {
		if src.calls[kind] != 1 {
			t.Errorf("discovery %s called %d times, want 1", kind, src.calls[kind])
		}
	}
}

func TestAnalyzeColumnIdempotent(t *testing.T) {
	src := newFakeSource()
	src.records[KindIndex] = []Record{
		{Kind: KindIndex, SourceTable: "logs", SourceColumn: "legacy_flag", ObjectName: "idx_legacy", Impact: Medium},
	}

	a := NewAnalyzer(src, nil)
	first, err := a.AnalyzeColumn(context.Background(), "logs", "legacy_flag")
	if err != nil {
		t.Fatalf("first AnalyzeColumn: %v", err)
	}
	second, err := a.AnalyzeColumn(context.Background(), "logs", "legacy_flag")
	if err != nil {
		t.Fatalf("second AnalyzeColumn: %v", err)
	}

	if first.Total() != second.Total() {
		t.Errorf("totals differ: %d vs %d", first.Total(), second.Total())
	}
	if !reflect.DeepEqual(first.Records, second.Records) {
		t.Error("records differ between identical analyses")
	}
	if first.Recommendation() != second.Recommendation() {
		t.Error("recommendations differ between identical analyses")
	}
}

func TestAnalyzeColumnAbortsOnFailure(t *testing.T) {
	src := newFakeSource()
	boom := errors.New("permission denied for pg_catalog")
	src.errs[KindTrigger] = boom

	rep, err := NewAnalyzer(src, nil).AnalyzeColumn(context.Background(), "customers", "code")
	if rep != nil {
		t.Error("expected no partial report on discovery failure")
	}

	var aerr *AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
	if aerr.Op != KindTrigger || aerr.Table != "customers" {
		t.Errorf("AnalysisError fields = %+v", aerr)
	}
	if !errors.Is(err, boom) {
		t.Error("AnalysisError should wrap the cause")
	}
}

func TestAnalyzeTableDeduplicates(t *testing.T) {
	src := newFakeSource()
	// The same composite unique index covers both columns, so per-column
	// discovery reports it twice.
	src.records[KindIndex] = []Record{
		{Kind: KindIndex, SourceTable: "pairs", ObjectName: "pairs_a_b_key", Unique: true, Impact: Medium},
	}

	rep, err := NewAnalyzer(src, nil).AnalyzeTable(context.Background(), "pairs", []string{"a", "b"})
	if err != nil {
		t.Fatalf("AnalyzeTable: %v", err)
	}
	if got := len(rep.ByKind(KindIndex)); got != 1 {
		t.Errorf("got %d index records after merge, want 1", got)
	}
	if rep.Column != "" {
		t.Errorf("table-wide report column = %q, want empty", rep.Column)
	}
}
