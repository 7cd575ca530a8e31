package depend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Analyzer runs the five catalog discoveries against a Source and aggregates
// the results into a Report. Discoveries run concurrently; each query draws
// its own connection from the source's pool, so no transaction handle is ever
// shared between in-flight discoveries.
type Analyzer struct {
	src Source
	log *slog.Logger
}

// NewAnalyzer creates an Analyzer over the given source. A nil logger
// discards log output.
func NewAnalyzer(src Source, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{src: src, log: logger}
}

// AnalyzeColumn discovers every dependent of (table, column) and returns the
// aggregated report. The first failed discovery cancels the rest and surfaces
// as an *AnalysisError; no partial report is returned.
func (a *Analyzer) AnalyzeColumn(ctx context.Context, table, column string) (*Report, error) {
	report := &Report{
		Table:   table,
		Column:  column,
		Records: make(map[Kind][]Record, len(Kinds)),
	}

	discoveries := []struct {
		kind Kind
		find func(context.Context, string, string) ([]Record, error)
	}{
		{KindForeignKey, a.src.FindForeignKeys},
		{KindView, a.src.FindViews},
		{KindTrigger, a.src.FindTriggers},
		{KindIndex, a.src.FindIndexes},
		{KindConstraint, a.src.FindConstraints},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range discoveries {
		g.Go(func() error {
			recs, err := d.find(gctx, table, column)
			if err != nil {
				return &AnalysisError{Op: d.kind, Table: table, Column: column, Err: err}
			}
			mu.Lock()
			report.Records[d.kind] = recs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.AnalyzedAt = time.Now().UTC()
	a.log.Debug("dependency analysis complete",
		"table", table,
		"column", column,
		"total", report.Total(),
		"recommendation", string(report.Recommendation()))
	return report, nil
}

// AnalyzeTable runs AnalyzeColumn for every listed column of a table and
// merges the per-column reports into one table-wide report. The merged report
// carries an empty Column and deduplicates records that multiple columns
// share (a composite index, a table-level trigger).
func (a *Analyzer) AnalyzeTable(ctx context.Context, table string, columns []string) (*Report, error) {
	merged := &Report{
		Table:   table,
		Records: make(map[Kind][]Record, len(Kinds)),
	}

	seen := make(map[string]bool)
	for _, col := range columns {
		rep, err := a.AnalyzeColumn(ctx, table, col)
		if err != nil {
			return nil, err
		}
		for _, k := range Kinds {
			for _, rec := range rep.Records[k] {
				key := string(rec.Kind) + "|" + rec.ObjectName + "|" + rec.SourceTable + "|" + rec.SourceColumn
				if seen[key] {
					continue
				}
				seen[key] = true
				merged.Records[k] = append(merged.Records[k], rec)
			}
		}
	}

	merged.AnalyzedAt = time.Now().UTC()
	return merged, nil
}
