package depend

import "time"

// Recommendation is the aggregate removal verdict for a dependency report.
type Recommendation string

const (
	Safe      Recommendation = "safe"
	Review    Recommendation = "review"
	Dangerous Recommendation = "dangerous"
)

// Report is the aggregated dependency analysis for one (table, column) pair.
// Reports are immutable snapshots: a schema change invalidates them and a
// fresh analysis must be run.
type Report struct {
	Table      string            `json:"table"`
	Column     string            `json:"column"`
	Records    map[Kind][]Record `json:"records"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
}

// Total returns the number of dependency records across all kinds.
func (r *Report) Total() int {
	n := 0
	for _, recs := range r.Records {
		n += len(recs)
	}
	return n
}

// ByKind returns the records of one kind, in discovery order.
func (r *Report) ByKind(k Kind) []Record {
	return r.Records[k]
}

// All returns every record in fixed kind order (foreign keys first).
func (r *Report) All() []Record {
	out := make([]Record, 0, r.Total())
	for _, k := range Kinds {
		out = append(out, r.Records[k]...)
	}
	return out
}

// Critical returns the subset of records with Critical impact.
func (r *Report) Critical() []Record {
	var out []Record
	for _, rec := range r.All() {
		if rec.Impact == Critical {
			out = append(out, rec)
		}
	}
	return out
}

// MaxImpact returns the highest impact level present, or Informational for an
// empty report.
func (r *Report) MaxImpact() Impact {
	max := Informational
	for _, rec := range r.All() {
		if rec.Impact > max {
			max = rec.Impact
		}
	}
	return max
}

// Recommendation classifies the report: Dangerous if any Critical record
// exists, Review if any High or Medium record exists without a Critical one,
// Safe otherwise.
func (r *Report) Recommendation() Recommendation {
	max := r.MaxImpact()
	switch {
	case max == Critical:
		return Dangerous
	case max >= Medium:
		return Review
	default:
		return Safe
	}
}
