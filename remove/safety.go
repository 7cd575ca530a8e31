package remove

import (
	"fmt"

	"github.com/scalpeldb/scalpel/depend"
)

// SafetyValidation is the verdict on whether a planned removal may proceed.
// An unsafe verdict is the expected common-path outcome of a dangerous
// request, not an error: it is returned as data.
type SafetyValidation struct {
	IsSafe               bool            `json:"is_safe"`
	RiskLevel            depend.Impact   `json:"risk_level"`
	BlockingDependencies []depend.Record `json:"blocking_dependencies"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Warnings             []string        `json:"warnings"`
	Recommendations      []string        `json:"recommendations"`
}

// validateSafety derives a SafetyValidation from a dependency report. The
// column is unsafe to drop when any Critical dependency exists, or when it
// has no dependencies at all but is itself a primary key member. A column
// backed by a unique index or constraint always carries that object as a
// discovered record, so uniqueness is warned about rather than re-derived
// here. Warning text
// deliberately names the hazard class ("foreign key", "cascade"): downstream
// automation parses these strings.
func validateSafety(report *depend.Report, isPrimaryKey bool) *SafetyValidation {
	v := &SafetyValidation{
		RiskLevel: report.MaxImpact(),
	}

	for _, rec := range report.All() {
		if rec.Impact >= depend.High {
			v.BlockingDependencies = append(v.BlockingDependencies, rec)
		}
	}

	critical := report.Critical()
	v.IsSafe = len(critical) == 0
	if report.Total() == 0 {
		if isPrimaryKey {
			v.IsSafe = false
			v.RiskLevel = depend.High
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("column %s.%s is a primary key member; other tables may reference it even though no dependencies were discovered", report.Table, report.Column))
		} else {
			v.RiskLevel = depend.Low
		}
	}

	for _, rec := range report.All() {
		if rec.Unique && rec.Impact < depend.Critical {
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("%s %s enforces uniqueness on %s.%s; external systems may rely on the column as a lookup key",
					rec.Kind, rec.ObjectName, report.Table, report.Column))
		}
	}

	for _, rec := range critical {
		switch {
		case rec.IsCascade():
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("foreign key %s on %s.%s has ON DELETE cascade: dropping %s.%s breaks the constraint and removes cascade protection for dependent rows",
					rec.ObjectName, rec.SourceTable, rec.SourceColumn, report.Table, report.Column))
		default:
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("foreign key %s on %s.%s references %s.%s; dropping the column breaks referential integrity",
					rec.ObjectName, rec.SourceTable, rec.SourceColumn, report.Table, report.Column))
		}
	}

	v.RequiresConfirmation = !v.IsSafe
	if !v.IsSafe {
		v.Recommendations = append(v.Recommendations,
			"drop or retarget the blocking dependencies before removing the column, or force execution with a TableSnapshot backup")
	}
	if v.IsSafe && v.RiskLevel >= depend.Medium {
		v.Recommendations = append(v.Recommendations,
			"risk level is medium or higher: the TableSnapshot backup strategy is required")
	}
	return v
}
