// Package depend models schema dependencies discovered from database system
// catalogs and classifies the risk of removing the object they point at.
package depend

import "context"

// Kind identifies the catalog surface a dependency was discovered on.
type Kind string

const (
	KindForeignKey Kind = "foreign_key"
	KindView       Kind = "view"
	KindTrigger    Kind = "trigger"
	KindIndex      Kind = "index"
	KindConstraint Kind = "constraint"
)

// Kinds lists all dependency kinds in report order.
var Kinds = []Kind{KindForeignKey, KindView, KindTrigger, KindIndex, KindConstraint}

// Impact is the ordinal risk classification attached to a dependency record.
type Impact int

const (
	Informational Impact = iota
	Low
	Medium
	High
	Critical
)

// String returns the human-readable impact name.
func (i Impact) String() string {
	switch i {
	case Informational:
		return "informational"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ReferentialAction is a foreign key's ON DELETE / ON UPDATE rule as reported
// by the catalog.
type ReferentialAction string

const (
	ActionNoAction ReferentialAction = "NO ACTION"
	ActionRestrict ReferentialAction = "RESTRICT"
	ActionCascade  ReferentialAction = "CASCADE"
	ActionSetNull  ReferentialAction = "SET NULL"
)

// Record is one discovered dependency on a (table, column) pair.
//
// For foreign keys, SourceTable/SourceColumn identify the referencing side and
// TargetTable/TargetColumn the referenced side; composite keys produce one
// record per participating source column. For the other kinds the target
// fields are empty and ObjectName names the dependent view, trigger, index,
// or constraint.
type Record struct {
	Kind         Kind              `json:"kind"`
	SourceTable  string            `json:"source_table"`
	SourceColumn string            `json:"source_column,omitempty"`
	TargetTable  string            `json:"target_table,omitempty"`
	TargetColumn string            `json:"target_column,omitempty"`
	ObjectName   string            `json:"object_name"`
	Definition   string            `json:"definition,omitempty"`
	OnDelete     ReferentialAction `json:"on_delete,omitempty"`
	OnUpdate     ReferentialAction `json:"on_update,omitempty"`
	Unique       bool              `json:"unique,omitempty"`
	Impact       Impact            `json:"impact"`
}

// IsCascade reports whether the record is a foreign key whose delete rule
// automatically removes dependent rows.
func (r Record) IsCascade() bool {
	return r.Kind == KindForeignKey && r.OnDelete == ActionCascade
}

// Source is the capability set a catalog adapter must provide for dependency
// discovery. Each method returns every dependent of the given kind for the
// (table, column) pair, with impact levels already assigned.
//
// Known detection gaps, carried deliberately: FindViews resolves only direct
// view references, not view-on-view chains; FindTriggers reports triggers by
// firing table only and does not parse trigger bodies for cross-table column
// references.
type Source interface {
	FindForeignKeys(ctx context.Context, table, column string) ([]Record, error)
	FindViews(ctx context.Context, table, column string) ([]Record, error)
	FindTriggers(ctx context.Context, table, column string) ([]Record, error)
	FindIndexes(ctx context.Context, table, column string) ([]Record, error)
	FindConstraints(ctx context.Context, table, column string) ([]Record, error)
}
