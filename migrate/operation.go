// Package migrate schedules and executes batches of DDL operations. Explicit
// and structural dependencies between operations form a DAG; operations are
// grouped into levels so each batch only runs after everything it depends on
// has committed.
package migrate

import "fmt"

// Kind identifies a DDL operation type.
type Kind string

const (
	KindCreateTable    Kind = "create_table"
	KindDropTable      Kind = "drop_table"
	KindAddColumn      Kind = "add_column"
	KindDropColumn     Kind = "drop_column"
	KindAddIndex       Kind = "add_index"
	KindDropIndex      Kind = "drop_index"
	KindAddConstraint  Kind = "add_constraint"
	KindDropConstraint Kind = "drop_constraint"
	KindRawSQL         Kind = "raw_sql"
)

// Valid reports whether k is a recognized operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCreateTable, KindDropTable, KindAddColumn, KindDropColumn,
		KindAddIndex, KindDropIndex, KindAddConstraint, KindDropConstraint,
		KindRawSQL:
		return true
	}
	return false
}

// Destructive reports whether the operation discards schema or data.
// Destructive operations never run in parallel with anything else.
func (k Kind) Destructive() bool {
	switch k {
	case KindDropTable, KindDropColumn, KindDropConstraint, KindRawSQL:
		return true
	}
	return false
}

// Operation is one DDL statement with enough metadata to order it against
// its peers and to undo it.
type Operation struct {
	ID     string `yaml:"id" json:"id"`
	Kind   Kind   `yaml:"kind" json:"kind"`
	Table  string `yaml:"table" json:"table"`
	Column string `yaml:"column,omitempty" json:"column,omitempty"`

	// References lists tables this operation's DDL points at, such as
	// foreign key targets. Operations creating those tables are implicit
	// dependencies.
	References []string `yaml:"references,omitempty" json:"references,omitempty"`

	ForwardSQL string `yaml:"forward_sql" json:"forward_sql"`
	ReverseSQL string `yaml:"reverse_sql,omitempty" json:"reverse_sql,omitempty"`

	// DependsOn lists operation IDs that must commit first, on top of the
	// structural dependencies inferred from Table/Column/References.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks the operation is well formed.
func (op Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation has no id")
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("operation %s: unknown kind %q", op.ID, op.Kind)
	}
	if op.ForwardSQL == "" {
		return fmt.Errorf("operation %s: no forward SQL", op.ID)
	}
	if op.Kind != KindRawSQL && op.Table == "" {
		return fmt.Errorf("operation %s: no table", op.ID)
	}
	return nil
}

// Batch is one execution level. All operations in a batch have every
// dependency satisfied by earlier batches.
type Batch struct {
	Level      int         `json:"level"`
	Operations []Operation `json:"operations"`

	// Parallel is true when the batch's operations touch disjoint tables
	// and none of them is destructive.
	Parallel bool `json:"parallel"`
}
