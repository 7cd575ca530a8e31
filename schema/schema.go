// Package schema defines engine-neutral descriptors for relational schema
// objects. Catalog adapters populate these from system-catalog queries; the
// removal executor and the drift differ consume them.
package schema

// Column describes a single table column.
type Column struct {
	Name            string  `json:"name" db:"name"`
	Position        int     `json:"position" db:"position"`
	Type            string  `json:"type" db:"type"`
	Nullable        bool    `json:"nullable" db:"nullable"`
	Default         *string `json:"default,omitempty" db:"default"`
	MaxLength       *int64  `json:"max_length,omitempty" db:"max_length"`
	IsPrimaryKey    bool    `json:"is_primary_key" db:"is_primary_key"`
	IsAutoIncrement bool    `json:"is_auto_increment" db:"is_auto_increment"`
}

// ForeignKey describes a foreign key constraint from one column to another.
type ForeignKey struct {
	Name             string `json:"name"`
	ColumnName       string `json:"column_name"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	OnDelete         string `json:"on_delete"`
	OnUpdate         string `json:"on_update"`
}

// Index describes a table index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Table describes a table: its columns, primary key, foreign keys, and indexes.
type Table struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"` // "table" or "view"
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Indexes     []Index      `json:"indexes"`
}

// Column returns the column with the given name, or nil if absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasColumn reports whether the table contains a column with the given name.
func (t *Table) HasColumn(name string) bool {
	return t.Column(name) != nil
}

// IsPrimaryKeyColumn reports whether name participates in the table's
// primary key.
func (t *Table) IsPrimaryKeyColumn(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}
