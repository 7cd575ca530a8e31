package schema

import "fmt"

// ChangeType classifies the severity of a schema difference.
type ChangeType string

const (
	// ChangeAdditive means a new column appeared. Safe for existing readers.
	ChangeAdditive ChangeType = "additive"
	// ChangeBreaking means a column was removed or had its shape changed.
	ChangeBreaking ChangeType = "breaking"
)

// DiffItem describes a single difference between two table descriptors.
type DiffItem struct {
	Type        ChangeType `json:"type"`
	Category    string     `json:"category"` // "column_added", "column_removed", "type_changed", "nullable_changed"
	ColumnName  string     `json:"column_name,omitempty"`
	OldValue    string     `json:"old_value,omitempty"`
	NewValue    string     `json:"new_value,omitempty"`
	Description string     `json:"description"`
}

// Diff summarizes the differences between a "before" and an "after" snapshot
// of the same table. The removal executor uses an empty diff as proof that a
// blocked or rolled-back attempt left the schema untouched.
type Diff struct {
	TableName     string     `json:"table_name"`
	Items         []DiffItem `json:"items"`
	AdditiveCount int        `json:"additive_count"`
	BreakingCount int        `json:"breaking_count"`
}

// Empty reports whether the two snapshots were identical.
func (d Diff) Empty() bool { return len(d.Items) == 0 }

// DiffTable compares two snapshots of one table and classifies each
// difference as additive or breaking.
func DiffTable(before, after Table) Diff {
	diff := Diff{TableName: before.Name}

	afterByName := make(map[string]Column, len(after.Columns))
	for _, col := range after.Columns {
		afterByName[col.Name] = col
	}
	beforeByName := make(map[string]Column, len(before.Columns))
	for _, col := range before.Columns {
		beforeByName[col.Name] = col
	}

	for _, old := range before.Columns {
		cur, exists := afterByName[old.Name]
		if !exists {
			diff.Items = append(diff.Items, DiffItem{
				Type:        ChangeBreaking,
				Category:    "column_removed",
				ColumnName:  old.Name,
				OldValue:    old.Type,
				Description: fmt.Sprintf("Column %q was removed from table %q", old.Name, before.Name),
			})
			continue
		}

		if old.Type != cur.Type {
			diff.Items = append(diff.Items, DiffItem{
				Type:        ChangeBreaking,
				Category:    "type_changed",
				ColumnName:  old.Name,
				OldValue:    old.Type,
				NewValue:    cur.Type,
				Description: fmt.Sprintf("Column %q type changed from %q to %q", old.Name, old.Type, cur.Type),
			})
		}

		if old.Nullable != cur.Nullable {
			item := DiffItem{
				Category:   "nullable_changed",
				ColumnName: old.Name,
			}
			if old.Nullable {
				// NOT NULL was added: existing writers may now fail.
				item.Type = ChangeBreaking
				item.OldValue = "nullable"
				item.NewValue = "not null"
				item.Description = fmt.Sprintf("Column %q changed from nullable to NOT NULL", old.Name)
			} else {
				item.Type = ChangeAdditive
				item.OldValue = "not null"
				item.NewValue = "nullable"
				item.Description = fmt.Sprintf("Column %q changed from NOT NULL to nullable", old.Name)
			}
			diff.Items = append(diff.Items, item)
		}
	}

	for _, cur := range after.Columns {
		if _, exists := beforeByName[cur.Name]; !exists {
			diff.Items = append(diff.Items, DiffItem{
				Type:        ChangeAdditive,
				Category:    "column_added",
				ColumnName:  cur.Name,
				NewValue:    cur.Type,
				Description: fmt.Sprintf("Column %q was added to table %q", cur.Name, before.Name),
			})
		}
	}

	for _, item := range diff.Items {
		switch item.Type {
		case ChangeAdditive:
			diff.AdditiveCount++
		case ChangeBreaking:
			diff.BreakingCount++
		}
	}
	return diff
}
