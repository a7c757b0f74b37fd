// Package schema turns an entity type declaration into the persisted
// shapes temporal tracking needs: one clock table plus one history table
// per tracked attribute. Building is deterministic and registrations are
// cached, so declaring the same type twice is idempotent.
package schema

import (
	"errors"
	"fmt"
)

// ErrUnknownAttribute is returned when a declaration tracks an attribute
// that has no column definition.
var ErrUnknownAttribute = errors.New("unknown attribute")

// Reference marks a column as a relationship to another table.
type Reference struct {
	Table  string
	Column string
}

// Column describes one attribute of a tracked entity.
type Column struct {
	Name     string
	Type     string // SQL type, e.g. "text", "integer", "uuid"
	Nullable bool

	// Client-side default, materialized before the first history
	// capture. DefaultFunc wins over Default when both are set.
	Default     any
	DefaultFunc func() any

	// Server-side behaviors that temporal tracking cannot coexist
	// with; declaring a tracked column with any of these set is a
	// configuration error.
	HasServerDefault  bool
	HasOnUpdate       bool
	HasServerOnUpdate bool

	// Non-nil for relationship columns. Relationship values are
	// compared by referenced identity, never by deep equality.
	References *Reference
}

// ActivityDef points temporal tracking at an external activity table.
// When set, every entity construction and clock tick must carry an
// activity.
type ActivityDef struct {
	Table    string
	IDColumn string
	IDType   string
}

// Definition declares an entity type for temporal tracking.
type Definition struct {
	Table      string
	Schema     string // optional namespace override
	PrimaryKey []Column
	Columns    []Column
	Track      []string
	Activity   *ActivityDef

	// PersistOnCommit selects deferred history persistence: per-flush
	// diffs are collapsed and written once at the outermost commit.
	PersistOnCommit bool
}

func (d Definition) validate() error {
	if d.Table == "" {
		return errors.New("definition requires a table name")
	}
	if len(d.PrimaryKey) == 0 {
		return fmt.Errorf("definition for %s requires a primary key", d.Table)
	}

	cols := make(map[string]Column, len(d.Columns))
	for _, col := range d.Columns {
		cols[col.Name] = col
	}

	for _, name := range d.Track {
		if name == "vclock" {
			return fmt.Errorf("%s: vclock cannot be tracked, it is the clock itself", d.Table)
		}
		col, ok := cols[name]
		if !ok {
			return fmt.Errorf("%s.%s: %w", d.Table, name, ErrUnknownAttribute)
		}
		if col.References != nil {
			// Relationship columns carry no server-side behaviors.
			continue
		}
		if col.HasServerDefault {
			return fmt.Errorf("%s.%s has a server default and cannot be tracked", d.Table, name)
		}
		if col.HasOnUpdate {
			return fmt.Errorf("%s.%s has an onupdate trigger and cannot be tracked", d.Table, name)
		}
		if col.HasServerOnUpdate {
			return fmt.Errorf("%s.%s has a server onupdate trigger and cannot be tracked", d.Table, name)
		}
	}

	if d.Activity != nil {
		if d.Activity.Table == "" || d.Activity.IDColumn == "" || d.Activity.IDType == "" {
			return fmt.Errorf("%s: activity definition requires table, id column and id type", d.Table)
		}
	}

	return nil
}
