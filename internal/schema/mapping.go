package schema

import (
	"fmt"
	"sort"
)

// FKColumn is a generated foreign key column on a clock or history
// table, pointing back at the entity (or activity) primary key.
type FKColumn struct {
	Name      string
	Type      string
	RefTable  string
	RefColumn string
}

// ClockTable is the synthesized per-entity-type clock log shape.
type ClockTable struct {
	Name        string
	Schema      string
	EntityFKs   []FKColumn
	ActivityFKs []FKColumn

	TickUniqueName     string
	ActivityUniqueName string
}

// Qualified returns the schema-qualified table name.
func (t ClockTable) Qualified() string {
	return qualify(t.Schema, t.Name)
}

// HistoryTable is the synthesized shape for one tracked attribute.
type HistoryTable struct {
	Name      string
	Schema    string
	Attribute string
	EntityFKs []FKColumn
	Value     Column

	EffectiveIndexName string
	EntityIndexName    string
	ExclVClockName     string
	ExclEffectiveName  string
}

// Qualified returns the schema-qualified table name.
func (t HistoryTable) Qualified() string {
	return qualify(t.Schema, t.Name)
}

// Mapping is a validated, built entity type declaration. It is the unit
// the registry caches and everything downstream (sessions, stores,
// loader) consumes.
type Mapping struct {
	Definition

	Clock     ClockTable
	Histories map[string]HistoryTable

	columns map[string]Column
	tracked map[string]Column
}

// Qualified returns the schema-qualified base table name.
func (m *Mapping) Qualified() string {
	return qualify(m.Schema, m.Table)
}

// Key identifies a mapping in the registry cache.
func (m *Mapping) Key() string {
	return m.Qualified()
}

// Column looks up a column definition by attribute name.
func (m *Mapping) Column(name string) (Column, bool) {
	col, ok := m.columns[name]
	return col, ok
}

// IsTracked reports whether name is a tracked attribute.
func (m *Mapping) IsTracked(name string) bool {
	_, ok := m.tracked[name]
	return ok
}

// TrackedColumns returns the tracked attribute definitions in stable
// name order.
func (m *Mapping) TrackedColumns() []Column {
	cols := make([]Column, 0, len(m.tracked))
	for _, col := range m.tracked {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

// HistoryTable returns the history store handle for a tracked attribute,
// for ad-hoc querying.
func (m *Mapping) HistoryTable(attribute string) (HistoryTable, error) {
	hist, ok := m.Histories[attribute]
	if !ok {
		return HistoryTable{}, fmt.Errorf("%s.%s is not tracked: %w", m.Table, attribute, ErrUnknownAttribute)
	}
	return hist, nil
}

// RequiresActivity reports whether constructions and clock ticks must
// carry an activity reference.
func (m *Mapping) RequiresActivity() bool {
	return m.Activity != nil
}

func qualify(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}
