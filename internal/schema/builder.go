package schema

import (
	"fmt"
	"sync"
)

// Registry caches built mappings by their deterministic key so that
// repeated registration of the same entity type is idempotent.
type Registry struct {
	mu       sync.Mutex
	mappings map[string]*Mapping
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]*Mapping)}
}

// Register validates and builds the clock and history shapes for a
// declaration. Registering a table that was already registered returns
// the cached mapping unchanged.
func (r *Registry) Register(def Definition) (*Mapping, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	key := qualify(def.Schema, def.Table)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.mappings[key]; ok {
		return existing, nil
	}

	mapping := build(def)
	r.mappings[key] = mapping
	return mapping, nil
}

// Lookup returns the mapping registered for a (possibly qualified)
// table name.
func (r *Registry) Lookup(key string) (*Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[key]
	return m, ok
}

// Mappings returns all registered mappings.
func (r *Registry) Mappings() []*Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	return out
}

func build(def Definition) *Mapping {
	mapping := &Mapping{
		Definition: def,
		Histories:  make(map[string]HistoryTable, len(def.Track)),
		columns:    make(map[string]Column, len(def.Columns)),
		tracked:    make(map[string]Column, len(def.Track)),
	}

	for _, col := range def.Columns {
		mapping.columns[col.Name] = col
	}
	for _, name := range def.Track {
		mapping.tracked[name] = mapping.columns[name]
	}

	mapping.Clock = buildClockTable(def)
	for _, name := range def.Track {
		mapping.Histories[name] = buildHistoryTable(def, mapping.columns[name])
	}

	return mapping
}

func buildClockTable(def Definition) ClockTable {
	name := truncateIdentifier(def.Table + "_clock")
	clock := ClockTable{
		Name:           name,
		Schema:         def.Schema,
		EntityFKs:      foreignKeysTo(def.Table, def.Schema, def.PrimaryKey, "entity"),
		TickUniqueName: truncateIdentifier(name + "_tick_entity_key"),
	}

	if def.Activity != nil {
		clock.ActivityFKs = []FKColumn{{
			Name:      "activity_" + def.Activity.IDColumn,
			Type:      def.Activity.IDType,
			RefTable:  def.Activity.Table,
			RefColumn: def.Activity.IDColumn,
		}}
		clock.ActivityUniqueName = truncateIdentifier(name + "_entity_activity_key")
	}

	return clock
}

func buildHistoryTable(def Definition, col Column) HistoryTable {
	name := truncateIdentifier(fmt.Sprintf("%s_history_%s", def.Table, col.Name))
	return HistoryTable{
		Name:      name,
		Schema:    def.Schema,
		Attribute: col.Name,
		EntityFKs: foreignKeysTo(def.Table, def.Schema, def.PrimaryKey, "entity"),
		Value:     historyValueColumn(col),

		EffectiveIndexName: truncateIdentifier(name + "_effective_idx"),
		EntityIndexName:    truncateIdentifier(name + "_entity_idx"),
		ExclVClockName:     truncateIdentifier(name + "_excl_vclock"),
		ExclEffectiveName:  truncateIdentifier(name + "_excl_effective"),
	}
}

// historyValueColumn copies a tracked column for its history table:
// same name and type, always nullable, defaults stripped. Foreign keys
// on relationship columns are carried over.
func historyValueColumn(col Column) Column {
	return Column{
		Name:       col.Name,
		Type:       col.Type,
		Nullable:   true,
		References: col.References,
	}
}

// foreignKeysTo generates FK columns mirroring an arbitrary, possibly
// composite primary key shape.
func foreignKeysTo(table, schema string, pk []Column, prefix string) []FKColumn {
	fks := make([]FKColumn, len(pk))
	for i, col := range pk {
		fks[i] = FKColumn{
			Name:      prefix + "_" + col.Name,
			Type:      col.Type,
			RefTable:  qualify(schema, table),
			RefColumn: col.Name,
		}
	}
	return fks
}
