package schema

import (
	"fmt"
	"strings"
)

// DDL renders the CREATE statements for a mapping: the base table, its
// clock table, and one history table per tracked attribute. Statements
// use IF NOT EXISTS so applying a mapping twice is harmless. The
// exclusion constraints require the btree_gist extension, installed by
// the base migrations.
func (m *Mapping) DDL() []string {
	stmts := []string{baseDDL(m), clockDDL(m.Clock)}
	for _, col := range m.TrackedColumns() {
		hist := m.Histories[col.Name]
		stmts = append(stmts, historyDDL(hist)...)
	}
	return stmts
}

func baseDDL(m *Mapping) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", m.Qualified())

	for _, col := range m.PrimaryKey {
		fmt.Fprintf(&b, "    %s %s NOT NULL,\n", col.Name, col.Type)
	}
	b.WriteString("    vclock integer NOT NULL,\n")

	for _, col := range m.Columns {
		fmt.Fprintf(&b, "    %s %s", col.Name, col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if ref := col.References; ref != nil {
			fmt.Fprintf(&b, " REFERENCES %s (%s)", ref.Table, ref.Column)
		}
		b.WriteString(",\n")
	}

	pkNames := make([]string, len(m.PrimaryKey))
	for i, col := range m.PrimaryKey {
		pkNames[i] = col.Name
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n)", strings.Join(pkNames, ", "))
	return b.String()
}

func clockDDL(clock ClockTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", clock.Qualified())
	b.WriteString("    id uuid PRIMARY KEY,\n")
	b.WriteString("    tick integer NOT NULL,\n")
	b.WriteString("    timestamp timestamptz NOT NULL DEFAULT current_timestamp,\n")

	for _, fk := range clock.EntityFKs {
		fmt.Fprintf(&b, "    %s %s NOT NULL REFERENCES %s (%s),\n", fk.Name, fk.Type, fk.RefTable, fk.RefColumn)
	}
	for _, fk := range clock.ActivityFKs {
		fmt.Fprintf(&b, "    %s %s NOT NULL REFERENCES %s (%s),\n", fk.Name, fk.Type, fk.RefTable, fk.RefColumn)
	}

	fmt.Fprintf(&b, "    CONSTRAINT %s UNIQUE (%s)", clock.TickUniqueName,
		strings.Join(append(fkNames(clock.EntityFKs), "tick"), ", "))

	if len(clock.ActivityFKs) > 0 {
		fmt.Fprintf(&b, ",\n    CONSTRAINT %s UNIQUE (%s)", clock.ActivityUniqueName,
			strings.Join(append(fkNames(clock.EntityFKs), fkNames(clock.ActivityFKs)...), ", "))
	}

	b.WriteString("\n)")
	return b.String()
}

func historyDDL(hist HistoryTable) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", hist.Qualified())
	b.WriteString("    id uuid PRIMARY KEY,\n")
	b.WriteString("    effective tstzrange NOT NULL,\n")
	b.WriteString("    vclock int4range NOT NULL,\n")

	for _, fk := range hist.EntityFKs {
		fmt.Fprintf(&b, "    %s %s NOT NULL REFERENCES %s (%s),\n", fk.Name, fk.Type, fk.RefTable, fk.RefColumn)
	}

	fmt.Fprintf(&b, "    %s %s", hist.Value.Name, hist.Value.Type)
	if ref := hist.Value.References; ref != nil {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", ref.Table, ref.Column)
	}
	b.WriteString(",\n")

	entityEquals := make([]string, len(hist.EntityFKs))
	for i, fk := range hist.EntityFKs {
		entityEquals[i] = fk.Name + " WITH ="
	}

	fmt.Fprintf(&b, "    CONSTRAINT %s EXCLUDE USING gist (%s),\n", hist.ExclVClockName,
		strings.Join(append(append([]string{}, entityEquals...), "vclock WITH &&"), ", "))
	fmt.Fprintf(&b, "    CONSTRAINT %s EXCLUDE USING gist (%s)\n", hist.ExclEffectiveName,
		strings.Join(append(append([]string{}, entityEquals...), "effective WITH &&"), ", "))
	b.WriteString(")")

	table := b.String()
	effectiveIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gist (effective)",
		hist.EffectiveIndexName, hist.Qualified())
	entityIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		hist.EntityIndexName, hist.Qualified(), strings.Join(fkNames(hist.EntityFKs), ", "))

	return []string{table, effectiveIdx, entityIdx}
}

func fkNames(fks []FKColumn) []string {
	names := make([]string, len(fks))
	for i, fk := range fks {
		names[i] = fk.Name
	}
	return names
}
