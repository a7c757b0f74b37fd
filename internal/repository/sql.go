package repository

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
)

// NewStores wires the pgx store implementations to a session. All SQL
// runs through the session's current transaction.
func NewStores(sess *db.Session) Stores {
	return Stores{
		Entities:  &entityStore{sess: sess},
		Clocks:    &clockStore{sess: sess},
		Histories: &historyStore{sess: sess},
	}
}

// entityPredicate renders a WHERE fragment matching the generated
// entity FK columns against an identity, with placeholders starting at
// base+1. Column order follows the FK slice, so generated SQL is
// deterministic.
func entityPredicate(fks []schema.FKColumn, id domain.Identity, base int) (string, []any) {
	parts := make([]string, len(fks))
	args := make([]any, len(fks))
	for i, fk := range fks {
		parts[i] = fmt.Sprintf("%s = $%d", fk.Name, base+i+1)
		args[i] = id[fk.RefColumn]
	}
	return strings.Join(parts, " AND "), args
}

// pkPredicate is entityPredicate for the base table's own key columns.
func pkPredicate(pk []schema.Column, id domain.Identity, base int) (string, []any) {
	parts := make([]string, len(pk))
	args := make([]any, len(pk))
	for i, col := range pk {
		parts[i] = fmt.Sprintf("%s = $%d", col.Name, base+i+1)
		args[i] = id[col.Name]
	}
	return strings.Join(parts, " AND "), args
}

// bindValue unwraps relationship refs down to the stored FK value.
func bindValue(v any) any {
	if ref, ok := v.(domain.Ref); ok {
		return ref.ID
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
