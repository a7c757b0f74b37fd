package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
)

// entityStore persists tracked entity base rows with pgx.
type entityStore struct {
	sess *db.Session
}

// Save inserts the base row on first flush and updates it afterwards.
// The vclock column always travels with the row.
func (s *entityStore) Save(ctx context.Context, e *domain.Entity) error {
	if e.Persisted() {
		return s.update(ctx, e)
	}
	return s.insert(ctx, e)
}

func (s *entityStore) insert(ctx context.Context, e *domain.Entity) error {
	mapping := e.Mapping()
	values := e.Values()

	cols := make([]string, 0, len(values)+len(mapping.PrimaryKey)+1)
	args := make([]any, 0, cap(cols))

	for _, pk := range mapping.PrimaryKey {
		cols = append(cols, pk.Name)
		args = append(args, e.ID()[pk.Name])
	}
	cols = append(cols, "vclock")
	args = append(args, e.VClock())
	for _, name := range sortedKeys(values) {
		cols = append(cols, name)
		args = append(args, bindValue(values[name]))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		mapping.Qualified(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.sess.Querier().Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s row: %w", mapping.Table, err)
	}
	return nil
}

func (s *entityStore) update(ctx context.Context, e *domain.Entity) error {
	mapping := e.Mapping()
	values := e.Values()

	sets := []string{"vclock = $1"}
	args := []any{e.VClock()}
	for _, name := range sortedKeys(values) {
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)+1))
		args = append(args, bindValue(values[name]))
	}

	where, whereArgs := pkPredicate(mapping.PrimaryKey, e.ID(), len(args))
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		mapping.Qualified(), strings.Join(sets, ", "), where)

	tag, err := s.sess.Querier().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s row: %w", mapping.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update %s row: no row matches primary key", mapping.Table)
	}
	return nil
}

// Load reads one base row back into a clean tracked entity.
func (s *entityStore) Load(ctx context.Context, mapping *schema.Mapping, id domain.Identity) (*domain.Entity, error) {
	cols := make([]string, 0, len(mapping.Columns))
	for _, col := range mapping.Columns {
		cols = append(cols, col.Name)
	}

	where, args := pkPredicate(mapping.PrimaryKey, id, 0)
	query := fmt.Sprintf("SELECT vclock%s FROM %s WHERE %s",
		prefixJoin(cols), mapping.Qualified(), where)

	var vclock int32
	dests := make([]any, 1, len(cols)+1)
	raw := make([]any, len(cols))
	dests[0] = &vclock
	for i := range raw {
		dests = append(dests, &raw[i])
	}

	if err := s.sess.Querier().QueryRow(ctx, query, args...).Scan(dests...); err != nil {
		return nil, fmt.Errorf("failed to load %s row: %w", mapping.Table, err)
	}

	values := make(map[string]any, len(cols))
	for i, name := range cols {
		value := raw[i]
		if col, _ := mapping.Column(name); col.References != nil && value != nil {
			value = domain.Ref{ID: value}
		}
		values[name] = value
	}

	return domain.Restore(mapping, id, vclock, values), nil
}

func prefixJoin(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return ", " + strings.Join(cols, ", ")
}
