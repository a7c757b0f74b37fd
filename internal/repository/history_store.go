package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/interval"
)

// historyStore persists per-attribute history tables with pgx.
type historyStore struct {
	sess *db.Session
}

// CloseAndInsert caps the open interval and opens the next one. The
// UPDATE closes the previous row at exactly the new lower bounds, so
// the chain stays gapless; running both statements on the same
// transaction keeps the exclusion constraints satisfied at every
// visible point.
func (s *historyStore) CloseAndInsert(ctx context.Context, e *domain.Entity, attr string, value any, tick int32, effective time.Time) error {
	mapping := e.Mapping()
	hist, err := mapping.HistoryTable(attr)
	if err != nil {
		return err
	}

	q := s.sess.Querier()

	if e.Persisted() {
		where, args := entityPredicate(hist.EntityFKs, e.ID(), 2)
		closeStmt := fmt.Sprintf(
			"UPDATE %s SET effective = tstzrange(lower(effective), $1, '[)'), vclock = int4range(lower(vclock), $2, '[)') WHERE %s AND upper_inf(effective) AND upper_inf(vclock)",
			hist.Qualified(), where)
		closeArgs := append([]any{effective, tick}, args...)
		if _, err := q.Exec(ctx, closeStmt, closeArgs...); err != nil {
			return fmt.Errorf("failed to close %s interval: %w", hist.Name, err)
		}
	}

	cols := "id, effective, vclock, " + hist.Value.Name
	placeholders := []any{uuid.New(), effective, tick, bindValue(value)}
	for _, fk := range hist.EntityFKs {
		cols += ", " + fk.Name
		placeholders = append(placeholders, e.ID()[fk.RefColumn])
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, tstzrange($2, NULL, '[)'), int4range($3, NULL, '[)'), $4%s)",
		hist.Qualified(), cols, extraPlaceholders(5, len(hist.EntityFKs)))

	if _, err := q.Exec(ctx, insert, placeholders...); err != nil {
		return fmt.Errorf("failed to insert %s interval: %w", hist.Name, err)
	}
	return nil
}

// History returns the full interval chain for (entity, attribute) in
// tick order.
func (s *historyStore) History(ctx context.Context, e *domain.Entity, attr string) ([]domain.HistoryRecord, error) {
	hist, err := e.Mapping().HistoryTable(attr)
	if err != nil {
		return nil, err
	}

	where, args := entityPredicate(hist.EntityFKs, e.ID(), 0)
	query := fmt.Sprintf("SELECT id, effective, vclock, %s FROM %s WHERE %s ORDER BY lower(vclock)",
		hist.Value.Name, hist.Qualified(), where)

	rows, err := s.sess.Querier().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", hist.Name, err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		record, err := scanHistoryRecord(rows.Scan, e, attr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", hist.Name, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", hist.Name, err)
	}
	return records, nil
}

// ValueAtTick resolves the interval containing a given tick.
func (s *historyStore) ValueAtTick(ctx context.Context, e *domain.Entity, attr string, tick int32) (domain.HistoryRecord, error) {
	return s.valueWhere(ctx, e, attr, "vclock @> $%d::integer", tick)
}

// ValueAt resolves the interval containing a given wall-clock instant.
func (s *historyStore) ValueAt(ctx context.Context, e *domain.Entity, attr string, at time.Time) (domain.HistoryRecord, error) {
	return s.valueWhere(ctx, e, attr, "effective @> $%d::timestamptz", at)
}

func (s *historyStore) valueWhere(ctx context.Context, e *domain.Entity, attr, cond string, arg any) (domain.HistoryRecord, error) {
	hist, err := e.Mapping().HistoryTable(attr)
	if err != nil {
		return domain.HistoryRecord{}, err
	}

	where, args := entityPredicate(hist.EntityFKs, e.ID(), 0)
	args = append(args, arg)
	query := fmt.Sprintf("SELECT id, effective, vclock, %s FROM %s WHERE %s AND %s",
		hist.Value.Name, hist.Qualified(), where, fmt.Sprintf(cond, len(args)))

	record, err := scanHistoryRecord(s.sess.Querier().QueryRow(ctx, query, args...).Scan, e, attr)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("failed to query %s: %w", hist.Name, err)
	}
	return record, nil
}

func scanHistoryRecord(scan func(...any) error, e *domain.Entity, attr string) (domain.HistoryRecord, error) {
	var (
		effective pgtype.Range[pgtype.Timestamptz]
		vclock    pgtype.Range[pgtype.Int4]
		value     any
	)
	record := domain.HistoryRecord{Entity: e.ID(), Attribute: attr}
	if err := scan(&record.ID, &effective, &vclock, &value); err != nil {
		return domain.HistoryRecord{}, err
	}
	record.Effective = interval.TimeRangeFromPG(effective)
	record.VClock = interval.TickRangeFromPG(vclock)

	if col, _ := e.Mapping().Column(attr); col.References != nil && value != nil {
		value = domain.Ref{ID: value}
	}
	record.Value = value
	return record, nil
}

func extraPlaceholders(start, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += fmt.Sprintf(", $%d", start+i)
	}
	return out
}
