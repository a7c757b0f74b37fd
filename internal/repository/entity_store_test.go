package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/schema"
)

type fakeQuerier struct {
	tag  pgconn.CommandTag
	sqls []string
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.sqls = append(q.sqls, sql)
	return q.tag, nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

type fakeDriver struct {
	q db.Querier
}

func (d *fakeDriver) Begin(ctx context.Context) error    { return nil }
func (d *fakeDriver) Commit(ctx context.Context) error   { return nil }
func (d *fakeDriver) Rollback(ctx context.Context) error { return nil }
func (d *fakeDriver) Querier() db.Querier                { return d.q }

func widgetMapping(t *testing.T) *schema.Mapping {
	t.Helper()
	mapping, err := schema.NewRegistry().Register(schema.Definition{
		Table:      "widget",
		PrimaryKey: []schema.Column{{Name: "id", Type: "uuid"}},
		Columns:    []schema.Column{{Name: "name", Type: "text"}},
		Track:      []string{"name"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return mapping
}

func TestSaveUpdateFailsWhenNoRowMatches(t *testing.T) {
	querier := &fakeQuerier{tag: pgconn.NewCommandTag("UPDATE 0")}
	stores := NewStores(db.NewSession(&fakeDriver{q: querier}))

	e := domain.Restore(widgetMapping(t), domain.Identity{"id": uuid.New()}, 2, map[string]any{"name": "a"})
	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err := stores.Entities.Save(context.Background(), e)
	if err == nil {
		t.Fatal("expected update of a missing row to fail")
	}
	if !strings.Contains(err.Error(), "no row matches") {
		t.Errorf("error = %v, want missing-row failure", err)
	}
}

func TestSaveUpdateSucceedsWhenRowMatches(t *testing.T) {
	querier := &fakeQuerier{tag: pgconn.NewCommandTag("UPDATE 1")}
	stores := NewStores(db.NewSession(&fakeDriver{q: querier}))

	e := domain.Restore(widgetMapping(t), domain.Identity{"id": uuid.New()}, 2, map[string]any{"name": "a"})
	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := stores.Entities.Save(context.Background(), e); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(querier.sqls) != 1 || !strings.HasPrefix(querier.sqls[0], "UPDATE widget SET") {
		t.Errorf("executed sql = %v, want one UPDATE on widget", querier.sqls)
	}
}
