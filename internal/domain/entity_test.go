package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/schema"
)

type testActivity struct {
	id uuid.UUID
}

func (a testActivity) ActivityID() uuid.UUID { return a.id }

func newMapping(t *testing.T, def schema.Definition) *schema.Mapping {
	t.Helper()
	mapping, err := schema.NewRegistry().Register(def)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return mapping
}

func widgetMapping(t *testing.T) *schema.Mapping {
	return newMapping(t, schema.Definition{
		Table:      "widget",
		PrimaryKey: []schema.Column{{Name: "id", Type: "uuid"}},
		Columns: []schema.Column{
			{Name: "name", Type: "text"},
			{Name: "rating", Type: "integer", Default: int64(0)},
			{Name: "owner_id", Type: "uuid", References: &schema.Reference{Table: "owner", Column: "id"}},
		},
		Track: []string{"name", "rating", "owner_id"},
	})
}

func TestNewEntityStartsAtTickOne(t *testing.T) {
	mapping := widgetMapping(t)

	e, err := NewEntity(mapping, Identity{"id": uuid.New()}, map[string]any{"name": "w1"}, nil)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}

	if e.VClock() != 1 {
		t.Errorf("vclock = %d, want 1", e.VClock())
	}
	ticks := e.PendingTicks()
	if len(ticks) != 1 || ticks[0].Tick != 1 {
		t.Fatalf("expected one queued tick at 1, got %+v", ticks)
	}
	if e.Persisted() {
		t.Error("new entity should not be persisted")
	}
	if !e.Dirty() {
		t.Error("new entity should be dirty")
	}
}

func TestNewEntityMaterializesDefaults(t *testing.T) {
	mapping := widgetMapping(t)

	e, err := NewEntity(mapping, Identity{"id": uuid.New()}, map[string]any{"name": "w1"}, nil)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}

	if got := e.Get("rating"); got != int64(0) {
		t.Errorf("rating = %v, want declared default 0", got)
	}

	// Supplied values win over defaults.
	e2, err := NewEntity(mapping, Identity{"id": uuid.New()}, map[string]any{"name": "w2", "rating": int64(9)}, nil)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	if got := e2.Get("rating"); got != int64(9) {
		t.Errorf("rating = %v, want supplied 9", got)
	}
}

func TestNewEntityCallableDefault(t *testing.T) {
	calls := 0
	mapping := newMapping(t, schema.Definition{
		Table:      "gadget",
		PrimaryKey: []schema.Column{{Name: "id", Type: "uuid"}},
		Columns: []schema.Column{
			{Name: "serial", Type: "text", DefaultFunc: func() any {
				calls++
				return "generated"
			}},
		},
		Track: []string{"serial"},
	})

	e, err := NewEntity(mapping, Identity{"id": uuid.New()}, nil, nil)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	if e.Get("serial") != "generated" || calls != 1 {
		t.Errorf("serial = %v after %d calls, want generated after 1", e.Get("serial"), calls)
	}
}

func TestNewEntityRequiresActivity(t *testing.T) {
	mapping := newMapping(t, schema.Definition{
		Table:      "audited",
		PrimaryKey: []schema.Column{{Name: "id", Type: "uuid"}},
		Columns:    []schema.Column{{Name: "name", Type: "text"}},
		Track:      []string{"name"},
		Activity:   &schema.ActivityDef{Table: "audit_event", IDColumn: "id", IDType: "uuid"},
	})

	if _, err := NewEntity(mapping, Identity{"id": uuid.New()}, nil, nil); !errors.Is(err, ErrMissingActivity) {
		t.Fatalf("error = %v, want ErrMissingActivity", err)
	}

	e, err := NewEntity(mapping, Identity{"id": uuid.New()}, nil, testActivity{id: uuid.New()})
	if err != nil {
		t.Fatalf("NewEntity with activity failed: %v", err)
	}
	if e.PendingTicks()[0].Activity == nil {
		t.Error("expected first tick to carry the activity")
	}
}

func TestNewEntityRejectsIncompleteIdentity(t *testing.T) {
	mapping := widgetMapping(t)
	if _, err := NewEntity(mapping, Identity{}, nil, nil); err == nil {
		t.Fatal("expected construction with empty identity to fail")
	}
}

func TestSetKeepsOriginalOldValue(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 3, map[string]any{"name": "a"})

	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := e.Set("name", "c"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if got := e.Get("name"); got != "c" {
		t.Errorf("Get(name) = %v, want c", got)
	}
	value, changed := ChangedValue(e, "name")
	if !changed || value != "c" {
		t.Errorf("ChangedValue = (%v, %v), want (c, true)", value, changed)
	}
	if err := e.Set("bogus", 1); err == nil {
		t.Error("expected Set on unknown attribute to fail")
	}
}

func TestRevertReadsAsUnchanged(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 3, map[string]any{"name": "a"})

	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !e.HasEffectiveChange() {
		t.Fatal("expected an effective change after Set")
	}

	if err := e.Set("name", "a"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if e.HasEffectiveChange() {
		t.Error("reverting to the flushed value should not be an effective change")
	}
	if _, changed := ChangedValue(e, "name"); changed {
		t.Error("ChangedValue should treat a reverted attribute as unchanged")
	}
}

func TestRefsCompareByID(t *testing.T) {
	mapping := widgetMapping(t)
	ownerID := uuid.New()
	e := Restore(mapping, Identity{"id": uuid.New()}, 2, map[string]any{"owner_id": Ref{ID: ownerID}})

	if err := e.Set("owner_id", Ref{ID: ownerID}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if e.HasEffectiveChange() {
		t.Error("same referenced identity should read as unchanged")
	}

	if err := e.Set("owner_id", Ref{ID: uuid.New()}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !e.HasEffectiveChange() {
		t.Error("different referenced identity should be an effective change")
	}
}

func TestRaiseTickAndMarkFlushed(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 4, map[string]any{"name": "a"})

	if !e.VClockUnchanged() {
		t.Fatal("restored entity should start with unchanged vclock")
	}

	tick := e.RaiseTick(nil)
	if tick.Tick != 5 || e.VClock() != 5 {
		t.Errorf("tick = %d, vclock = %d, want both 5", tick.Tick, e.VClock())
	}
	if e.VClockUnchanged() {
		t.Error("vclock should read as changed after RaiseTick")
	}

	e.MarkFlushed()
	if e.VClockUnchanged() != true || e.Dirty() {
		t.Error("flushed entity should be clean with settled vclock")
	}
	if len(e.PendingTicks()) != 0 {
		t.Error("flush should clear the tick queue")
	}
}

func TestSnapshotRestoreRewindsEntity(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 2, map[string]any{"name": "a"})

	snap := e.Snapshot()

	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e.RaiseTick(nil)
	e.MarkFlushed()
	if e.VClock() != 3 || e.Get("name") != "b" {
		t.Fatalf("mutation did not apply: vclock=%d name=%v", e.VClock(), e.Get("name"))
	}

	e.RestoreSnapshot(snap)

	if e.VClock() != 2 {
		t.Errorf("vclock = %d after restore, want 2", e.VClock())
	}
	if got := e.Get("name"); got != "a" {
		t.Errorf("name = %v after restore, want a", got)
	}
	if !e.VClockUnchanged() || e.Dirty() {
		t.Error("restored entity should be clean with settled vclock")
	}

	// The snapshot must stay intact if the entity mutates again.
	if err := e.Set("name", "z"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	e.RestoreSnapshot(snap)
	if got := e.Get("name"); got != "a" {
		t.Errorf("name = %v after second restore, want a", got)
	}
}

func TestDeletedEntityRejectsWrites(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 1, nil)
	e.MarkDeleted()

	if err := e.Set("name", "x"); !errors.Is(err, ErrDeleteTemporal) {
		t.Errorf("error = %v, want ErrDeleteTemporal", err)
	}
}

func TestTrackedChanges(t *testing.T) {
	mapping := widgetMapping(t)
	e := Restore(mapping, Identity{"id": uuid.New()}, 2, map[string]any{"name": "a", "rating": int64(1)})

	if err := e.Set("name", "b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := e.Set("rating", int64(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	changes, vclockUnchanged := TrackedChanges(e)
	if !vclockUnchanged {
		t.Error("no tick was raised, vclock should read unchanged")
	}
	if len(changes) != 1 || changes["name"] != "b" {
		t.Errorf("changes = %v, want only name=b", changes)
	}

	e.RaiseTick(nil)
	if _, vclockUnchanged = TrackedChanges(e); vclockUnchanged {
		t.Error("vclock should read changed after a tick")
	}
}

func TestChangesetMerge(t *testing.T) {
	mapping := widgetMapping(t)
	e1 := Restore(mapping, Identity{"id": uuid.New()}, 1, nil)
	e2 := Restore(mapping, Identity{"id": uuid.New()}, 1, nil)

	cs := Changeset{}
	cs.Merge(e1, map[string]any{"name": "a"})
	cs.Merge(e1, map[string]any{"name": "b", "rating": int64(2)})
	cs.Merge(e2, nil)

	if len(cs) != 1 {
		t.Fatalf("changeset holds %d entities, want 1", len(cs))
	}
	if cs[e1]["name"] != "b" || cs[e1]["rating"] != int64(2) {
		t.Errorf("merged diffs = %v, want net change", cs[e1])
	}

	inner := Changeset{}
	inner.Merge(e1, map[string]any{"name": "c"})
	inner.Merge(e2, map[string]any{"rating": int64(5)})
	cs.MergeAll(inner)

	if cs[e1]["name"] != "c" {
		t.Errorf("MergeAll should overwrite with inner value, got %v", cs[e1]["name"])
	}
	if cs[e2]["rating"] != int64(5) {
		t.Errorf("MergeAll should add new entities, got %v", cs[e2])
	}
}
