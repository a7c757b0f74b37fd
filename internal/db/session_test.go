package db

import (
	"context"
	"errors"
	"testing"
)

// fakeDriver records lifecycle calls without touching a database.
type fakeDriver struct {
	begins    int
	commits   int
	rollbacks int
	beginErr  error
}

func (d *fakeDriver) Begin(ctx context.Context) error {
	if d.beginErr != nil {
		return d.beginErr
	}
	d.begins++
	return nil
}

func (d *fakeDriver) Commit(ctx context.Context) error {
	d.commits++
	return nil
}

func (d *fakeDriver) Rollback(ctx context.Context) error {
	d.rollbacks++
	return nil
}

func (d *fakeDriver) Querier() Querier { return nil }

func TestSessionDepthTracking(t *testing.T) {
	ctx := context.Background()
	driver := &fakeDriver{}
	s := NewSession(driver)

	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := s.Begin(ctx); err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if s.Depth() != 2 {
		t.Errorf("depth = %d, want 2", s.Depth())
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("inner Commit failed: %v", err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("outer Rollback failed: %v", err)
	}
	if s.Depth() != 0 {
		t.Errorf("depth = %d, want 0", s.Depth())
	}
	if driver.begins != 2 || driver.commits != 1 || driver.rollbacks != 1 {
		t.Errorf("driver saw begins=%d commits=%d rollbacks=%d", driver.begins, driver.commits, driver.rollbacks)
	}
}

func TestSessionRejectsEndWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewSession(&fakeDriver{})

	if err := s.Commit(ctx); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Commit error = %v, want ErrNoTransaction", err)
	}
	if err := s.Rollback(ctx); !errors.Is(err, ErrNoTransaction) {
		t.Errorf("Rollback error = %v, want ErrNoTransaction", err)
	}
}

func TestSessionHookLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSession(&fakeDriver{})

	var events []string
	s.RegisterHooks("watcher", Hooks{
		BeforeFlush: func(ctx context.Context, s *Session) error {
			events = append(events, "flush")
			return nil
		},
		BeforeCommit: func(ctx context.Context, s *Session) error {
			events = append(events, "before-commit")
			return nil
		},
		AfterBegin: func(s *Session) { events = append(events, "begin") },
		AfterEnd: func(s *Session, committed bool) {
			if committed {
				events = append(events, "end-commit")
			} else {
				events = append(events, "end-rollback")
			}
		},
	})

	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := s.Begin(ctx); err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if err := s.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	want := []string{"begin", "begin", "end-rollback", "before-commit", "flush", "end-commit"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestBeforeCommitFiresOnlyAtOuterCommit(t *testing.T) {
	ctx := context.Background()
	s := NewSession(&fakeDriver{})

	commits := 0
	s.RegisterHooks("watcher", Hooks{
		BeforeCommit: func(ctx context.Context, s *Session) error {
			commits++
			return nil
		},
	})

	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := s.Begin(ctx); err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("inner Commit failed: %v", err)
	}
	if commits != 0 {
		t.Fatalf("before-commit fired %d times for an inner commit, want 0", commits)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("outer Commit failed: %v", err)
	}
	if commits != 1 {
		t.Errorf("before-commit fired %d times, want 1", commits)
	}
}

func TestRegisterHooksReplacesByName(t *testing.T) {
	ctx := context.Background()
	s := NewSession(&fakeDriver{})

	first, second := 0, 0
	s.RegisterHooks("watcher", Hooks{BeforeFlush: func(ctx context.Context, s *Session) error {
		first++
		return nil
	}})
	s.RegisterHooks("watcher", Hooks{BeforeFlush: func(ctx context.Context, s *Session) error {
		second++
		return nil
	}})

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want replacement to win exactly once", first, second)
	}
	if !s.HasHooks("watcher") {
		t.Error("HasHooks(watcher) = false, want true")
	}
}

func TestCommitAbortsWhenHookFails(t *testing.T) {
	ctx := context.Background()
	driver := &fakeDriver{}
	s := NewSession(driver)

	boom := errors.New("boom")
	s.RegisterHooks("watcher", Hooks{BeforeFlush: func(ctx context.Context, s *Session) error {
		return boom
	}})

	if err := s.Begin(ctx); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := s.Commit(ctx); !errors.Is(err, boom) {
		t.Fatalf("Commit error = %v, want hook error", err)
	}
	if driver.commits != 0 {
		t.Error("driver commit ran despite hook failure")
	}
	if s.Depth() != 1 {
		t.Errorf("depth = %d after failed commit, want 1", s.Depth())
	}
}
