package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
)

// persistHistory is the before-flush hook: the write path for every
// tracked entity with pending changes. The wall-clock timestamp is
// captured once, so all attributes changed together share one
// effective boundary.
func (s *Session) persistHistory(ctx context.Context, host *db.Session) error {
	for _, e := range s.st.tracked {
		if e.Deleted() {
			return fmt.Errorf("%s: %w", e.Mapping().Table, domain.ErrDeleteTemporal)
		}
	}

	// The temporal session may have been attached after transactions
	// were already open; backfill missing changeset frames.
	s.ensureFrames()

	timestamp := time.Now().UTC()

	for _, e := range s.st.tracked {
		if !e.Dirty() {
			continue
		}
		if err := s.flushEntity(ctx, e, timestamp); err != nil {
			return err
		}
	}

	// If this is the commit's final flush, build the deferred history.
	if s.st.isCommitting {
		if err := s.buildHistory(ctx, timestamp); err != nil {
			return err
		}
		s.st.isCommitting = false
	}
	return nil
}

// flushEntity persists one entity's base row and queued clock rows,
// then either records history immediately or parks the diffs on the
// current changeset frame.
func (s *Session) flushEntity(ctx context.Context, e *domain.Entity, timestamp time.Time) error {
	deferred := s.deferredFor(e)

	if deferred {
		changes, vclockUnchanged := domain.TrackedChanges(e)
		top, err := s.currentFrame()
		if err != nil {
			if len(changes) > 0 {
				return err
			}
		} else {
			top.changes.Merge(e, changes)
			if !vclockUnchanged {
				top.raised[e] = true
			}
		}
		s.st.isVClockUnchanged = s.st.isVClockUnchanged && vclockUnchanged
	}

	if err := s.stores.Entities.Save(ctx, e); err != nil {
		return err
	}
	for _, tick := range e.PendingTicks() {
		if err := s.stores.Clocks.Insert(ctx, e, tick); err != nil {
			return err
		}
	}

	if !deferred {
		if err := s.recordHistory(ctx, e, timestamp); err != nil {
			return err
		}
	}

	s.snapshotEntity(e)
	e.MarkFlushed()
	return nil
}

// recordHistory is the eager write path for one entity mutation: for
// each tracked attribute with an effective change, close the prior open
// interval and insert the new one at the entity's current vclock.
func (s *Session) recordHistory(ctx context.Context, e *domain.Entity, timestamp time.Time) error {
	for _, col := range e.Mapping().TrackedColumns() {
		value, changed := domain.ChangedValue(e, col.Name)
		if !changed {
			continue
		}
		if s.st.opts.StrictMode && e.VClockUnchanged() {
			return fmt.Errorf("%s.%s: %w", e.Mapping().Table, col.Name, ErrStrictFlush)
		}
		if err := s.stores.Histories.CloseAndInsert(ctx, e, col.Name, value, e.VClock(), timestamp); err != nil {
			return err
		}
	}
	return nil
}

// buildHistory drains the current changeset frame and writes one
// history row per (entity, attribute) net change, all sharing one
// timestamp. Only the outermost commit reaches here with content.
func (s *Session) buildHistory(ctx context.Context, timestamp time.Time) error {
	top, err := s.currentFrame()
	if err != nil {
		return err
	}
	if len(top.changes) == 0 {
		return nil
	}
	drained := top.changes
	top.changes = domain.Changeset{}

	if s.st.opts.StrictMode && s.st.isVClockUnchanged {
		return ErrStrictCommit
	}

	for e, changes := range drained {
		if !top.raised[e] {
			return fmt.Errorf("%s: %w", e.Mapping().Table, ErrVClockUnraised)
		}
		attrs := make([]string, 0, len(changes))
		for attr := range changes {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		for _, attr := range attrs {
			if err := s.stores.Histories.CloseAndInsert(ctx, e, attr, changes[attr], e.VClock(), timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

// beforeCommit marks the commit cycle so the final flush builds the
// deferred history. If the session is already clean no further flush
// work will happen, so build immediately.
func (s *Session) beforeCommit(ctx context.Context, host *db.Session) error {
	s.ensureFrames()
	s.st.isCommitting = true

	if s.clean() {
		if err := s.buildHistory(ctx, time.Now().UTC()); err != nil {
			return err
		}
		s.st.isCommitting = false
	}
	return nil
}

// afterBegin keeps the changeset stack aligned with the transaction
// nesting depth.
func (s *Session) afterBegin(host *db.Session) {
	s.ensureFrames()
}

// afterEnd pops the ended scope's frame. An inner commit merges its
// frame into the parent scope; a rollback discards the frame and
// rewinds every entity it snapshotted, so state flushed inside the
// rolled-back scope does not outlive the discarded rows. Ending the
// outermost transaction resets all bookkeeping.
func (s *Session) afterEnd(host *db.Session, committed bool) {
	if len(s.st.stack) == 0 {
		return
	}

	top := s.st.stack[len(s.st.stack)-1]
	s.st.stack = s.st.stack[:len(s.st.stack)-1]

	if !committed {
		for e, snap := range top.snapshots {
			e.RestoreSnapshot(snap)
		}
	}

	if host.Depth() == 0 {
		s.st.isVClockUnchanged = true
		s.st.isCommitting = false
		if len(s.st.stack) != 0 {
			log.Printf("[TEMPORAL] changeset stack depth mismatch at transaction end")
			s.st.stack = s.st.stack[:0]
		}
		return
	}

	if committed {
		parent := s.st.stack[len(s.st.stack)-1]
		parent.changes.MergeAll(top.changes)
		for e := range top.raised {
			parent.raised[e] = true
		}
		for e, snap := range top.snapshots {
			if _, ok := parent.snapshots[e]; !ok {
				parent.snapshots[e] = snap
			}
		}
	}
}

func (s *Session) ensureFrames() {
	for len(s.st.stack) < s.host.Depth() {
		s.st.stack = append(s.st.stack, newFrame())
	}
}

func (s *Session) currentFrame() (*frame, error) {
	if len(s.st.stack) == 0 {
		return nil, ErrNoChangesetFrame
	}
	return s.st.stack[len(s.st.stack)-1], nil
}

// snapshotEntity records the entity's pre-mutation state in the current
// frame, once per scope. Outside any transaction there is no scope to
// roll back, so nothing is captured.
func (s *Session) snapshotEntity(e *domain.Entity) {
	if len(s.st.stack) == 0 {
		return
	}
	top := s.st.stack[len(s.st.stack)-1]
	if _, ok := top.snapshots[e]; !ok {
		top.snapshots[e] = e.Snapshot()
	}
}

func (s *Session) deferredFor(e *domain.Entity) bool {
	return s.st.opts.PersistOnCommit || e.Mapping().PersistOnCommit
}

func (s *Session) clean() bool {
	for _, e := range s.st.tracked {
		if e.Dirty() {
			return false
		}
	}
	return true
}
