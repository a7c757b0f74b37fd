// Package session implements temporal change tracking on top of the
// storage session lifecycle: it observes flushes and transaction
// boundaries, issues clock ticks, and records attribute history either
// eagerly (every flush) or deferred until the outermost commit.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/db"
	"github.com/rpattn/temporal/internal/domain"
	"github.com/rpattn/temporal/internal/repository"
	"github.com/rpattn/temporal/internal/schema"
)

var (
	// ErrStrictFlush is the strict-mode failure for a flush touching a
	// changed tracked attribute outside of a clock tick.
	ErrStrictFlush = errors.New("flush has triggered for a changed temporalized property outside of a clock tick")

	// ErrStrictCommit is the strict-mode failure for a commit-time
	// history build without a corresponding clock tick.
	ErrStrictCommit = errors.New("commit has triggered for a changed temporalized property without a clock tick")

	// ErrVClockUnraised is returned when a deferred history build finds
	// diffs for an entity whose vclock never moved; writing them would
	// produce an empty vclock range.
	ErrVClockUnraised = errors.New("temporal changes without a clock tick would produce an empty vclock range")

	// ErrNoChangesetFrame is returned when deferred changes arrive with
	// no transaction scope open.
	ErrNoChangesetFrame = errors.New("no changeset frame open")
)

const hookName = "temporal"

// Options configure temporal behavior for a session. PersistOnCommit
// here is a session-wide override; entity types can also opt in
// individually via their definition.
type Options struct {
	StrictMode      bool
	PersistOnCommit bool
}

// frame is the per-transaction-level bookkeeping: the deferred diffs
// observed in the scope, which entities raised their vclock in it, and
// pre-mutation snapshots so a rollback can rewind the entities it
// touched. Rolling a scope back discards the whole frame.
type frame struct {
	changes   domain.Changeset
	raised    map[*domain.Entity]bool
	snapshots map[*domain.Entity]domain.Snapshot
}

func newFrame() *frame {
	return &frame{
		changes:   domain.Changeset{},
		raised:    make(map[*domain.Entity]bool),
		snapshots: make(map[*domain.Entity]domain.Snapshot),
	}
}

// state is the session-attached bookkeeping: configuration, the
// changeset stack (one frame per open transaction level), and the
// commit-cycle flags. It is owned exclusively by its session.
type state struct {
	opts              Options
	stack             []*frame
	isCommitting      bool
	isVClockUnchanged bool
	tracked           []*domain.Entity
}

// Session is a temporal view over a storage session.
type Session struct {
	host   *db.Session
	stores repository.Stores
	st     *state
}

// Attach installs temporal tracking on a storage session. Attach is
// idempotent: re-attaching updates the options and rebinds the stores
// without ever installing a second set of hooks.
func Attach(host *db.Session, stores repository.Stores, opts Options) *Session {
	st, ok := host.Extension().(*state)
	if ok {
		st.opts = opts
	} else {
		st = &state{opts: opts, isVClockUnchanged: true}
		host.SetExtension(st)
	}

	s := &Session{host: host, stores: stores, st: st}
	host.RegisterHooks(hookName, db.Hooks{
		BeforeFlush:  s.persistHistory,
		BeforeCommit: s.beforeCommit,
		AfterBegin:   s.afterBegin,
		AfterEnd:     s.afterEnd,
	})
	return s
}

// IsTemporal reports whether temporal tracking is attached to a
// storage session.
func IsTemporal(host *db.Session) bool {
	_, ok := host.Extension().(*state)
	return ok && host.HasHooks(hookName)
}

// Host returns the underlying storage session.
func (s *Session) Host() *db.Session { return s.host }

// Create constructs a tracked entity and registers it with the session.
// The entity starts at vclock 1 with its first tick queued; nothing is
// persisted until the next flush. Construction fails before any state
// is registered when a required activity is missing.
func (s *Session) Create(mapping *schema.Mapping, id domain.Identity, initial map[string]any, activity domain.Activity) (*domain.Entity, error) {
	e, err := domain.NewEntity(mapping, id, initial, activity)
	if err != nil {
		return nil, err
	}
	s.Track(e)
	return e, nil
}

// Track registers an already-built entity with the session.
func (s *Session) Track(e *domain.Entity) {
	for _, existing := range s.st.tracked {
		if existing == e {
			return
		}
	}
	s.st.tracked = append(s.st.tracked, e)
}

// Load reads an entity's base row and registers it with the session.
func (s *Session) Load(ctx context.Context, mapping *schema.Mapping, id domain.Identity) (*domain.Entity, error) {
	e, err := s.stores.Entities.Load(ctx, mapping, id)
	if err != nil {
		return nil, err
	}
	s.Track(e)
	return e, nil
}

// Delete marks a tracked entity for deletion. Temporal entities are
// append-only, so the next flush fails; this exists to surface the
// misuse instead of silently dropping rows.
func (s *Session) Delete(e *domain.Entity) {
	s.Track(e)
	e.MarkDeleted()
}

// ClockTick runs fn as a deliberate mutation scope on one entity. If
// any tracked attribute effectively changed inside the scope, the
// entity's vclock is raised by exactly one and a matching clock row is
// queued for the next flush. A scope whose writes all revert to the
// flushed values raises nothing. When the entity type requires an
// activity it must be supplied here, before any mutation is applied.
func (s *Session) ClockTick(e *domain.Entity, activity domain.Activity, fn func(*domain.Entity) error) error {
	if e.Mapping().RequiresActivity() && activity == nil {
		return fmt.Errorf("%s: %w on edit", e.Mapping().Table, domain.ErrMissingActivity)
	}
	if e.Deleted() {
		return fmt.Errorf("%s: %w", e.Mapping().Table, domain.ErrDeleteTemporal)
	}

	s.Track(e)
	s.snapshotEntity(e)
	if err := fn(e); err != nil {
		return err
	}

	if e.HasEffectiveChange() {
		e.RaiseTick(activity)
	}
	return nil
}

// History returns the full history chain for one tracked attribute.
func (s *Session) History(ctx context.Context, e *domain.Entity, attr string) ([]domain.HistoryRecord, error) {
	return s.stores.Histories.History(ctx, e, attr)
}

// ValueAtTick reconstructs an attribute's value as of a clock tick.
func (s *Session) ValueAtTick(ctx context.Context, e *domain.Entity, attr string, tick int32) (domain.HistoryRecord, error) {
	return s.stores.Histories.ValueAtTick(ctx, e, attr, tick)
}

// ValueAt reconstructs an attribute's value as of a wall-clock instant.
func (s *Session) ValueAt(ctx context.Context, e *domain.Entity, attr string, at time.Time) (domain.HistoryRecord, error) {
	return s.stores.Histories.ValueAt(ctx, e, attr, at)
}

// FirstTick returns the entity's creation tick.
func (s *Session) FirstTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error) {
	return s.stores.Clocks.FirstTick(ctx, e)
}

// LatestTick returns the tick matching the entity's current vclock.
func (s *Session) LatestTick(ctx context.Context, e *domain.Entity) (domain.ClockTick, error) {
	return s.stores.Clocks.LatestTick(ctx, e)
}

// DateCreated is the timestamp of the entity's first tick.
func (s *Session) DateCreated(ctx context.Context, e *domain.Entity) (time.Time, error) {
	tick, err := s.stores.Clocks.FirstTick(ctx, e)
	if err != nil {
		return time.Time{}, err
	}
	return tick.Timestamp, nil
}

// DateModified is the timestamp of the entity's latest tick.
func (s *Session) DateModified(ctx context.Context, e *domain.Entity) (time.Time, error) {
	tick, err := s.stores.Clocks.LatestTick(ctx, e)
	if err != nil {
		return time.Time{}, err
	}
	return tick.Timestamp, nil
}

// TicksForActivity lists the ticks one activity caused for an entity
// type.
func (s *Session) TicksForActivity(ctx context.Context, mapping *schema.Mapping, activityID uuid.UUID) ([]domain.ClockTick, error) {
	return s.stores.Clocks.TicksForActivity(ctx, mapping, activityID)
}
