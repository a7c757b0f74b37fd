// Package interval provides the half-open range values used by the
// temporal history tables: a wall-clock range backed by Postgres
// tstzrange and a tick range backed by int4range. An unset upper bound
// means the interval is still open, i.e. the value is current.
package interval

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// TimeRange is a half-open [Lower, Upper) wall-clock interval. A nil
// Upper means the interval is unbounded above.
type TimeRange struct {
	Lower time.Time
	Upper *time.Time
}

// OpenTimeRange returns a range starting at lower with no upper bound.
func OpenTimeRange(lower time.Time) TimeRange {
	return TimeRange{Lower: lower.UTC()}
}

// IsOpen reports whether the range is unbounded above.
func (r TimeRange) IsOpen() bool {
	return r.Upper == nil
}

// Close returns a copy of the range capped at upper.
func (r TimeRange) Close(upper time.Time) TimeRange {
	u := upper.UTC()
	return TimeRange{Lower: r.Lower, Upper: &u}
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if t.Before(r.Lower) {
		return false
	}
	return r.Upper == nil || t.Before(*r.Upper)
}

// Overlaps reports whether two ranges share any instant. Empty ranges
// (Lower == Upper) overlap nothing.
func (r TimeRange) Overlaps(o TimeRange) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	lowerBelowUpper := o.Upper == nil || r.Lower.Before(*o.Upper)
	upperAboveLower := r.Upper == nil || o.Lower.Before(*r.Upper)
	return lowerBelowUpper && upperAboveLower
}

// IsEmpty reports whether the range contains no instants.
func (r TimeRange) IsEmpty() bool {
	return r.Upper != nil && !r.Lower.Before(*r.Upper)
}

func (r TimeRange) String() string {
	if r.Upper == nil {
		return fmt.Sprintf("[%s,)", r.Lower.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("[%s,%s)", r.Lower.Format(time.RFC3339Nano), r.Upper.Format(time.RFC3339Nano))
}

// PG converts the range into the pgtype representation used when binding
// tstzrange parameters.
func (r TimeRange) PG() pgtype.Range[pgtype.Timestamptz] {
	pg := pgtype.Range[pgtype.Timestamptz]{
		Lower:     pgtype.Timestamptz{Time: r.Lower, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}
	if r.Upper != nil {
		pg.Upper = pgtype.Timestamptz{Time: *r.Upper, Valid: true}
		pg.UpperType = pgtype.Exclusive
	}
	return pg
}

// TimeRangeFromPG converts a scanned tstzrange back into a TimeRange.
func TimeRangeFromPG(pg pgtype.Range[pgtype.Timestamptz]) TimeRange {
	r := TimeRange{Lower: pg.Lower.Time.UTC()}
	if pg.UpperType != pgtype.Unbounded && pg.Upper.Valid {
		u := pg.Upper.Time.UTC()
		r.Upper = &u
	}
	return r
}

// TickRange is a half-open [Lower, Upper) interval over clock ticks. A
// nil Upper means the interval is unbounded above.
type TickRange struct {
	Lower int32
	Upper *int32
}

// OpenTickRange returns a range starting at lower with no upper bound.
func OpenTickRange(lower int32) TickRange {
	return TickRange{Lower: lower}
}

// IsOpen reports whether the range is unbounded above.
func (r TickRange) IsOpen() bool {
	return r.Upper == nil
}

// Close returns a copy of the range capped at upper.
func (r TickRange) Close(upper int32) TickRange {
	u := upper
	return TickRange{Lower: r.Lower, Upper: &u}
}

// Contains reports whether tick falls inside the range.
func (r TickRange) Contains(tick int32) bool {
	if tick < r.Lower {
		return false
	}
	return r.Upper == nil || tick < *r.Upper
}

// Overlaps reports whether two ranges share any tick.
func (r TickRange) Overlaps(o TickRange) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	lowerBelowUpper := o.Upper == nil || r.Lower < *o.Upper
	upperAboveLower := r.Upper == nil || o.Lower < *r.Upper
	return lowerBelowUpper && upperAboveLower
}

// IsEmpty reports whether the range contains no ticks.
func (r TickRange) IsEmpty() bool {
	return r.Upper != nil && r.Lower >= *r.Upper
}

func (r TickRange) String() string {
	if r.Upper == nil {
		return fmt.Sprintf("[%d,)", r.Lower)
	}
	return fmt.Sprintf("[%d,%d)", r.Lower, *r.Upper)
}

// PG converts the range into the pgtype representation used when binding
// int4range parameters.
func (r TickRange) PG() pgtype.Range[pgtype.Int4] {
	pg := pgtype.Range[pgtype.Int4]{
		Lower:     pgtype.Int4{Int32: r.Lower, Valid: true},
		LowerType: pgtype.Inclusive,
		UpperType: pgtype.Unbounded,
		Valid:     true,
	}
	if r.Upper != nil {
		pg.Upper = pgtype.Int4{Int32: *r.Upper, Valid: true}
		pg.UpperType = pgtype.Exclusive
	}
	return pg
}

// TickRangeFromPG converts a scanned int4range back into a TickRange.
func TickRangeFromPG(pg pgtype.Range[pgtype.Int4]) TickRange {
	r := TickRange{Lower: pg.Lower.Int32}
	if pg.UpperType != pgtype.Unbounded && pg.Upper.Valid {
		u := pg.Upper.Int32
		r.Upper = &u
	}
	return r
}
