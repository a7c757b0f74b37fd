package domain

import (
	"github.com/google/uuid"

	"github.com/rpattn/temporal/internal/interval"
)

// HistoryRecord captures one contiguous interval during which a tracked
// attribute held a fixed value. Exactly one record per (entity,
// attribute) chain has open-ended ranges at any time.
type HistoryRecord struct {
	ID        uuid.UUID
	Entity    Identity
	Attribute string
	Value     any
	Effective interval.TimeRange
	VClock    interval.TickRange
}

// Open reports whether the record is the chain's current interval.
func (r HistoryRecord) Open() bool {
	return r.Effective.IsOpen() && r.VClock.IsOpen()
}
