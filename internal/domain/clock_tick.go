package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClockTick is one row of an entity's clock log: a tick number, the
// server-assigned capture timestamp, and optionally the activity that
// caused the change. Tick rows are never mutated or deleted.
type ClockTick struct {
	ID        uuid.UUID
	Tick      int32
	Timestamp time.Time // server-assigned, zero until flushed
	Activity  Activity
}
