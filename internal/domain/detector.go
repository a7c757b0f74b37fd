package domain

// ChangedValue consults an entity's pending change record for one
// tracked attribute. It returns the new value and true only when the
// pending write differs from the last flushed value, so an attribute
// set back to its flushed value within the same batch reads as
// unchanged.
func ChangedValue(e *Entity, attr string) (any, bool) {
	c, ok := e.pending[attr]
	if !ok {
		return nil, false
	}
	if e.persisted && equalValues(c.New, e.values[attr]) {
		return nil, false
	}
	return c.New, true
}

// TrackedChanges collects every tracked attribute with an effective
// pending change, plus whether the entity's vclock is still at its last
// flushed value. The caller uses the second result for strict-mode
// consistency checks.
func TrackedChanges(e *Entity) (map[string]any, bool) {
	changes := make(map[string]any)
	for _, col := range e.mapping.TrackedColumns() {
		if value, ok := ChangedValue(e, col.Name); ok {
			changes[col.Name] = value
		}
	}
	return changes, e.VClockUnchanged()
}
