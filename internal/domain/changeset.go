package domain

// Changeset accumulates the tracked-attribute diffs observed for each
// entity across the flushes of one transaction scope. Used only in
// deferred persistence mode; merged diffs collapse to the net change.
type Changeset map[*Entity]map[string]any

// Merge folds one entity's new diffs into the changeset, later values
// overwriting earlier ones.
func (c Changeset) Merge(e *Entity, changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	existing, ok := c[e]
	if !ok {
		existing = make(map[string]any, len(changes))
		c[e] = existing
	}
	for attr, value := range changes {
		existing[attr] = value
	}
}

// MergeAll folds another changeset into this one. Used when an inner
// transaction scope commits into its parent.
func (c Changeset) MergeAll(other Changeset) {
	for e, changes := range other {
		c.Merge(e, changes)
	}
}
