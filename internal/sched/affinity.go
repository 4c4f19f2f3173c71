package sched

import (
	"github.com/google/uuid"
)

// Affinity identifies an external object that must only be touched
// from one worker thread. The dispatcher only compares affinities,
// it never dereferences what they stand for.
// The zero value means no affinity.
type Affinity struct {
	id    uuid.UUID
	label string
}

// NewAffinity returns a new, unique affinity.
// The label is only used for diagnostics.
func NewAffinity(label string) Affinity {
	return Affinity{
		id:    uuid.New(),
		label: label,
	}
}

// IsZero states whether the affinity is empty.
func (a Affinity) IsZero() bool {
	return a.id == uuid.Nil
}

// Equal states whether two affinities identify the same object.
func (a Affinity) Equal(other Affinity) bool {
	return a.id == other.id
}

// String returns the label of the affinity followed by its identity.
func (a Affinity) String() string {
	if a.IsZero() {
		return "none"
	}

	return a.label + "/" + a.id.String()
}
