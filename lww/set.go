package lww

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/luoyjx/lwwset/clock"
)

// ElementSet is a Last-Writer-Wins element set replica.
type ElementSet[E comparable] struct {
	id      string
	clock   clock.Clock
	added   *TimestampedLog[E]
	removed *TimestampedLog[E]
}

type options struct {
	clock clock.Clock
}

// Option configures a new ElementSet.
type Option func(*options)

// WithClock sets the clock used to stamp local adds and removes.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewReplicaID returns a random identifier suitable for New.
func NewReplicaID() string {
	return uuid.NewString()
}

// New creates an empty set. The replica ID is kept for identification only.
// Without WithClock the set uses its own hybrid wall clock.
func New[E comparable](replicaID string, opts ...Option) *ElementSet[E] {
	return FromLogs(replicaID, NewTimestampedLog[E](), NewTimestampedLog[E](), opts...)
}

// FromLogs creates a set that takes ownership of the given logs.
func FromLogs[E comparable](replicaID string, added, removed *TimestampedLog[E], opts ...Option) *ElementSet[E] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.NewHybrid()
	}
	if added == nil {
		added = NewTimestampedLog[E]()
	}
	if removed == nil {
		removed = NewTimestampedLog[E]()
	}

	return &ElementSet[E]{
		id:      replicaID,
		clock:   o.clock,
		added:   added,
		removed: removed,
	}
}

// ID returns the replica ID given at construction.
func (s *ElementSet[E]) ID() string {
	return s.id
}

// Added returns the add log. Callers must not modify it.
func (s *ElementSet[E]) Added() *TimestampedLog[E] {
	return s.added
}

// Removed returns the remove log. Callers must not modify it.
func (s *ElementSet[E]) Removed() *TimestampedLog[E] {
	return s.removed
}

// Add records element in the add log at the current clock reading.
func (s *ElementSet[E]) Add(element E) {
	s.added.Upsert(element, s.clock.Now())
}

// Remove records element in the remove log at the current clock reading.
// The element does not need to be present.
func (s *ElementSet[E]) Remove(element E) {
	s.removed.Upsert(element, s.clock.Now())
}

// Query reports whether element is present: it has an add entry and either no
// remove entry or a remove entry strictly older than the add.
func (s *ElementSet[E]) Query(element E) bool {
	addedAt, ok := s.added.Lookup(element)
	if !ok {
		return false
	}

	removedAt, ok := s.removed.Lookup(element)
	return !ok || removedAt < addedAt
}

// Compare reports whether both of s's logs are contained in other's. The check
// is one-directional.
func (s *ElementSet[E]) Compare(other *ElementSet[E]) bool {
	if other == nil {
		return s.added.Len() == 0 && s.removed.Len() == 0
	}
	return s.added.Equals(other.added) && s.removed.Equals(other.removed)
}

// Merge folds other's logs into s and returns s. other is left untouched.
func (s *ElementSet[E]) Merge(other *ElementSet[E]) *ElementSet[E] {
	if other == nil || other == s {
		return s
	}

	s.added.Merge(other.added)
	s.removed.Merge(other.removed)

	if o, ok := s.clock.(clock.Observer); ok {
		latest := other.added.Max()
		if r := other.removed.Max(); r > latest {
			latest = r
		}
		o.Observe(latest)
	}
	return s
}

// Members returns the present elements in the order of Entries.
func (s *ElementSet[E]) Members() []E {
	members := make([]E, 0, s.added.Len())
	for _, e := range s.added.Entries() {
		if s.Query(e.Element) {
			members = append(members, e.Element)
		}
	}
	return members
}

// Display dumps both logs for debugging.
func (s *ElementSet[E]) Display(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "replica %s\n", s.id); err != nil {
		return err
	}
	if err := s.added.Display(w, "added"); err != nil {
		return err
	}
	return s.removed.Display(w, "removed")
}
