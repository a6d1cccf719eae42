package lww

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/luoyjx/lwwset/clock"
)

// Entry is a single element of a TimestampedLog with its latest timestamp.
type Entry[E comparable] struct {
	Element   E
	Timestamp clock.Timestamp
}

// TimestampedLog maps every element it has seen to the latest timestamp at
// which it was recorded. Entries are never deleted.
type TimestampedLog[E comparable] struct {
	entries map[E]clock.Timestamp
}

// NewTimestampedLog creates an empty log.
func NewTimestampedLog[E comparable]() *TimestampedLog[E] {
	return &TimestampedLog[E]{
		entries: make(map[E]clock.Timestamp),
	}
}

// Upsert records element at now. An existing entry is overwritten even if now
// is not later than the stored timestamp: a local write always wins over what
// the replica knew before.
func (l *TimestampedLog[E]) Upsert(element E, now clock.Timestamp) *TimestampedLog[E] {
	l.entries[element] = now
	return l
}

// Lookup returns the timestamp recorded for element.
func (l *TimestampedLog[E]) Lookup(element E) (clock.Timestamp, bool) {
	ts, ok := l.entries[element]
	return ts, ok
}

// Len returns the number of distinct elements in the log.
func (l *TimestampedLog[E]) Len() int {
	return len(l.entries)
}

// Equals reports whether every entry of l is present in other with the same
// timestamp. It is a subset check; call it both ways for full equality.
func (l *TimestampedLog[E]) Equals(other *TimestampedLog[E]) bool {
	if other == nil {
		return len(l.entries) == 0
	}

	for element, ts := range l.entries {
		if otherTS, ok := other.entries[element]; !ok || otherTS != ts {
			return false
		}
	}
	return true
}

// Merge folds other into l keeping, per element, the larger timestamp. Ties
// keep l's value. other is not modified.
func (l *TimestampedLog[E]) Merge(other *TimestampedLog[E]) *TimestampedLog[E] {
	if other == nil || other == l {
		return l
	}

	for element, otherTS := range other.entries {
		if ts, ok := l.entries[element]; !ok || ts < otherTS {
			l.entries[element] = otherTS
		}
	}
	return l
}

// Max returns the largest timestamp in the log, or zero for an empty log.
func (l *TimestampedLog[E]) Max() clock.Timestamp {
	var latest clock.Timestamp
	for _, ts := range l.entries {
		if ts > latest {
			latest = ts
		}
	}
	return latest
}

// Clone returns an independent copy of l.
func (l *TimestampedLog[E]) Clone() *TimestampedLog[E] {
	c := &TimestampedLog[E]{
		entries: make(map[E]clock.Timestamp, len(l.entries)),
	}
	for element, ts := range l.entries {
		c.entries[element] = ts
	}
	return c
}

// Entries returns the log's entries in element order: numeric and string
// kinds compare by value, anything else by its printed form.
func (l *TimestampedLog[E]) Entries() []Entry[E] {
	entries := make([]Entry[E], 0, len(l.entries))
	for element, ts := range l.entries {
		entries = append(entries, Entry[E]{Element: element, Timestamp: ts})
	}

	sort.Slice(entries, func(i, j int) bool {
		return less(entries[i].Element, entries[j].Element)
	})
	return entries
}

func less[E comparable](a, b E) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsValid() && vb.IsValid() && va.Kind() == vb.Kind() {
		switch va.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return va.Int() < vb.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return va.Uint() < vb.Uint()
		case reflect.Float32, reflect.Float64:
			return va.Float() < vb.Float()
		case reflect.String:
			return va.String() < vb.String()
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// Display writes "name: element:timestamp, ..." followed by a newline.
func (l *TimestampedLog[E]) Display(w io.Writer, name string) error {
	entries := l.Entries()
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%v:%d", e.Element, e.Timestamp))
	}

	_, err := fmt.Fprintf(w, "%s: %s\n", name, strings.Join(parts, ", "))
	return err
}
