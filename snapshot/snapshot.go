package snapshot

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/luoyjx/lwwset/clock"
	"github.com/luoyjx/lwwset/lww"
)

// Entry is one element of a log together with its timestamp.
type Entry struct {
	Element   string `json:"element"`
	Timestamp int64  `json:"timestamp"`
}

// jsonEntry carries elements that are not valid UTF-8 as base64 so that the
// JSON form is as binary-safe as the protobuf one.
type jsonEntry struct {
	Element       string `json:"element,omitempty"`
	ElementBase64 []byte `json:"element_base64,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	je := jsonEntry{Timestamp: e.Timestamp}
	if utf8.ValidString(e.Element) {
		je.Element = e.Element
	} else {
		je.ElementBase64 = []byte(e.Element)
	}
	return json.Marshal(je)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var je jsonEntry
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	e.Element = je.Element
	if je.ElementBase64 != nil {
		e.Element = string(je.ElementBase64)
	}
	e.Timestamp = je.Timestamp
	return nil
}

// Snapshot is a self-contained copy of a replica's add and remove logs. It is
// what one replica hands to another to be merged.
type Snapshot struct {
	ReplicaID string  `json:"replica_id"`
	Added     []Entry `json:"added"`
	Removed   []Entry `json:"removed"`
}

// FromSet copies the logs of s. Entries are ordered by element.
func FromSet(s *lww.ElementSet[string]) *Snapshot {
	return &Snapshot{
		ReplicaID: s.ID(),
		Added:     fromLog(s.Added()),
		Removed:   fromLog(s.Removed()),
	}
}

// ToSet builds a fresh set holding the snapshot's logs. Duplicate elements
// keep the latest timestamp.
func (s *Snapshot) ToSet(opts ...lww.Option) *lww.ElementSet[string] {
	return lww.FromLogs(s.ReplicaID, toLog(s.Added), toLog(s.Removed), opts...)
}

func fromLog(l *lww.TimestampedLog[string]) []Entry {
	entries := l.Entries()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Element: e.Element, Timestamp: int64(e.Timestamp)})
	}
	return out
}

func toLog(entries []Entry) *lww.TimestampedLog[string] {
	l := lww.NewTimestampedLog[string]()
	for _, e := range entries {
		ts := clock.Timestamp(e.Timestamp)
		if existing, ok := l.Lookup(e.Element); ok && existing >= ts {
			continue
		}
		l.Upsert(e.Element, ts)
	}
	return l
}
