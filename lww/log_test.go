package lww

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoyjx/lwwset/clock"
)

func logOf(entries map[string]clock.Timestamp) *TimestampedLog[string] {
	l := NewTimestampedLog[string]()
	for e, ts := range entries {
		l.Upsert(e, ts)
	}
	return l
}

func TestTimestampedLogUpsert(t *testing.T) {
	t.Run("inserts a missing element", func(t *testing.T) {
		l := NewTimestampedLog[string]()
		l.Upsert("a", 3)

		ts, ok := l.Lookup("a")
		require.True(t, ok)
		assert.Equal(t, clock.Timestamp(3), ts)
		assert.Equal(t, 1, l.Len())
	})

	t.Run("overwrites even with an older timestamp", func(t *testing.T) {
		l := NewTimestampedLog[string]()
		l.Upsert("a", 10).Upsert("a", 4)

		ts, ok := l.Lookup("a")
		require.True(t, ok)
		assert.Equal(t, clock.Timestamp(4), ts)
		assert.Equal(t, 1, l.Len())
	})

	t.Run("lookup of unknown element", func(t *testing.T) {
		_, ok := NewTimestampedLog[int]().Lookup(7)
		assert.False(t, ok)
	})
}

func TestTimestampedLogEquals(t *testing.T) {
	small := logOf(map[string]clock.Timestamp{"a": 1})
	big := logOf(map[string]clock.Timestamp{"a": 1, "b": 2})

	assert.True(t, small.Equals(big))
	assert.False(t, big.Equals(small), "equals is a subset check")
	assert.True(t, big.Equals(big.Clone()))

	stale := logOf(map[string]clock.Timestamp{"a": 2})
	assert.False(t, small.Equals(stale), "timestamps must match")

	assert.True(t, NewTimestampedLog[string]().Equals(small))
	assert.True(t, NewTimestampedLog[string]().Equals(nil))
	assert.False(t, small.Equals(nil))
}

func TestTimestampedLogMerge(t *testing.T) {
	t.Run("keeps the later timestamp per element", func(t *testing.T) {
		a := logOf(map[string]clock.Timestamp{"x": 5, "y": 1})
		b := logOf(map[string]clock.Timestamp{"x": 3, "y": 9, "z": 2})

		got := a.Merge(b)
		require.Same(t, a, got)

		assert.Equal(t, []Entry[string]{
			{Element: "x", Timestamp: 5},
			{Element: "y", Timestamp: 9},
			{Element: "z", Timestamp: 2},
		}, a.Entries())

		assert.Equal(t, []Entry[string]{
			{Element: "x", Timestamp: 3},
			{Element: "y", Timestamp: 9},
			{Element: "z", Timestamp: 2},
		}, b.Entries(), "the merged-in log is not modified")
	})

	t.Run("is idempotent", func(t *testing.T) {
		a := logOf(map[string]clock.Timestamp{"x": 5, "y": 1})
		before := a.Clone()

		a.Merge(a)
		a.Merge(before)

		assert.True(t, a.Equals(before))
		assert.True(t, before.Equals(a))
	})

	t.Run("is commutative", func(t *testing.T) {
		a := logOf(map[string]clock.Timestamp{"x": 5, "y": 1})
		b := logOf(map[string]clock.Timestamp{"x": 3, "y": 9, "z": 2})

		ab := a.Clone().Merge(b)
		ba := b.Clone().Merge(a)

		assert.True(t, ab.Equals(ba))
		assert.True(t, ba.Equals(ab))
	})

	t.Run("is associative", func(t *testing.T) {
		a := logOf(map[string]clock.Timestamp{"x": 5})
		b := logOf(map[string]clock.Timestamp{"x": 7, "y": 1})
		c := logOf(map[string]clock.Timestamp{"y": 4, "z": 2})

		left := a.Clone().Merge(b).Merge(c)
		right := a.Clone().Merge(b.Clone().Merge(c))

		assert.Equal(t, left.Entries(), right.Entries())
	})

	t.Run("empty and nil logs are no-ops", func(t *testing.T) {
		a := logOf(map[string]clock.Timestamp{"x": 5})
		a.Merge(NewTimestampedLog[string]()).Merge(nil)
		assert.Equal(t, []Entry[string]{{Element: "x", Timestamp: 5}}, a.Entries())
	})
}

func TestTimestampedLogMax(t *testing.T) {
	assert.Equal(t, clock.Timestamp(0), NewTimestampedLog[string]().Max())
	assert.Equal(t, clock.Timestamp(9), logOf(map[string]clock.Timestamp{"a": 4, "b": 9, "c": 1}).Max())
}

func TestTimestampedLogDisplay(t *testing.T) {
	l := logOf(map[string]clock.Timestamp{"b": 2, "a": 1})

	var buf bytes.Buffer
	require.NoError(t, l.Display(&buf, "added"))
	assert.Equal(t, "added: a:1, b:2\n", buf.String())

	buf.Reset()
	require.NoError(t, NewTimestampedLog[string]().Display(&buf, "removed"))
	assert.Equal(t, "removed: \n", buf.String())
}
