package storage

import (
	"io"
	"sort"

	deadlock "github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/luoyjx/lwwset/clock"
	"github.com/luoyjx/lwwset/lww"
	"github.com/luoyjx/lwwset/snapshot"
)

// Config holds store configuration
type Config struct {
	ReplicaID string
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Store is a keyspace of LWW element sets belonging to one replica. It is the
// lock that serialises access to every set it holds.
type Store struct {
	mu        deadlock.RWMutex
	sets      map[string]*lww.ElementSet[string]
	replicaID string
	clock     clock.Clock
	logger    *zap.Logger
}

// NewStore creates an empty store. Missing fields get a random replica ID, a
// hybrid clock and a no-op logger.
func NewStore(cfg Config) *Store {
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = lww.NewReplicaID()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewHybrid()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Store{
		sets:      make(map[string]*lww.ElementSet[string]),
		replicaID: cfg.ReplicaID,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With(zap.String("replica", cfg.ReplicaID)),
	}
}

// ReplicaID returns the ID shared by every set in the store.
func (s *Store) ReplicaID() string {
	return s.replicaID
}

// getOrCreate must be called with the write lock held.
func (s *Store) getOrCreate(key string) *lww.ElementSet[string] {
	set, ok := s.sets[key]
	if !ok {
		set = lww.New[string](s.replicaID, lww.WithClock(s.clock))
		s.sets[key] = set
		s.logger.Debug("created set", zap.String("key", key))
	}
	return set
}

// SAdd adds members to the set at key and returns how many were not present.
func (s *Store) SAdd(key string, members ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.getOrCreate(key)
	var added int64
	for _, member := range members {
		if !set.Query(member) {
			added++
		}
		set.Add(member)
	}
	return added
}

// SRem records removals of members from the set at key and returns how many
// were present. Removing from a missing key still records the removals.
func (s *Store) SRem(key string, members ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.getOrCreate(key)
	var removed int64
	for _, member := range members {
		if set.Query(member) {
			removed++
		}
		set.Remove(member)
	}
	return removed
}

// SIsMember reports whether member is present in the set at key.
func (s *Store) SIsMember(key, member string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[key]
	return ok && set.Query(member)
}

// SMembers returns the sorted members of the set at key.
func (s *Store) SMembers(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[key]
	if !ok {
		return []string{}
	}
	return set.Members()
}

// SCard returns the number of members of the set at key.
func (s *Store) SCard(key string) int64 {
	return int64(len(s.SMembers(key)))
}

// Keys returns every key that holds a set, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sets))
	for key := range s.sets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Exists counts how many of keys hold a set.
func (s *Store) Exists(keys ...string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, key := range keys {
		if _, ok := s.sets[key]; ok {
			n++
		}
	}
	return n
}

// Snapshot copies the logs of the set at key.
func (s *Store) Snapshot(key string) (*snapshot.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[key]
	if !ok {
		return nil, false
	}
	return snapshot.FromSet(set), true
}

// MergeSnapshot merges a peer's snapshot into the set at key, creating the set
// if needed.
func (s *Store) MergeSnapshot(key string, snap *snapshot.Snapshot) {
	peer := snap.ToSet()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.getOrCreate(key).Merge(peer)
	s.logger.Debug("merged snapshot",
		zap.String("key", key),
		zap.String("peer", snap.ReplicaID),
		zap.Int("added", len(snap.Added)),
		zap.Int("removed", len(snap.Removed)),
	)
}

// Compare reports whether the set at key and snap hold identical logs. A
// missing key compares as an empty set.
func (s *Store) Compare(key string, snap *snapshot.Snapshot) bool {
	peer := snap.ToSet()

	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[key]
	if !ok {
		set = lww.New[string](s.replicaID, lww.WithClock(s.clock))
	}
	return set.Compare(peer) && peer.Compare(set)
}

// Display writes the debug dump of the set at key. It returns false if the key
// does not exist.
func (s *Store) Display(w io.Writer, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	return true, set.Display(w)
}
