// Package statemap holds the in-memory user states, one Entry per chat.
//
// The map is split into shards so lookups of unrelated chats do not contend
// on one lock, and each Entry carries its own mutex so a handler mutating one
// chat's state never blocks another chat. Shard locks are held only for the
// map lookup or insertion itself.
package statemap

import (
	"sync"

	"github.com/mesh-intelligence/hanfu/pkg/types"
)

const shardCount = 32

// Entry is one chat's state behind its own lock.
type Entry struct {
	mu    sync.Mutex
	state types.UserState
}

// Update runs fn with exclusive access to the state. fn must not block on
// I/O or call back into the Map for the same id.
func (e *Entry) Update(fn func(state *types.UserState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
}

// Snapshot returns a copy of the state.
func (e *Entry) Snapshot() types.UserState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyState(e.state)
}

func copyState(s types.UserState) types.UserState {
	if s.Hand != nil {
		h := *s.Hand
		s.Hand = &h
	}
	return s
}

type shard struct {
	mu      sync.RWMutex
	entries map[types.ChatID]*Entry
}

// Map is a concurrent map from chat id to Entry. The zero value is not
// usable; create one with New or FromSnapshot.
type Map struct {
	shards [shardCount]shard

	// newDefault builds the state of a chat seen for the first time. It must
	// be free of side effects: racing callers may each build one and all but
	// one result are dropped.
	newDefault func() types.UserState
}

// New returns an empty Map.
func New() *Map {
	m := &Map{newDefault: types.DefaultUserState}
	for i := range m.shards {
		m.shards[i].entries = make(map[types.ChatID]*Entry)
	}
	return m
}

// FromSnapshot returns a Map holding every record of snap.
func FromSnapshot(snap *types.Snapshot) *Map {
	m := New()
	for id, st := range snap.States {
		if st == nil {
			continue
		}
		m.Insert(id, *st)
	}
	return m
}

func (m *Map) shardFor(id types.ChatID) *shard {
	return &m.shards[uint64(id)%shardCount]
}

// Get returns the entry for id if it exists.
func (m *Map) Get(id types.ChatID) (*Entry, bool) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// GetOrInsertDefault returns the entry for id, inserting one with default
// state if id is unknown, and reports whether it inserted. Concurrent first
// accesses to the same id all receive the same entry and exactly one of them
// reports the insert.
func (m *Map) GetOrInsertDefault(id types.ChatID) (*Entry, bool) {
	if e, ok := m.Get(id); ok {
		return e, false
	}

	candidate := &Entry{state: m.newDefault()}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e, false
	}
	s.entries[id] = candidate
	return candidate, true
}

// Insert sets the state for id, replacing any existing entry's state.
func (m *Map) Insert(id types.ChatID, state types.UserState) {
	e, _ := m.GetOrInsertDefault(id)
	e.Update(func(s *types.UserState) { *s = state })
}

// Len returns the number of entries.
func (m *Map) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry until fn returns false. No shard lock is
// held while fn runs, so fn may lock the entry or insert into the Map;
// entries added during the call may or may not be visited.
func (m *Map) Range(fn func(id types.ChatID, e *Entry) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		ids := make([]types.ChatID, 0, len(s.entries))
		entries := make([]*Entry, 0, len(s.entries))
		for id, e := range s.entries {
			ids = append(ids, id)
			entries = append(entries, e)
		}
		s.mu.RUnlock()

		for j := range ids {
			if !fn(ids[j], entries[j]) {
				return
			}
		}
	}
}

// ToSnapshot copies the persisted part of every entry into a snapshot
// tagged with version.
func (m *Map) ToSnapshot(version string) *types.Snapshot {
	snap := types.NewSnapshot(version)
	m.Range(func(id types.ChatID, e *Entry) bool {
		snap.Put(id, e.Snapshot())
		return true
	})
	return snap
}
