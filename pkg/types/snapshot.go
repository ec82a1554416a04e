package types

// Snapshot is the whole store at one point in time: the schema version of the
// persisted document and one record per chat.
type Snapshot struct {
	Version string
	States  map[ChatID]*UserState
}

// NewSnapshot returns an empty snapshot tagged with version.
func NewSnapshot(version string) *Snapshot {
	return &Snapshot{
		Version: version,
		States:  make(map[ChatID]*UserState),
	}
}

// Put stores a persisted copy of state under id, replacing any previous record.
func (s *Snapshot) Put(id ChatID, state UserState) {
	if s.States == nil {
		s.States = make(map[ChatID]*UserState)
	}
	p := state.Persisted()
	s.States[id] = &p
}
