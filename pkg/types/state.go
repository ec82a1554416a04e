package types

// ChatID identifies the chat a UserState belongs to. It is compared for
// equality only; JSON object keys carry its decimal form.
type ChatID int64

// ScoringSettings selects the optional scoring rules a user trains with.
type ScoringSettings struct {
	UseKiriageMangan bool `json:"use_kiriage_mangan" yaml:"use_kiriage_mangan"`
	UseHonba         bool `json:"use_honba" yaml:"use_honba"`
	UseKazoeYakuman  bool `json:"use_kazoe_yakuman" yaml:"use_kazoe_yakuman"`
}

// UserSettings is the persisted part of a UserState.
type UserSettings struct {
	ScoringSettings ScoringSettings `json:"scoring_settings" yaml:"scoring_settings"`
	LanguageKey     string          `json:"language_key" yaml:"language_key" validate:"required"`
}

// HandScore is the hand a user is currently asked to score. It is produced
// and checked by the scoring collaborator; the store only carries it.
type HandScore struct {
	Han      uint8
	Fu       uint8
	Honba    uint8
	Ron      bool
	IsDealer bool
}

// UserState is the per-chat record. Settings are persisted; Hand and Unsaved
// live only in memory and are reset to their defaults on every load.
type UserState struct {
	Settings UserSettings

	// Hand is the in-progress hand, nil when no game is running.
	Hand *HandScore

	// Unsaved marks Settings as changed since the last successful save.
	Unsaved bool
}

// DefaultSettings returns the settings given to a chat seen for the first time.
func DefaultSettings() UserSettings {
	return UserSettings{
		ScoringSettings: ScoringSettings{
			UseKiriageMangan: false,
			UseHonba:         false,
			UseKazoeYakuman:  true,
		},
		LanguageKey: "en",
	}
}

// DefaultUserState returns a fresh record with default settings and no
// transient state. It has no side effects and may be called concurrently.
func DefaultUserState() UserState {
	return UserState{Settings: DefaultSettings()}
}

// Persisted returns a copy of s with transient fields cleared.
func (s UserState) Persisted() UserState {
	return UserState{Settings: s.Settings}
}
