package userstates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// ErrShapeMismatch reports an upgraded document whose shape does not match
// the typed snapshot: unknown or missing fields, wrong types, or a version
// other than LatestVersion.
var ErrShapeMismatch = errors.New("user states document does not match the current schema")

// statesFile is the on-disk layout at LatestVersion.
type statesFile struct {
	Version string                              `json:"version" validate:"required,semver"`
	States  map[types.ChatID]types.UserSettings `json:"states" validate:"required,dive"`
}

// storedFile mirrors statesFile for decoding. Pointer fields tell a missing
// value apart from false.
type storedFile struct {
	Version string                      `json:"version" validate:"required,semver"`
	States  map[types.ChatID]storedUser `json:"states" validate:"required,dive"`
}

type storedUser struct {
	ScoringSettings *storedScoring `json:"scoring_settings" validate:"required"`
	LanguageKey     string         `json:"language_key" validate:"required"`
}

type storedScoring struct {
	UseKiriageMangan *bool `json:"use_kiriage_mangan" validate:"required"`
	UseHonba         *bool `json:"use_honba" validate:"required"`
	UseKazoeYakuman  *bool `json:"use_kazoe_yakuman" validate:"required"`
}

func (u storedUser) settings() types.UserSettings {
	return types.UserSettings{
		ScoringSettings: types.ScoringSettings{
			UseKiriageMangan: *u.ScoringSettings.UseKiriageMangan,
			UseHonba:         *u.ScoringSettings.UseHonba,
			UseKazoeYakuman:  *u.ScoringSettings.UseKazoeYakuman,
		},
		LanguageKey: u.LanguageKey,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewSnapshot returns an empty snapshot at LatestVersion.
func NewSnapshot() *types.Snapshot {
	return types.NewSnapshot(LatestVersion)
}

// Decode converts an upgraded document into a snapshot. Unknown fields are
// rejected rather than dropped and every persisted field must be present, so
// a hand-edited file that claims the latest version but still has an old
// shape fails loudly. Every record gets default transient state.
func Decode(doc migrate.Document) (*types.Snapshot, error) {
	data, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f storedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if f.Version != LatestVersion {
		return nil, fmt.Errorf("%w: version %q, want %q", ErrShapeMismatch, f.Version, LatestVersion)
	}

	snap := types.NewSnapshot(f.Version)
	for id, rec := range f.States {
		st := types.DefaultUserState()
		st.Settings = rec.settings()
		snap.States[id] = &st
	}
	return snap, nil
}

// Load upgrades doc in place and decodes it. A decode failure after an
// upgrade is reported together with the fact that steps were applied.
func Load(doc migrate.Document) (*types.Snapshot, migrate.Result, error) {
	res, err := Upgrade(doc)
	if err != nil {
		return nil, res, err
	}
	snap, err := Decode(doc)
	if err != nil {
		if res == migrate.Updated {
			return nil, res, fmt.Errorf("decoding upgraded document: %w", err)
		}
		return nil, res, err
	}
	return snap, res, nil
}

// Encode renders snap in the on-disk layout. Transient fields are not part of
// the output.
func Encode(snap *types.Snapshot) ([]byte, error) {
	f := statesFile{
		Version: snap.Version,
		States:  make(map[types.ChatID]types.UserSettings, len(snap.States)),
	}
	for id, st := range snap.States {
		if st == nil {
			continue
		}
		f.States[id] = st.Settings
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding user states: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeSettings renders one record's persisted fields.
func EncodeSettings(settings types.UserSettings) ([]byte, error) {
	return json.Marshal(settings)
}

// KeyString returns the document key for id.
func KeyString(id types.ChatID) string {
	return strconv.FormatInt(int64(id), 10)
}
