package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/hanfu/pkg/types"
)

var errUnknownSetting = errors.New("unknown setting")

// settingSetters maps setting names, short and as stored, to their setters.
var settingSetters = map[string]func(s *types.UserSettings, value string) error{
	"kiriage":            setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseKiriageMangan }),
	"use_kiriage_mangan": setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseKiriageMangan }),
	"honba":              setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseHonba }),
	"use_honba":          setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseHonba }),
	"kazoe":              setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseKazoeYakuman }),
	"use_kazoe_yakuman":  setBool(func(s *types.UserSettings) *bool { return &s.ScoringSettings.UseKazoeYakuman }),
	"language":           setLanguage,
	"language_key":       setLanguage,
}

func setBool(field func(s *types.UserSettings) *bool) func(*types.UserSettings, string) error {
	return func(s *types.UserSettings, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%q is not a boolean", value)
		}
		*field(s) = b
		return nil
	}
}

func setLanguage(s *types.UserSettings, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("language must not be empty")
	}
	s.LanguageKey = value
	return nil
}

// applySetting sets the setting called name to value.
func applySetting(s *types.UserSettings, name, value string) error {
	set, ok := settingSetters[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w %q (valid: %s)", errUnknownSetting, name, strings.Join(settingNames(), ", "))
	}
	return set(s, value)
}

func settingNames() []string {
	names := make([]string, 0, len(settingSetters))
	for name := range settingSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <chat-id> <setting> <value>",
		Short: "Change one setting of a chat and save it",
		Long: "Change one setting of a chat, creating the chat with default settings\n" +
			"if it is not stored yet. Settings: kiriage, honba, kazoe (booleans) and\n" +
			"language.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			// Validate before opening the store so a typo changes nothing.
			trial := types.DefaultSettings()
			if err := applySetting(&trial, args[1], args[2]); err != nil {
				return userError("set: %w", err)
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			var settings types.UserSettings
			var applyErr error
			s.GetOrCreate(id).Update(func(st *types.UserState) {
				next := st.Settings
				if applyErr = applySetting(&next, args[1], args[2]); applyErr != nil {
					return
				}
				st.Settings = next
				st.Unsaved = true
				settings = next
			})
			if applyErr != nil {
				return userError("set: %w", applyErr)
			}
			if _, err := s.SaveIfDirty(id); err != nil {
				return sysError("save chat %d: %w", id, err)
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), settingsView{ChatID: id, UserSettings: settings})
			}
			printSettings(cmd.OutOrStdout(), id, settings)
			return nil
		},
	}
}
