package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return sysError("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// parseChatID parses a decimal chat id argument. Group chats have negative
// ids.
func parseChatID(arg string) (types.ChatID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, userError("invalid chat id %q: want a decimal integer", arg)
	}
	return types.ChatID(id), nil
}

// settingsView is the JSON shape of one chat's settings.
type settingsView struct {
	ChatID types.ChatID `json:"chat_id"`
	types.UserSettings
}

func printSettings(w io.Writer, id types.ChatID, s types.UserSettings) {
	fmt.Fprintf(w, "Chat:            %d\n", id)
	fmt.Fprintf(w, "Language:        %s\n", s.LanguageKey)
	fmt.Fprintf(w, "Kiriage mangan:  %t\n", s.ScoringSettings.UseKiriageMangan)
	fmt.Fprintf(w, "Honba:           %t\n", s.ScoringSettings.UseHonba)
	fmt.Fprintf(w, "Kazoe yakuman:   %t\n", s.ScoringSettings.UseKazoeYakuman)
}
