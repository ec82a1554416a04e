package cli

import (
	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Display the stored settings of one chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			e, ok := s.Get(id)
			if !ok {
				return userError("chat %d not found", id)
			}
			settings := e.Snapshot().Settings

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), settingsView{ChatID: id, UserSettings: settings})
			}
			printSettings(cmd.OutOrStdout(), id, settings)
			return nil
		},
	}
}
