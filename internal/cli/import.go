package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/hanfu/internal/jsonfile"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored user states with a JSON states file",
		Long: "Read a user-states file in any known schema version, upgrade it in\n" +
			"memory, and make it the complete content of the configured store. The\n" +
			"input file is not modified.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			path := args[0]
			snap, res, err := jsonfile.Read(path)
			if err != nil {
				return userError("import: %w", err)
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			if err := s.Replace(snap); err != nil {
				return sysError("import: %w", err)
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"file":    path,
					"result":  res.String(),
					"version": snap.Version,
					"records": len(snap.States),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d user states from %s (%s)\n", len(snap.States), path, res)
			return nil
		},
	}
}
