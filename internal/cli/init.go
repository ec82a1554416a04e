package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create config.yaml and an empty user-state store",
		Long: "Create the configuration directory with a default config.yaml and\n" +
			"initialize the configured backend. Existing files are kept.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config":   filepath.Join(a.configDir, configFileExt),
					"backend":  a.cfg.Backend,
					"data_dir": a.cfg.Dir(),
					"version":  s.Version(),
					"records":  s.Len(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hanfu initialized: backend %s in %s (%d user states, schema %s)\n",
				a.cfg.Backend, a.cfg.Dir(), s.Len(), s.Version())
			return nil
		},
	}
}
