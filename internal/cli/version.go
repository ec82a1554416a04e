package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/hanfu/internal/userstates"
)

// Version is the hanfu release, set at build time with
// -ldflags "-X github.com/mesh-intelligence/hanfu/internal/cli.Version=...".
var Version = "dev"

const modulePath = "github.com/mesh-intelligence/hanfu"

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hanfu version and user-state schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": Version,
					"module":  modulePath,
					"schema":  userstates.LatestVersion,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hanfu %s\nmodule: %s\nschema: %s\n", Version, modulePath, userstates.LatestVersion)
			return nil
		},
	}
}
