package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/hanfu/internal/store"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the schema upgrades applied to the store",
		Long:  "List the migration log kept by the sqlite and badger backends.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			log, err := s.MigrationLog()
			if errors.Is(err, store.ErrNoMigrationLog) {
				return userError("the %s backend keeps no migration log", a.cfg.Backend)
			}
			if err != nil {
				return sysError("read migration log: %w", err)
			}

			if a.flags.jsonMode {
				if log == nil {
					log = []types.MigrationRecord{}
				}
				return printJSON(cmd.OutOrStdout(), log)
			}
			if len(log) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no upgrades recorded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "APPLIED\tFROM\tTO\tRECORDS\tID")
			for _, rec := range log {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					rec.AppliedAt.Format(time.RFC3339), rec.FromVersion, rec.ToVersion, rec.Records, rec.ID)
			}
			return tw.Flush()
		},
	}
}
