package cli

import (
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// yamlExport is the YAML rendering of a snapshot.
type yamlExport struct {
	Version string                        `yaml:"version"`
	States  map[string]types.UserSettings `yaml:"states"`
}

func newExportCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored user state to stdout",
		Long: "Write every stored user state to stdout in the JSON file layout, which\n" +
			"the json backend and the import command read back. --yaml writes the\n" +
			"same content as YAML for reading.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore(s, &err)

			snap := s.Snapshot()
			if asYAML {
				out := yamlExport{Version: snap.Version, States: make(map[string]types.UserSettings, len(snap.States))}
				for id, st := range snap.States {
					out.States[strconv.FormatInt(int64(id), 10)] = st.Settings
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(out); err != nil {
					return sysError("encode YAML: %w", err)
				}
				return enc.Close()
			}

			data, err := userstates.Encode(snap)
			if err != nil {
				return sysError("encode: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "write YAML instead of JSON")
	return cmd
}
