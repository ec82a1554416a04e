// Package cli implements the hanfu command-line interface: maintenance
// commands for the stored user states of the hanfu bot.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/hanfu/internal/paths"
	"github.com/mesh-intelligence/hanfu/internal/store"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// userError reports bad input: arguments, flags, or an input file.
func userError(format string, args ...any) error {
	return &ExitError{Code: exitUserError, Err: fmt.Errorf(format, args...)}
}

// sysError reports a failure of the environment: unreadable config, or a
// store that cannot be opened or written.
func sysError(format string, args ...any) error {
	return &ExitError{Code: exitSysError, Err: fmt.Errorf(format, args...)}
}

// exitCode maps err to a process exit code. Errors without an ExitError,
// such as cobra's argument errors, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitUserError
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	backend   string
	jsonMode  bool
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags     rootFlags
	configDir string
	cfg       types.Config
	logger    *slog.Logger
}

// NewRootCmd creates the top-level "hanfu" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hanfu",
		Short: "Maintain the stored user states of the hanfu bot",
		Long: "hanfu initializes, upgrades, inspects, and edits the per-chat settings\n" +
			"the hanfu bot keeps in its JSON, SQLite, or Badger store.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	pf.StringVar(&a.flags.backend, "backend", "", "storage backend: json, sqlite, or badger")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(a),
		newInitCmd(a),
		newMigrateCmd(a),
		newShowCmd(a),
		newSetCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newHistoryCmd(a),
		newCheckCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hanfu:", err)
		os.Exit(exitCode(err))
	}
}

// setup resolves directories, reads config.yaml, and builds the logger and
// store config for the running command.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return sysError("load config: %w", err)
	}

	logger, err := newLogger(cmd.ErrOrStderr(), v.GetString(cfgKeyLogLevel), v.GetString(cfgKeyLogFormat))
	if err != nil {
		return userError("config %s: %w", configDir, err)
	}

	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return sysError("resolve data dir: %w", err)
	}

	backend := a.flags.backend
	if backend == "" {
		backend = v.GetString(cfgKeyBackend)
	}

	cfg := types.Config{
		Backend:    backend,
		DataDir:    dataDir,
		StatesFile: v.GetString(cfgKeyStatesFile),
	}
	if err := cfg.Validate(); err != nil {
		return userError("config: %w (backend %q)", err, backend)
	}

	a.configDir = configDir
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStore opens the configured store. Failures are system errors: the
// stored data is unreachable or cannot be trusted.
func (a *app) openStore() (*store.Store, error) {
	s, err := store.Open(a.cfg, a.logger)
	if err != nil {
		return nil, sysError("open %s store in %s: %w", a.cfg.Backend, a.cfg.Dir(), err)
	}
	return s, nil
}

// closeStore closes s, turning a close failure into the command's error
// unless the command already failed.
func closeStore(s *store.Store, err *error) {
	if cerr := s.Close(); cerr != nil && *err == nil {
		*err = sysError("close store: %w", cerr)
	}
}
