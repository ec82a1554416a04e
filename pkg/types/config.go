package types

import (
	"errors"
	"path/filepath"
	"strings"
)

// Config holds backend selection and parameters for opening a store.
type Config struct {
	Backend    string `json:"backend" yaml:"backend"`
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	StatesFile string `json:"states_file,omitempty" yaml:"states_file,omitempty"`
}

// Supported backend names.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// DefaultStatesFile is the file name used by the JSON backend when
// Config.StatesFile is empty.
const DefaultStatesFile = "user_states.json"

// Config validation errors.
var (
	ErrBackendEmpty      = errors.New("backend must not be empty")
	ErrBackendUnknown    = errors.New("unknown backend")
	ErrStatesFileInvalid = errors.New("states file must be a bare file name")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendJSON:   true,
	BackendSQLite: true,
	BackendBadger: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.StatesFile != "" && strings.ContainsAny(c.StatesFile, `/\`) {
		return ErrStatesFileInvalid
	}
	return nil
}

// Dir returns the data directory, defaulting to the working directory.
func (c Config) Dir() string {
	if c.DataDir == "" {
		return "."
	}
	return c.DataDir
}

// StatesPath returns the path of the JSON states file inside the data
// directory.
func (c Config) StatesPath() string {
	name := c.StatesFile
	if name == "" {
		name = DefaultStatesFile
	}
	return filepath.Join(c.Dir(), name)
}
