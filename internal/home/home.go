// Package home manages the faasd home directory layout.
//
// The home directory owns all persistent, non-function-owned state: the
// default functions directory, rotated logs, the management unix socket,
// and a minted management bearer token.
//
// Layout:
//
//	<root>/
//	  functions/    (default functions directory, one subdirectory per function)
//	  logs/         (rotated JSON log files, see internal/logging)
//	  faasd.sock    (unix socket the management RPC listens on, 0600)
//	  token         (management bearer token: minted, or the FAASD_TOKEN value)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a faasd home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir rooted at ~/.faasd, overridable via FAASD_HOME.
func Default() (Dir, error) {
	if envHome := os.Getenv("FAASD_HOME"); envHome != "" {
		return Dir{root: envHome}, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine home directory: %w", err)
	}
	return Dir{root: filepath.Join(base, ".faasd")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// FunctionsDir returns the default functions directory, used when the
// operator does not supply an explicit --functions-dir.
func (d Dir) FunctionsDir() string {
	return filepath.Join(d.root, "functions")
}

// LogDir returns the directory rotated log files are written to.
func (d Dir) LogDir() string {
	return filepath.Join(d.root, "logs")
}

// SocketPath returns the path of the unix socket the management RPC
// listens on by default.
func (d Dir) SocketPath() string {
	return filepath.Join(d.root, "faasd.sock")
}

// TokenPath returns the path of the management bearer token: either
// minted at startup, or the operator-supplied FAASD_TOKEN value, mirrored
// here so CLI subcommands can find it without the environment variable.
func (d Dir) TokenPath() string {
	return filepath.Join(d.root, "token")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
