package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths describes the runtime folder layout under the cache root.
type Paths struct {
	Store     string
	State     string
	Crash     string
	Abort     string
	Telemetry string
	Tmp       string
}

// Layout returns the canonical folder layout for a cache root.
func Layout(root string) Paths {
	statePath := filepath.Join(root, "state")
	return Paths{
		Store:     filepath.Join(root, "store"),
		State:     statePath,
		Crash:     filepath.Join(statePath, "crash"),
		Abort:     filepath.Join(statePath, "abort"),
		Telemetry: filepath.Join(statePath, "telemetry"),
		Tmp:       filepath.Join(statePath, "tmp"),
	}
}

// EnsureDirs creates the runtime folder layout under the cache root. It
// rejects symlinked or group/other-writable paths and verifies each dir is
// writable by the process.
func EnsureDirs(root string) (Paths, error) {
	p := Layout(root)
	dirs := []string{p.Store, p.Crash, p.Abort, p.Telemetry, p.Tmp}

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Dir(d), 0o700); err != nil {
			return p, fmt.Errorf("cannot create parent for %s: %w", d, err)
		}
		if fi, err := os.Lstat(d); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return p, fmt.Errorf("path is a symlink: %s", d)
			}
			if !fi.IsDir() {
				return p, fmt.Errorf("path exists and is not a directory: %s", d)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return p, fmt.Errorf("path has permissive mode (group/other write): %s", d)
			}
		}
		if err := os.MkdirAll(d, 0o700); err != nil {
			return p, fmt.Errorf("cannot create path %s: %w", d, err)
		}

		// writability check: create and remove a temp file
		tmp, err := os.CreateTemp(d, ".validate-*")
		if err != nil {
			return p, fmt.Errorf("path not writable: %s: %w", d, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return p, nil
}
