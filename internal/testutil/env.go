// Package testutil provides utilities for testing modpatch in isolation.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Env describes an isolated modpatch environment rooted in a temp dir.
type Env struct {
	Root        string
	ConfigFile  string
	ResourceDir string
	CacheDir    string
	TempDir     string
	StateFile   string
}

// SetupTestEnv creates isolated directories and points every modpatch
// path at them, so tests never touch a real host install or the user's
// configuration. Cleanup is handled by t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	root := t.TempDir()
	env := &Env{
		Root:        root,
		ConfigFile:  filepath.Join(root, "config", "modpatch", "modpatch.lua"),
		ResourceDir: filepath.Join(root, "host", "resources"),
		CacheDir:    filepath.Join(root, "cache"),
		TempDir:     filepath.Join(root, "tmp"),
		StateFile:   filepath.Join(root, "config", "modpatch", "state.json"),
	}

	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache-home"))
	t.Setenv("MODPATCH_CACHE_DIR", env.CacheDir)
	t.Setenv("MODPATCH_TEMP_DIR", env.TempDir)
	t.Setenv("MODPATCH_STATE_FILE", env.StateFile)
	t.Setenv("MODPATCH_LOG_FILE", "")

	for _, dir := range []string{filepath.Dir(env.ConfigFile), env.ResourceDir, env.CacheDir, env.TempDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	config := fmt.Sprintf(`modpatch = {
	server_url = "http://127.0.0.1:1",
	host = {
		resource_dir = %q,
		process_name = "modpatch-test-host-not-running",
	},
}
`, env.ResourceDir)
	if err := os.WriteFile(env.ConfigFile, []byte(config), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}

// WriteArchive places data as the host's app.asar and returns its path.
func (e *Env) WriteArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(e.ResourceDir, "app.asar")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}
