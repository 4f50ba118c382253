package config

import (
	"os"
	"path/filepath"
)

// hostEnv is what DefaultDataDir inspects; tests replace it.
type hostEnv struct {
	home  func() (string, error)
	env   func(string) string
	isDir func(string) bool
}

var host = hostEnv{home: os.UserHomeDir, env: os.Getenv, isDir: isDir}

// DefaultDataDir picks where the bridge keeps its Pebble store and file
// checkpoint when the config names no data dir. In order:
// $XDG_DATA_HOME/kvbridge, /var/lib/kvbridge, the macOS or Windows
// application data dir, then ~/.kvbridge. Without a home dir it is ./data.
func DefaultDataDir() string { return host.dataDir() }

func (h hostEnv) dataDir() string {
	home, err := h.home()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := h.env("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "kvbridge")
	}
	candidates := []struct{ probe, dir string }{
		{"/var/lib", "/var/lib/kvbridge"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "KVBridge")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "KVBridge")},
	}
	for _, c := range candidates {
		if h.isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".kvbridge")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
