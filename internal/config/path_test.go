package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fakeHost(home string, homeErr error, env map[string]string, dirs ...string) hostEnv {
	set := map[string]bool{}
	for _, d := range dirs {
		set[d] = true
	}
	return hostEnv{
		home:  func() (string, error) { return home, homeErr },
		env:   func(k string) string { return env[k] },
		isDir: func(p string) bool { return set[p] },
	}
}

func TestDataDirCandidates(t *testing.T) {
	home := filepath.Join("/home", "op")
	cases := []struct {
		name string
		h    hostEnv
		want string
	}{
		{"no home", fakeHost("", errors.New("no home"), nil), "./data"},
		{"xdg wins", fakeHost(home, nil, map[string]string{"XDG_DATA_HOME": "/xdg"}, "/var/lib"), "/xdg/kvbridge"},
		{"var lib", fakeHost(home, nil, nil, "/var/lib"), "/var/lib/kvbridge"},
		{"macos", fakeHost(home, nil, nil, filepath.Join(home, "Library")), filepath.Join(home, "Library", "Application Support", "KVBridge")},
		{"windows", fakeHost(home, nil, nil, filepath.Join(home, "AppData")), filepath.Join(home, "AppData", "Local", "KVBridge")},
		{"dotdir", fakeHost(home, nil, nil), filepath.Join(home, ".kvbridge")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.h.dataDir(); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestDefaultDataDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/kvbridge" && got != "./data" {
		t.Fatalf("got %s", got)
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !isDir(dir) || isDir(file) || isDir(filepath.Join(dir, "missing")) {
		t.Fatalf("isDir misreported")
	}
}
