package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration loaded from file/env.
type Config struct {
	// Name identifies the bridge; it keys the checkpoint.
	Name    string `json:"name" yaml:"name"`
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is always|interval|never for the local Pebble database.
	Fsync      string     `json:"fsync" yaml:"fsync"`
	Upstream   Upstream   `json:"upstream" yaml:"upstream"`
	Downstream Downstream `json:"downstream" yaml:"downstream"`
	Namespaces Namespaces `json:"namespaces" yaml:"namespaces"`
	Dispatch   Dispatch   `json:"dispatch" yaml:"dispatch"`
	Batch      Batch      `json:"batch" yaml:"batch"`
	Checkpoint Checkpoint `json:"checkpoint" yaml:"checkpoint"`
	// MalformedPolicy is skip or halt.
	MalformedPolicy string `json:"malformedPolicy" yaml:"malformedPolicy"`
	// Filter is an optional CEL expression selecting replicated records.
	Filter string `json:"filter" yaml:"filter"`
	HTTP   HTTP   `json:"http" yaml:"http"`
	Log    Log    `json:"log" yaml:"log"`
}

type Upstream struct {
	Stream      string   `json:"stream" yaml:"stream"`
	ReadLimit   int      `json:"readLimit" yaml:"readLimit"`
	WaitTimeout Duration `json:"waitTimeout" yaml:"waitTimeout"`
}

type Downstream struct {
	Addr         string   `json:"addr" yaml:"addr"`
	Password     string   `json:"password" yaml:"password"`
	DialTimeout  Duration `json:"dialTimeout" yaml:"dialTimeout"`
	SendTimeout  Duration `json:"sendTimeout" yaml:"sendTimeout"`
	PoolSize     int      `json:"poolSize" yaml:"poolSize"`
	MarkerPrefix string   `json:"markerPrefix" yaml:"markerPrefix"`
}

// Namespaces routes upstream namespaces to downstream DB indexes.
type Namespaces struct {
	Routes    map[string]int `json:"routes" yaml:"routes"`
	DefaultDB int            `json:"defaultDb" yaml:"defaultDb"`
	Strict    bool           `json:"strict" yaml:"strict"`
}

type Dispatch struct {
	Partitions           int     `json:"partitions" yaml:"partitions"`
	Workers              int     `json:"workers" yaml:"workers"`
	Retry                Retry   `json:"retry" yaml:"retry"`
	MaxCommandsPerSecond float64 `json:"maxCommandsPerSecond" yaml:"maxCommandsPerSecond"`
}

type Retry struct {
	Type        string   `json:"type" yaml:"type"`
	Base        Duration `json:"base" yaml:"base"`
	Cap         Duration `json:"cap" yaml:"cap"`
	Factor      float64  `json:"factor" yaml:"factor"`
	MaxAttempts uint32   `json:"maxAttempts" yaml:"maxAttempts"`
}

type Batch struct {
	MaxRecords   int      `json:"maxRecords" yaml:"maxRecords"`
	MaxBytes     int      `json:"maxBytes" yaml:"maxBytes"`
	DrainTimeout Duration `json:"drainTimeout" yaml:"drainTimeout"`
}

type Checkpoint struct {
	// Backend is file, pebble or postgres.
	Backend     string `json:"backend" yaml:"backend"`
	Path        string `json:"path" yaml:"path"`
	PostgresDSN string `json:"postgresDsn" yaml:"postgresDsn"`
	Table       string `json:"table" yaml:"table"`
}

type HTTP struct {
	Addr string `json:"addr" yaml:"addr"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Name:    "kvbridge",
		DataDir: DefaultDataDir(),
		Fsync:   "always",
		Upstream: Upstream{
			Stream:      "upstream",
			ReadLimit:   256,
			WaitTimeout: Duration(200 * time.Millisecond),
		},
		Downstream: Downstream{
			Addr:         "127.0.0.1:6379",
			DialTimeout:  Duration(5 * time.Second),
			SendTimeout:  Duration(5 * time.Second),
			MarkerPrefix: "kvbridge:pos",
		},
		Dispatch: Dispatch{
			Partitions: 8,
			Retry: Retry{
				Type:        "exp",
				Base:        Duration(200 * time.Millisecond),
				Cap:         Duration(30 * time.Second),
				Factor:      2.0,
				MaxAttempts: 5,
			},
		},
		Batch: Batch{
			MaxRecords:   16,
			MaxBytes:     16 << 10,
			DrainTimeout: Duration(5 * time.Second),
		},
		Checkpoint: Checkpoint{
			Backend: "file",
			Table:   "kvbridge_checkpoints",
		},
		MalformedPolicy: "skip",
		HTTP:            HTTP{Addr: "127.0.0.1:8642"},
		Log:             Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse yaml config %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse json config %s", path)
		}
	}
	return cfg, nil
}

// CheckpointPath returns the file backend's path, defaulting into DataDir.
func (c Config) CheckpointPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	return filepath.Join(c.DataDir, "checkpoint.json")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []string
	fail := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if c.Name == "" {
		fail("name is required")
	}
	if c.DataDir == "" {
		fail("dataDir is required")
	}
	if !oneOf(c.Fsync, "always", "interval", "never") {
		fail("fsync must be always|interval|never, got %q", c.Fsync)
	}
	if c.Upstream.Stream == "" {
		fail("upstream.stream is required")
	}
	if c.Downstream.Addr == "" {
		fail("downstream.addr is required")
	}
	if c.Namespaces.DefaultDB < 0 {
		fail("namespaces.defaultDb must be >= 0")
	}
	if c.Dispatch.Partitions <= 0 {
		fail("dispatch.partitions must be > 0")
	}
	if c.Dispatch.Retry.MaxAttempts == 0 {
		fail("dispatch.retry.maxAttempts must be >= 1")
	}
	if !oneOf(c.Dispatch.Retry.Type, "", "exp", "exp-jitter", "fixed", "none") {
		fail("dispatch.retry.type must be exp|exp-jitter|fixed|none, got %q", c.Dispatch.Retry.Type)
	}
	if c.Dispatch.MaxCommandsPerSecond < 0 {
		fail("dispatch.maxCommandsPerSecond must be >= 0")
	}
	if c.Batch.MaxRecords <= 0 || c.Batch.MaxBytes <= 0 {
		fail("batch.maxRecords and batch.maxBytes must be > 0")
	}
	switch c.Checkpoint.Backend {
	case "file", "pebble":
	case "postgres":
		if c.Checkpoint.PostgresDSN == "" {
			fail("checkpoint.postgresDsn is required for the postgres backend")
		}
	default:
		fail("checkpoint.backend must be file|pebble|postgres, got %q", c.Checkpoint.Backend)
	}
	if !oneOf(c.MalformedPolicy, "skip", "halt") {
		fail("malformedPolicy must be skip|halt, got %q", c.MalformedPolicy)
	}
	if len(problems) > 0 {
		return errors.Newf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
