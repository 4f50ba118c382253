package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// FromEnv overlays KVBRIDGE_* environment variables onto cfg. Unparseable
// values are reported together; valid ones are still applied.
func FromEnv(cfg *Config) error {
	var errs error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", name))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", name))
				return
			}
			*dst = d
		}
	}

	str("KVBRIDGE_NAME", &cfg.Name)
	str("KVBRIDGE_DATA_DIR", &cfg.DataDir)
	str("KVBRIDGE_FSYNC", &cfg.Fsync)
	str("KVBRIDGE_UPSTREAM_STREAM", &cfg.Upstream.Stream)
	num("KVBRIDGE_UPSTREAM_READ_LIMIT", &cfg.Upstream.ReadLimit)
	dur("KVBRIDGE_UPSTREAM_WAIT_TIMEOUT", &cfg.Upstream.WaitTimeout)
	str("KVBRIDGE_DOWNSTREAM_ADDR", &cfg.Downstream.Addr)
	str("KVBRIDGE_DOWNSTREAM_PASSWORD", &cfg.Downstream.Password)
	dur("KVBRIDGE_DOWNSTREAM_DIAL_TIMEOUT", &cfg.Downstream.DialTimeout)
	dur("KVBRIDGE_DOWNSTREAM_SEND_TIMEOUT", &cfg.Downstream.SendTimeout)
	num("KVBRIDGE_DOWNSTREAM_POOL_SIZE", &cfg.Downstream.PoolSize)
	str("KVBRIDGE_DOWNSTREAM_MARKER_PREFIX", &cfg.Downstream.MarkerPrefix)
	num("KVBRIDGE_NAMESPACES_DEFAULT_DB", &cfg.Namespaces.DefaultDB)
	if v := os.Getenv("KVBRIDGE_NAMESPACES_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "KVBRIDGE_NAMESPACES_STRICT"))
		} else {
			cfg.Namespaces.Strict = b
		}
	}
	// KVBRIDGE_NAMESPACES=orders=1,users=2 replaces the configured routes.
	if v := os.Getenv("KVBRIDGE_NAMESPACES"); v != "" {
		routes := map[string]int{}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, db, ok := strings.Cut(part, "=")
			n, err := strconv.Atoi(db)
			if !ok || err != nil {
				errs = errors.CombineErrors(errs, errors.Newf("KVBRIDGE_NAMESPACES: invalid route %q", part))
				continue
			}
			routes[strings.TrimSpace(name)] = n
		}
		cfg.Namespaces.Routes = routes
	}
	num("KVBRIDGE_DISPATCH_PARTITIONS", &cfg.Dispatch.Partitions)
	num("KVBRIDGE_DISPATCH_WORKERS", &cfg.Dispatch.Workers)
	str("KVBRIDGE_DISPATCH_BACKOFF_TYPE", &cfg.Dispatch.Retry.Type)
	dur("KVBRIDGE_DISPATCH_BACKOFF_BASE", &cfg.Dispatch.Retry.Base)
	dur("KVBRIDGE_DISPATCH_BACKOFF_CAP", &cfg.Dispatch.Retry.Cap)
	if v := os.Getenv("KVBRIDGE_DISPATCH_BACKOFF_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			errs = errors.CombineErrors(errs, errors.Newf("KVBRIDGE_DISPATCH_BACKOFF_FACTOR: invalid %q", v))
		} else {
			cfg.Dispatch.Retry.Factor = f
		}
	}
	if v := os.Getenv("KVBRIDGE_DISPATCH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "KVBRIDGE_DISPATCH_MAX_ATTEMPTS"))
		} else {
			cfg.Dispatch.Retry.MaxAttempts = uint32(n)
		}
	}
	if v := os.Getenv("KVBRIDGE_DISPATCH_MAX_COMMANDS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "KVBRIDGE_DISPATCH_MAX_COMMANDS_PER_SECOND"))
		} else {
			cfg.Dispatch.MaxCommandsPerSecond = f
		}
	}
	num("KVBRIDGE_BATCH_MAX_RECORDS", &cfg.Batch.MaxRecords)
	num("KVBRIDGE_BATCH_MAX_BYTES", &cfg.Batch.MaxBytes)
	dur("KVBRIDGE_BATCH_DRAIN_TIMEOUT", &cfg.Batch.DrainTimeout)
	str("KVBRIDGE_CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	str("KVBRIDGE_CHECKPOINT_PATH", &cfg.Checkpoint.Path)
	str("KVBRIDGE_CHECKPOINT_POSTGRES_DSN", &cfg.Checkpoint.PostgresDSN)
	str("KVBRIDGE_CHECKPOINT_TABLE", &cfg.Checkpoint.Table)
	str("KVBRIDGE_MALFORMED_POLICY", &cfg.MalformedPolicy)
	str("KVBRIDGE_FILTER", &cfg.Filter)
	str("KVBRIDGE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("KVBRIDGE_LOG_LEVEL", &cfg.Log.Level)
	str("KVBRIDGE_LOG_FORMAT", &cfg.Log.Format)
	return errs
}
