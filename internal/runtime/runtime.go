package runtime

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/kvbridge/internal/bridge"
	"github.com/rzbill/kvbridge/internal/changelog"
	"github.com/rzbill/kvbridge/internal/checkpoint"
	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/dispatch"
	"github.com/rzbill/kvbridge/internal/downstream"
	"github.com/rzbill/kvbridge/internal/filter"
	"github.com/rzbill/kvbridge/internal/metrics"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/namespace"
	"github.com/rzbill/kvbridge/internal/reader"
	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
	"github.com/rzbill/kvbridge/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config config.Config
	Logger log.Logger
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
	// FsyncInterval is the group-commit window when Config.Fsync is interval.
	FsyncInterval time.Duration
}

// Runtime holds every long-lived component of one bridge.
type Runtime struct {
	cfg     config.Config
	logger  log.Logger
	metrics *metrics.Metrics

	db     *pebblestore.DB
	log    *changelog.Log
	router *namespace.Router
	store  checkpoint.Store
	conn   *downstream.RedisConn
	disp   *dispatch.Dispatcher
	bridge *bridge.Bridge

	closeOnce sync.Once
	closeErr  error
}

// Open validates the config and builds the pipeline. Nothing talks to the
// downstream until the bridge runs.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	rt := &Runtime{cfg: cfg, logger: logger, metrics: m}

	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	rt.db, err = pebblestore.Open(pebblestore.Options{
		DataDir:       StoreDir(cfg),
		Fsync:         mode,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	rt.log, err = changelog.Open(rt.db, cfg.Upstream.Stream)
	if err != nil {
		return nil, errors.Wrapf(err, "open upstream stream %q", cfg.Upstream.Stream)
	}

	rt.router, err = namespace.NewRouter(namespace.RouterOptions{
		Routes:    cfg.Namespaces.Routes,
		DefaultDB: cfg.Namespaces.DefaultDB,
		Strict:    cfg.Namespaces.Strict,
	})
	if err != nil {
		return nil, err
	}
	registered, err := namespace.List(rt.db)
	if err != nil {
		return nil, err
	}
	if err := rt.router.Merge(registered); err != nil {
		return nil, err
	}

	rt.store, err = OpenCheckpointStore(ctx, cfg, rt.db)
	if err != nil {
		return nil, err
	}

	rt.conn, err = downstream.NewRedisConn(downstream.Options{
		Addr:         cfg.Downstream.Addr,
		Password:     cfg.Downstream.Password,
		DialTimeout:  cfg.Downstream.DialTimeout.Std(),
		SendTimeout:  cfg.Downstream.SendTimeout.Std(),
		PoolSize:     cfg.Downstream.PoolSize,
		MarkerPrefix: cfg.Downstream.MarkerPrefix,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	backoff, err := dispatch.ParseBackoffType(cfg.Dispatch.Retry.Type)
	if err != nil {
		return nil, err
	}
	rt.disp = dispatch.New(rt.conn, dispatch.Options{
		Partitions: cfg.Dispatch.Partitions,
		Workers:    cfg.Dispatch.Workers,
		Retry: dispatch.RetryPolicy{
			Type:        backoff,
			Base:        cfg.Dispatch.Retry.Base.Std(),
			Cap:         cfg.Dispatch.Retry.Cap.Std(),
			Factor:      cfg.Dispatch.Retry.Factor,
			MaxAttempts: cfg.Dispatch.Retry.MaxAttempts,
		},
		SendTimeout:          cfg.Downstream.SendTimeout.Std(),
		MaxCommandsPerSecond: cfg.Dispatch.MaxCommandsPerSecond,
		Logger:               logger,
		Hooks:                m,
	})

	f, err := filter.New(cfg.Filter)
	if err != nil {
		return nil, err
	}
	rt.bridge, err = bridge.New(rt.log, rt.disp, rt.store, bridge.Options{
		Name:            cfg.Name,
		Malformed:       bridge.MalformedPolicy(cfg.MalformedPolicy),
		Filter:          f,
		Router:          rt.router,
		MaxBatchRecords: cfg.Batch.MaxRecords,
		MaxBatchBytes:   cfg.Batch.MaxBytes,
		DrainTimeout:    cfg.Batch.DrainTimeout.Std(),
		Reader: reader.Options{
			ReadLimit:   cfg.Upstream.ReadLimit,
			WaitTimeout: cfg.Upstream.WaitTimeout.Std(),
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	logger.WithComponent("runtime").Info("runtime opened",
		log.Str("data_dir", cfg.DataDir), log.Str("stream", cfg.Upstream.Stream),
		log.Str("downstream", cfg.Downstream.Addr), log.Str("checkpoint", cfg.Checkpoint.Backend),
		log.Int("partitions", rt.disp.Partitions()), log.Uint64("upstream_last", rt.log.LastSeq()))
	ok = true
	return rt, nil
}

// StoreDir is where the Pebble database lives under the data dir.
func StoreDir(cfg config.Config) string { return filepath.Join(cfg.DataDir, "store") }

// OpenCheckpointStore opens the configured checkpoint backend. db is only
// needed for the pebble backend.
func OpenCheckpointStore(ctx context.Context, cfg config.Config, db *pebblestore.DB) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "", "file":
		return checkpoint.NewFileStore(cfg.CheckpointPath())
	case "pebble":
		if db == nil {
			return nil, errors.New("pebble checkpoint backend needs the runtime database")
		}
		return checkpoint.NewPebbleStore(db, cfg.Name)
	case "postgres":
		return checkpoint.NewPostgresStore(ctx, cfg.Checkpoint.PostgresDSN, cfg.Checkpoint.Table, cfg.Name)
	default:
		return nil, errors.Newf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// Close releases the downstream connection, checkpoint store and database.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		var errs error
		if r.conn != nil {
			errs = errors.CombineErrors(errs, r.conn.Close())
		}
		if r.store != nil {
			errs = errors.CombineErrors(errs, r.store.Close())
		}
		if r.db != nil {
			errs = errors.CombineErrors(errs, r.db.Close())
		}
		r.closeErr = errs
	})
	return r.closeErr
}

// CheckHealth verifies the local database is usable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// CheckReady verifies the downstream answers a PING.
func (r *Runtime) CheckReady(ctx context.Context) error {
	return r.disp.Ping(ctx)
}

// EnsureNamespace registers name with its downstream DB and routes it for
// the running bridge. Configured routes still win.
func (r *Runtime) EnsureNamespace(name string, db int) (namespace.Meta, error) {
	meta, err := namespace.EnsureNamespace(r.db, name, db)
	if err != nil {
		return namespace.Meta{}, err
	}
	if err := r.router.Merge([]namespace.Meta{meta}); err != nil {
		return namespace.Meta{}, err
	}
	return meta, nil
}

// Namespaces lists the registered namespaces.
func (r *Runtime) Namespaces() ([]namespace.Meta, error) { return namespace.List(r.db) }

// Append encodes recs and commits them to the upstream log as one batch,
// returning their positions.
func (r *Runtime) Append(ctx context.Context, recs []mutation.Record) ([]mutation.Position, error) {
	batch := make([]changelog.AppendRecord, 0, len(recs))
	for i, rec := range recs {
		hdr, payload, err := mutation.Encode(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "encode record %d", i)
		}
		batch = append(batch, changelog.AppendRecord{Header: hdr, Payload: payload})
	}
	seqs, err := r.log.Append(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([]mutation.Position, len(seqs))
	for i, s := range seqs {
		out[i] = mutation.Position(s)
	}
	return out, nil
}

// Status reports the bridge status.
func (r *Runtime) Status() bridge.Status { return r.bridge.Status() }

func (r *Runtime) Bridge() *bridge.Bridge        { return r.bridge }
func (r *Runtime) Changelog() *changelog.Log     { return r.log }
func (r *Runtime) Checkpoints() checkpoint.Store { return r.store }
func (r *Runtime) Metrics() *metrics.Metrics     { return r.metrics }
func (r *Runtime) Router() *namespace.Router     { return r.router }
func (r *Runtime) Logger() log.Logger            { return r.logger }
func (r *Runtime) Config() config.Config         { return r.cfg }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }
