package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/rzbill/kvbridge/internal/checkpoint"
	"github.com/rzbill/kvbridge/internal/dispatch"
	"github.com/rzbill/kvbridge/internal/filter"
	"github.com/rzbill/kvbridge/internal/metrics"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/namespace"
	"github.com/rzbill/kvbridge/internal/reader"
	"github.com/rzbill/kvbridge/internal/translate"
	"github.com/rzbill/kvbridge/pkg/log"
)

// MalformedPolicy decides what a malformed record does to the pipeline.
type MalformedPolicy string

const (
	SkipMalformed MalformedPolicy = "skip"
	HaltMalformed MalformedPolicy = "halt"
)

// Applier is the part of the dispatcher the pipeline uses.
type Applier interface {
	Apply(ctx context.Context, entries []dispatch.Entry) (dispatch.AppliedResult, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Name  string
	RunID string
	// Malformed defaults to SkipMalformed.
	Malformed       MalformedPolicy
	Filter          filter.Filter
	Router          *namespace.Router
	MaxBatchRecords int
	MaxBatchBytes   int
	DrainTimeout    time.Duration
	Reader          reader.Options
	Logger          log.Logger
	Metrics         *metrics.Metrics
}

// Bridge replicates one upstream stream into the downstream store.
type Bridge struct {
	src   reader.Source
	disp  Applier
	store checkpoint.Store
	opts  Options
	log   log.Logger
	m     *metrics.Metrics

	running sync.Mutex

	mu     sync.RWMutex
	status Status
}

func New(src reader.Source, disp Applier, store checkpoint.Store, opts Options) (*Bridge, error) {
	if src == nil || disp == nil || store == nil {
		return nil, errors.New("bridge: source, dispatcher and checkpoint store are required")
	}
	if opts.Name == "" {
		opts.Name = "kvbridge"
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	switch opts.Malformed {
	case "":
		opts.Malformed = SkipMalformed
	case SkipMalformed, HaltMalformed:
	default:
		return nil, errors.Newf("bridge: unknown malformed policy %q", opts.Malformed)
	}
	if opts.Router == nil {
		r, err := namespace.NewRouter(namespace.RouterOptions{})
		if err != nil {
			return nil, err
		}
		opts.Router = r
	}
	if opts.MaxBatchRecords <= 0 {
		opts.MaxBatchRecords = 16
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = 16 << 10
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	b := &Bridge{
		src:   src,
		disp:  disp,
		store: store,
		opts:  opts,
		log:   opts.Logger.WithComponent("bridge").With(log.Str("bridge", opts.Name), log.Str(log.RunIDKey, opts.RunID)),
		m:     opts.Metrics,
	}
	b.status = Status{Name: opts.Name, RunID: opts.RunID, State: StateStopped}
	return b, nil
}

// RunID identifies this bridge process in checkpoints and logs.
func (b *Bridge) RunID() string { return b.opts.RunID }

// Run replicates until ctx is cancelled (returning nil after draining) or a
// fatal error occurs: a log gap, a translation failure, a malformed record
// under the halt policy, a dispatch failure or a checkpoint write failure.
func (b *Bridge) Run(ctx context.Context) error { return b.run(ctx, false) }

// Sync replicates everything committed so far and returns once the reader
// reaches the end of the log.
func (b *Bridge) Sync(ctx context.Context) error { return b.run(ctx, true) }

func (b *Bridge) run(ctx context.Context, once bool) (err error) {
	if !b.running.TryLock() {
		return errors.New("bridge: already running")
	}
	defer b.running.Unlock()

	b.setState(StateStarting, nil)
	b.mu.Lock()
	b.status.StartedAt = time.Now().UTC()
	b.mu.Unlock()
	defer func() {
		if err != nil {
			b.setState(StateFailed, err)
			b.log.Error("bridge stopped on error", log.Err(err))
			return
		}
		b.setState(StateStopped, nil)
	}()

	cp, err := b.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load checkpoint")
	}
	start := mutation.Position(b.src.FirstSeq() - 1)
	if cp != nil {
		start = cp.Position
		b.mu.Lock()
		c := *cp
		b.status.Checkpoint = &c
		b.mu.Unlock()
		b.m.CheckpointPos.Set(float64(cp.Position))
	}
	stream, err := reader.Open(b.src, start, b.opts.Reader)
	if err != nil {
		return err
	}
	b.log.Info("bridge starting",
		log.Uint64("start", uint64(start)), log.Bool("checkpoint", cp != nil), log.Bool("once", once),
		log.Str("malformed_policy", string(b.opts.Malformed)), log.Bool("filter", b.opts.Filter.Enabled()))

	if err := b.disp.Ping(ctx); err != nil {
		b.log.Warn("downstream not reachable yet; sends will retry", log.Err(err))
	}
	b.setState(StateRunning, nil)

	p := &pipeline{b: b, committed: start}
	for {
		raw, err := stream.Next(ctx)
		switch {
		case err == nil:
			b.m.RecordsRead.Inc()
			b.m.ReaderPosition.Set(float64(raw.Position))
			b.mu.Lock()
			b.status.ReaderPosition = raw.Position
			b.status.RecordsRead++
			b.mu.Unlock()
			if err := p.add(raw); err != nil {
				if ferr := p.flush(ctx); ferr != nil {
					return errors.CombineErrors(err, ferr)
				}
				return err
			}
			if p.full() {
				if err := p.flush(ctx); err != nil {
					return p.drainOnCancel(ctx, err)
				}
			}
		case errors.Is(err, reader.ErrEndOfLog):
			if err := p.flush(ctx); err != nil {
				return p.drainOnCancel(ctx, err)
			}
			b.updateLag()
			if once {
				b.log.Info("caught up", log.Uint64("position", uint64(p.committed)))
				return nil
			}
		case ctx.Err() != nil:
			return p.drainOnCancel(ctx, ctx.Err())
		default:
			var gap *reader.LogGapError
			if errors.As(err, &gap) {
				b.log.Error("upstream log gap; resync required (kvbridge checkpoint reset)",
					log.Uint64("expected", uint64(gap.Expected)), log.Uint64("found", uint64(gap.Found)))
				if ferr := p.flush(ctx); ferr != nil {
					return errors.CombineErrors(err, ferr)
				}
			}
			return err
		}
	}
}

// drainOnCancel turns a cancellation into a drain of the pending batch. Any
// other error is returned unchanged.
func (p *pipeline) drainOnCancel(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	b := p.b
	b.setState(StateDraining, nil)
	if len(p.entries) == 0 && p.last == p.committed {
		return nil
	}
	dctx, cancel := context.WithTimeout(context.Background(), b.opts.DrainTimeout)
	defer cancel()
	if ferr := p.flush(dctx); ferr != nil {
		b.log.Warn("drain failed; batch will be replayed on restart",
			log.Uint64("checkpoint", uint64(p.committed)), log.Uint64("pending_through", uint64(p.last)), log.Err(ferr))
		return nil
	}
	b.log.Info("drained pending batch", log.Uint64("position", uint64(p.committed)))
	return nil
}

// pipeline is the per-run batching state. Only the run goroutine touches it.
type pipeline struct {
	b       *Bridge
	entries []dispatch.Entry
	records int
	bytes   int
	// last is the highest position consumed, committed the highest saved.
	last      mutation.Position
	committed mutation.Position
}

func (p *pipeline) full() bool {
	return p.records >= p.b.opts.MaxBatchRecords || p.bytes >= p.b.opts.MaxBatchBytes
}

// add decodes, filters, routes and translates raw into the batch. The
// returned error is fatal; skippable problems only advance the position.
func (p *pipeline) add(raw mutation.Raw) error {
	b := p.b
	p.records++
	rec, err := mutation.Decode(raw)
	if err != nil {
		b.m.Skipped(metrics.ReasonMalformed)
		b.count(func(s *Status) { s.Malformed++ })
		b.log.Warn("malformed record", log.Uint64("position", uint64(raw.Position)), log.Err(err))
		if b.opts.Malformed == HaltMalformed {
			return err
		}
		p.last = raw.Position
		return nil
	}

	ok, ferr := b.opts.Filter.Match(rec)
	if ferr != nil {
		b.m.FilterErrors.Inc()
		b.log.Warn("filter evaluation failed; replicating record", log.Err(ferr))
	}
	if !ok {
		b.m.Skipped(metrics.ReasonFiltered)
		b.count(func(s *Status) { s.Filtered++ })
		p.last = rec.Position
		return nil
	}

	db, routed := b.opts.Router.Route(rec.Namespace)
	if !routed {
		b.m.Skipped(metrics.ReasonNamespace)
		b.count(func(s *Status) { s.Filtered++ })
		b.log.Debug("namespace not routed", log.Str("namespace", rec.Namespace), log.Uint64("position", uint64(rec.Position)))
		p.last = rec.Position
		return nil
	}

	cmds, err := translate.Translate(rec)
	if err != nil {
		return err
	}
	p.entries = append(p.entries, dispatch.Entry{
		Position:  rec.Position,
		Namespace: rec.Namespace,
		Key:       rec.Key,
		DB:        db,
		Commands:  cmds,
	})
	p.bytes += rec.Size()
	p.last = rec.Position
	return nil
}

// flush applies the batch and then saves the checkpoint. On error the batch
// is kept so a later flush (the drain) can retry it.
func (p *pipeline) flush(ctx context.Context) error {
	if p.last == p.committed {
		return nil
	}
	b := p.b
	res, err := b.disp.Apply(ctx, p.entries)
	if err != nil {
		return err
	}
	cp := checkpoint.Checkpoint{Position: p.last, AppliedAt: time.Now().UTC(), RunID: b.opts.RunID}
	if err := b.store.Save(ctx, cp); err != nil {
		return errors.Wrapf(err, "save checkpoint at %d", p.last)
	}
	p.committed = p.last
	p.entries, p.records, p.bytes = p.entries[:0], 0, 0

	b.m.Batches.Inc()
	b.m.CheckpointPos.Set(float64(cp.Position))
	b.count(func(s *Status) {
		s.Batches++
		s.Commands += uint64(res.Commands)
		s.Deduplicated += uint64(res.Deduplicated)
		s.Checkpoint = &cp
	})
	b.updateLag()
	b.log.Debug("batch confirmed",
		log.Uint64("checkpoint", uint64(cp.Position)), log.Int("commands", res.Commands),
		log.Int("transactions", res.Transactions), log.Int("attempts", res.Attempts))
	return nil
}
