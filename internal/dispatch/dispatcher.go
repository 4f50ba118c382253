// Package dispatch applies translated commands to the downstream store with
// per-key ordering, bounded retries and replay deduplication.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rzbill/kvbridge/internal/downstream"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/translate"
	"github.com/rzbill/kvbridge/pkg/log"
)

// Entry is one record's commands bound for a downstream DB.
type Entry struct {
	Position  mutation.Position
	Namespace string
	Key       []byte
	DB        int
	Commands  []translate.Command
}

// AppliedResult confirms a batch.
type AppliedResult struct {
	FirstPosition mutation.Position
	LastPosition  mutation.Position
	Commands      int
	Transactions  int
	// Deduplicated counts entries dropped because a marker showed them applied.
	Deduplicated int
	Attempts     int
}

// Hooks observes dispatch outcomes. Implementations must be safe for
// concurrent use.
type Hooks interface {
	TxConfirmed(partition, commands int, attempts uint32, elapsed time.Duration)
	TxRetried(partition int, err error)
	TxFailed(partition int, err error)
	Deduplicated(n int)
}

type NoopHooks struct{}

func (NoopHooks) TxConfirmed(int, int, uint32, time.Duration) {}
func (NoopHooks) TxRetried(int, error)                         {}
func (NoopHooks) TxFailed(int, error)                          {}
func (NoopHooks) Deduplicated(int)                             {}

type Options struct {
	// Partitions is the number of FIFO queues keys are hashed into.
	Partitions int
	// Workers caps concurrently served partitions; 0 serves all at once.
	Workers     int
	Retry       RetryPolicy
	SendTimeout time.Duration
	// MaxCommandsPerSecond caps downstream throughput; 0 disables the cap.
	MaxCommandsPerSecond float64
	Logger               log.Logger
	Hooks                Hooks
}

// Dispatcher owns the downstream connection for the pipeline. Apply calls
// are serialized.
type Dispatcher struct {
	conn    downstream.Conn
	opts    Options
	logger  log.Logger
	hooks   Hooks
	limiter *rate.Limiter

	applyMu sync.Mutex

	markersMu sync.Mutex
	// markers caches each (db, partition)'s downstream marker once read.
	markers map[markerID]mutation.Position
}

type markerID struct{ db, partition int }

func New(conn downstream.Conn, opts Options) *Dispatcher {
	if opts.Partitions <= 0 {
		opts.Partitions = 8
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Hooks == nil {
		opts.Hooks = NoopHooks{}
	}
	d := &Dispatcher{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger.WithComponent("dispatch"),
		hooks:   opts.Hooks,
		markers: map[markerID]mutation.Position{},
	}
	if opts.MaxCommandsPerSecond > 0 {
		burst := int(opts.MaxCommandsPerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.MaxCommandsPerSecond), burst)
	}
	return d
}

// Partitions returns the configured partition count.
func (d *Dispatcher) Partitions() int { return d.opts.Partitions }

// PartitionOf hashes (namespace, key) onto one of n partitions.
func PartitionOf(namespace string, key []byte, n int) int {
	h := xxhash.New()
	_, _ = h.WriteString(namespace)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(key)
	return int(h.Sum64() % uint64(n))
}

// Ping checks the downstream store under the send timeout.
func (d *Dispatcher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	return d.conn.Ping(ctx)
}

// Apply delivers entries, which must be in ascending position order. Entries
// of one partition are applied strictly in order; partitions proceed
// concurrently. On error nothing in the batch may be treated as confirmed.
func (d *Dispatcher) Apply(ctx context.Context, entries []Entry) (AppliedResult, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	var res AppliedResult
	if len(entries) == 0 {
		return res, nil
	}
	res.FirstPosition = entries[0].Position
	res.LastPosition = entries[len(entries)-1].Position

	queues := make([][]Entry, d.opts.Partitions)
	for _, e := range entries {
		p := PartitionOf(e.Namespace, e.Key, d.opts.Partitions)
		queues[p] = append(queues[p], e)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if d.opts.Workers > 0 {
		g.SetLimit(d.opts.Workers)
	}
	for p, q := range queues {
		if len(q) == 0 {
			continue
		}
		p, q := p, q
		g.Go(func() error {
			pr, err := d.drainPartition(gctx, p, q)
			mu.Lock()
			res.Commands += pr.Commands
			res.Transactions += pr.Transactions
			res.Deduplicated += pr.Deduplicated
			res.Attempts += pr.Attempts
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// drainPartition sends q in order, one transaction per contiguous run of
// entries for the same DB.
func (d *Dispatcher) drainPartition(ctx context.Context, p int, q []Entry) (AppliedResult, error) {
	var res AppliedResult
	for start := 0; start < len(q); {
		end := start + 1
		for end < len(q) && q[end].DB == q[start].DB {
			end++
		}
		if err := d.applyRun(ctx, p, q[start:end], &res); err != nil {
			return res, err
		}
		start = end
	}
	return res, nil
}

func (d *Dispatcher) applyRun(ctx context.Context, p int, run []Entry, res *AppliedResult) error {
	db := run[0].DB
	applied, err := d.marker(ctx, db, p)
	if err != nil {
		return annotate(err, db, p, run[0].Position, run[len(run)-1].Position)
	}
	skip := 0
	for skip < len(run) && run[skip].Position <= applied {
		skip++
	}
	if skip > 0 {
		res.Deduplicated += skip
		d.hooks.Deduplicated(skip)
		d.logger.Info("skipping replayed entries",
			log.Int("db", db), log.Int("partition", p), log.Int("count", skip), log.Uint64("marker", uint64(applied)))
		run = run[skip:]
	}
	if len(run) == 0 {
		return nil
	}

	tx := downstream.Tx{DB: db, Partition: p, Position: run[len(run)-1].Position}
	for _, e := range run {
		tx.Commands = append(tx.Commands, e.Commands...)
	}
	if err := d.throttle(ctx, len(tx.Commands)); err != nil {
		return err
	}

	start := time.Now()
	sent := false
	attempts, err := d.deliver(ctx, p, func(ctx context.Context) error {
		// A failed attempt may still have committed; the marker says.
		if sent {
			applied, err := d.conn.Applied(ctx, db, p)
			if err != nil {
				return err
			}
			if applied >= tx.Position {
				return nil
			}
		}
		sent = true
		return d.conn.Exec(ctx, tx)
	})
	res.Attempts += int(attempts)
	if err != nil {
		// The transaction may have landed before the failure was observed.
		d.forgetMarker(db, p)
		return annotate(err, db, p, run[0].Position, tx.Position)
	}
	d.setMarker(db, p, tx.Position)
	res.Transactions++
	res.Commands += len(tx.Commands)
	d.hooks.TxConfirmed(p, len(tx.Commands), attempts, time.Since(start))
	return nil
}

func annotate(err error, db, p int, first, last mutation.Position) error {
	var dfe *DispatchFailedError
	if errors.As(err, &dfe) {
		dfe.DB, dfe.Partition = db, p
		dfe.FirstPosition, dfe.LastPosition = first, last
	}
	return err
}

func (d *Dispatcher) marker(ctx context.Context, db, p int) (mutation.Position, error) {
	id := markerID{db, p}
	d.markersMu.Lock()
	pos, ok := d.markers[id]
	d.markersMu.Unlock()
	if ok {
		return pos, nil
	}
	_, err := d.deliver(ctx, p, func(ctx context.Context) error {
		var err error
		pos, err = d.conn.Applied(ctx, db, p)
		return err
	})
	if err != nil {
		return 0, err
	}
	d.setMarker(db, p, pos)
	return pos, nil
}

func (d *Dispatcher) setMarker(db, p int, pos mutation.Position) {
	d.markersMu.Lock()
	d.markers[markerID{db, p}] = pos
	d.markersMu.Unlock()
}

func (d *Dispatcher) forgetMarker(db, p int) {
	d.markersMu.Lock()
	delete(d.markers, markerID{db, p})
	d.markersMu.Unlock()
}

func (d *Dispatcher) throttle(ctx context.Context, n int) error {
	if d.limiter == nil {
		return nil
	}
	for n > 0 {
		k := min(n, d.limiter.Burst())
		if err := d.limiter.WaitN(ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// deliver runs send through the retry state machine. A cancelled ctx ends
// delivery with ctx's error rather than a DispatchFailedError.
func (d *Dispatcher) deliver(ctx context.Context, p int, send func(context.Context) error) (uint32, error) {
	m := NewMachine(d.opts.Retry)
	for {
		if err := m.Begin(); err != nil {
			return m.Attempts(), err
		}
		actx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		err := send(actx)
		cancel()
		if err == nil {
			return m.Attempts(), m.Succeed()
		}
		if ctx.Err() != nil {
			return m.Attempts(), errors.Wrap(ctx.Err(), "dispatch interrupted")
		}

		transient := downstream.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
		delay, ferr := m.Fail(err, transient)
		if ferr != nil {
			return m.Attempts(), ferr
		}
		if m.State() == Failed {
			d.hooks.TxFailed(p, err)
			d.logger.Error("downstream send failed",
				log.Int("partition", p), log.Uint64("attempts", uint64(m.Attempts())), log.Bool("transient", transient), log.Err(err))
			return m.Attempts(), &DispatchFailedError{Partition: p, Attempts: m.Attempts(), Exhausted: transient, Err: err}
		}
		d.hooks.TxRetried(p, err)
		d.logger.Warn("downstream send failed, retrying",
			log.Int("partition", p), log.Uint64("attempt", uint64(m.Attempts())), log.Duration("backoff", delay), log.Err(err))
		if err := sleep(ctx, delay); err != nil {
			return m.Attempts(), errors.Wrap(err, "dispatch interrupted")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
