package downstream

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/pkg/log"
)

// DefaultMarkerPrefix prefixes partition marker keys.
const DefaultMarkerPrefix = "kvbridge:pos"

// Options configures RedisConn.
type Options struct {
	Addr     string
	Password string
	// DialTimeout bounds connection setup; SendTimeout bounds reads and writes.
	DialTimeout  time.Duration
	SendTimeout  time.Duration
	PoolSize     int
	MarkerPrefix string
	Logger       log.Logger
}

// RedisConn implements Conn with one go-redis client per DB index.
type RedisConn struct {
	opts   Options
	logger log.Logger

	mu      sync.Mutex
	clients map[int]*redis.Client
	closed  bool
}

func NewRedisConn(opts Options) (*RedisConn, error) {
	if opts.Addr == "" {
		return nil, errors.New("downstream: addr is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.MarkerPrefix == "" {
		opts.MarkerPrefix = DefaultMarkerPrefix
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	return &RedisConn{
		opts:    opts,
		logger:  opts.Logger.WithComponent("downstream"),
		clients: map[int]*redis.Client{},
	}, nil
}

func (c *RedisConn) client(db int) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, redis.ErrClosed
	}
	if cl, ok := c.clients[db]; ok {
		return cl, nil
	}
	cl := redis.NewClient(&redis.Options{
		Addr:         c.opts.Addr,
		Password:     c.opts.Password,
		DB:           db,
		DialTimeout:  c.opts.DialTimeout,
		ReadTimeout:  c.opts.SendTimeout,
		WriteTimeout: c.opts.SendTimeout,
		PoolSize:     c.opts.PoolSize,
		// The dispatcher owns retries.
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	c.clients[db] = cl
	c.logger.Debug("opened downstream client", log.Str("addr", c.opts.Addr), log.Int("db", db))
	return cl, nil
}

// Exec sends tx as MULTI/EXEC and sets the partition marker in the same
// transaction. Replies of nil (LPOP on an empty list) are not failures.
func (c *RedisConn) Exec(ctx context.Context, tx Tx) error {
	cl, err := c.client(tx.DB)
	if err != nil {
		return err
	}
	marker := MarkerKey(c.opts.MarkerPrefix, tx.Partition)
	cmds, err := cl.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, cmd := range tx.Commands {
			pipe.Do(ctx, cmd.Argv()...)
		}
		pipe.Set(ctx, marker, uint64(tx.Position), 0)
		return nil
	})
	for i, cmd := range cmds {
		if cerr := cmd.Err(); cerr != nil && !errors.Is(cerr, redis.Nil) {
			verb := "SET " + marker
			if i < len(tx.Commands) {
				verb = tx.Commands[i].Verb
			}
			return classify(errors.Wrapf(cerr, "db %d partition %d: %s", tx.DB, tx.Partition, verb))
		}
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return classify(errors.Wrapf(err, "db %d partition %d: exec", tx.DB, tx.Partition))
	}
	return nil
}

// Applied reads the partition marker.
func (c *RedisConn) Applied(ctx context.Context, db, partition int) (mutation.Position, error) {
	cl, err := c.client(db)
	if err != nil {
		return 0, err
	}
	s, err := cl.Get(ctx, MarkerKey(c.opts.MarkerPrefix, partition)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(errors.Wrapf(err, "read marker db %d partition %d", db, partition))
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "marker db %d partition %d holds %q", db, partition, s)
	}
	return mutation.Position(v), nil
}

// Ping checks the default DB's connection.
func (c *RedisConn) Ping(ctx context.Context) error {
	cl, err := c.client(0)
	if err != nil {
		return err
	}
	return classify(cl.Ping(ctx).Err())
}

func (c *RedisConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs error
	for _, cl := range c.clients {
		errs = errors.CombineErrors(errs, cl.Close())
	}
	return errs
}
