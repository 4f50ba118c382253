package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/runtime"
	httpserver "github.com/rzbill/kvbridge/internal/server/http"
	logpkg "github.com/rzbill/kvbridge/pkg/log"
)

// redactKeys are log field keys whose values never reach the output.
var redactKeys = []string{"password", "postgres_dsn", "dsn"}

type Options struct {
	Config config.Config
	// Once replicates what is committed and returns, without the HTTP server.
	Once bool
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
}

// NewLogger builds the process logger from the log section of cfg.
func NewLogger(cfg config.Config) (logpkg.Logger, error) {
	return logpkg.ApplyConfig(&logpkg.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		RedactKeys: redactKeys,
	})
}

// Run opens the runtime and replicates until ctx is cancelled (nil after
// draining) or the bridge stops on an error.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	procLogger := opts.Logger
	if procLogger == nil {
		l, err := NewLogger(opts.Config)
		if err != nil {
			return err
		}
		procLogger = l
	}
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: opts.Config, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting kvbridge",
		logpkg.Str("name", opts.Config.Name),
		logpkg.Str("run_id", rt.Bridge().RunID()),
		logpkg.Str("http", opts.Config.HTTP.Addr),
		logpkg.Str("level", opts.Config.Log.Level),
		logpkg.Str("format", opts.Config.Log.Format),
		logpkg.Bool("once", opts.Once),
	)

	if opts.Once {
		return rt.Bridge().Sync(sctx)
	}

	g, gctx := errgroup.WithContext(sctx)
	// The HTTP server keeps answering while the bridge drains.
	hctx, stopHTTP := context.WithCancel(context.Background())
	defer stopHTTP()
	if addr := opts.Config.HTTP.Addr; addr != "" {
		hsrv := httpserver.New(rt, procLogger)
		g.Go(func() error {
			defer hsrv.Close()
			return hsrv.ListenAndServe(hctx, addr)
		})
	}
	g.Go(func() error {
		defer stopHTTP()
		return rt.Bridge().Run(gctx)
	})
	return g.Wait()
}
