// Package httpserver exposes the bridge's operational HTTP surface: liveness
// and readiness probes, the status and lag views, namespace registration and
// Prometheus metrics.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, "127.0.0.1:8642")
package httpserver
