// Package runtime wires configuration, storage and the replication pipeline
// into a single bridge instance. It owns the Pebble database that holds the
// upstream change log and namespace registry, the downstream connection and
// the checkpoint store, and closes them in reverse order.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
//	_ = rt.Bridge().Run(ctx)
package runtime
