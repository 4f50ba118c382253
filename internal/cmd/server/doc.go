// Package serverrun exposes the Run entrypoint the CLI uses to start a
// bridge: it builds the process logger, opens the runtime, serves the HTTP
// status surface and replicates until the context ends or the pipeline
// fails.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: config.Default()})
package serverrun
