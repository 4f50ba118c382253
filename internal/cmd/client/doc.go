// Package client provides the operator commands of the `kvbridge` CLI.
//
// Commands that inspect a live bridge talk to its HTTP status server; the
// base URL comes from a BaseURLFunc supplied by the embedding binary
// (default http://127.0.0.1:8642, or KVBRIDGE_HTTP_URL). Commands that touch
// local state open the configured data directory directly, so the bridge
// must be stopped when they need the Pebble database.
//
// Usage
//
//	kvbridge status
//	kvbridge lag
//	kvbridge lag --offline --config kvbridge.yaml
//
//	# append the sample mutation sequence to the upstream log
//	kvbridge seed --namespace orders --db 1
//
//	kvbridge checkpoint show
//	# resync after a log gap: resume after position 1200
//	kvbridge checkpoint reset --to 1200 --confirm
//
//	kvbridge namespace create --name orders --db 1
package client
