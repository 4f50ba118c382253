// Package downstream is the bridge's only path to the downstream RESP store.
//
// A Tx carries one partition's contiguous commands for a single DB. RedisConn
// sends it as MULTI/EXEC together with a SET of the partition's position
// marker, so the marker and the data move in the same transaction:
//
//	MULTI
//	LPUSH lfoo b
//	RPOP lfoo
//	SET kvbridge:pos:3 42
//	EXEC
//
// Applied reads the marker back; the dispatcher drops replayed entries at or
// below it. Errors worth retrying are marked with ErrTransient.
package downstream
