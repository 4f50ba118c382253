// Package bridge owns the replication pipeline:
//
//	reader -> decode -> filter -> route -> translate -> dispatch -> checkpoint
//
// One goroutine reads, decodes and batches records. A batch is flushed when
// it holds MaxBatchRecords records or MaxBatchBytes of keys and operands, or
// when the reader reports the end of the log. The checkpoint is saved only
// after the dispatcher confirms the whole batch, so it never passes an
// unconfirmed record. Skipped records (malformed under the skip policy,
// filtered out, unroutable namespace) still advance the checkpoint.
//
// On shutdown the pending batch is flushed under DrainTimeout with a fresh
// context. If that fails the checkpoint stays where it was and the batch is
// replayed on the next start; position markers downstream keep the replay
// from re-applying commands.
package bridge
