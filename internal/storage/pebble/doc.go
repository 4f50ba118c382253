// Package pebblestore is the local Pebble store behind the upstream change
// log. Writes go through batches committed under one fsync mode, and every
// read and commit is reported to a MetricsHook.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	b := db.NewBatch()
//	defer b.Close()
//	_ = b.Set(key, value, nil)
//	err = db.CommitBatch(ctx, b)
package pebblestore
