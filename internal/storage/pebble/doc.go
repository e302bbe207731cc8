// Package pebblestore wraps Pebble with an fsync policy, batches, metrics
// hooks, and a single-owner typed prefix iterator.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	it, _ := pebblestore.NewEntryIterator(db, []byte("tbl/"),
//	    pebblestore.StringDecoder, pebblestore.BytesDecoder)
//	defer it.Close()
//	for {
//	    kv, ok, err := it.Next()
//	    if err != nil || !ok { break }
//	    _ = kv
//	}
package pebblestore
