// Package eventlog implements the write-once address space of the shared log.
//
// # Overview
//
// Every global address holds at most one Entry, written once and never
// rewritten. Two implementations share the AddressSpace contract: Log, which
// persists entries in Pebble, and MemoryLog, an in-memory skip list used for
// tests and single-process setups.
//
// Pebble keys are lexicographically ordered for range scans:
//   - log/{log}/m/{field}        (tail, trim mark, sealed epoch, used bytes)
//   - log/{log}/e/{addr_be8}     (entries)
//   - log/{log}/cursor/{owner}   (durable reader checkpoints)
//   - log/{log}/trimreq/{stream} (per-stream trim requests)
//
// Stored values are frames: uvarint(len(header)) | header | body | crc32c,
// where header is a protobuf message describing the entry and body holds the
// concatenated record payloads.
//
// API surface (internal)
//
//	l, _ := OpenLog(db, Options{Name: "main", CapacityBytes: 1 << 30})
//	_ = l.Seal(ctx, 1)
//	err := l.Write(ctx, 0, Entry{Epoch: 1, Records: []Record{{Stream: id, Payload: p}}})
//	// a second write to 0 fails ErrOverwrite
//	e, err := l.Read(ctx, 0)        // ErrTrimmed / ErrNotWritten otherwise
//	page, _ := l.Scan(ctx, ScanOptions{Start: 0, Limit: 100})
//	woke := l.WaitForAppend(200 * time.Millisecond)
//	_ = l.CommitCursor("reader", Cursor{Global: 1, Local: 1})
//	_ = l.Trim(ctx, 0)              // prefix trim, emits TrimHook ranges
//
// # Epochs
//
// A unit accepts writes only for the epoch it is sealed at; anything else
// fails with *WrongEpochError carrying the unit's epoch. Reads are not
// epoch-checked.
package eventlog
