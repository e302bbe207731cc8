// Package stream multiplexes logical streams onto the shared address space.
//
// A Stream appends through the sequencer, which reserves one global address
// and the stream's next local sequence, and then writes the entry tagged with
// the stream's ID. Readers walk the address space from their cursor up to the
// stream's sequencer bound, skipping holes and entries of other streams.
// Cursors are never persisted implicitly; callers use Checkpoint and
// FromCheckpoint when they want resumption across opens.
//
// The Directory maps namespace/table names to stream IDs and announces newly
// created streams to peers.
package stream
