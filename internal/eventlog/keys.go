package eventlog

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{log}/m/{field}            (log unit metadata: tail, trim mark, epoch, bytes)
// - log/{log}/e/{addr_be8}         (entries)
// - log/{log}/cursor/{owner}       (durable reader checkpoints)
// - log/{log}/trimreq/{stream}     (per-stream trim requests)

var (
	logPrefix  = []byte("log/")
	metaSeg    = []byte("/m/")
	entrySeg   = []byte("/e/")
	cursorSeg  = []byte("/cursor/")
	trimReqSeg = []byte("/trimreq/")
)

// Metadata fields.
const (
	metaTail  = "tail"
	metaTrim  = "trim"
	metaEpoch = "epoch"
	metaBytes = "bytes"
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func logKey(log string, seg []byte, extra int) []byte {
	k := make([]byte, 0, len(logPrefix)+len(log)+len(seg)+extra)
	k = append(k, logPrefix...)
	k = append(k, log...)
	return append(k, seg...)
}

// KeyLogMeta builds a metadata key for the log unit.
func KeyLogMeta(log, field string) []byte {
	return append(logKey(log, metaSeg, len(field)), field...)
}

// KeyLogEntryPrefix is the common prefix of every entry key of log.
func KeyLogEntryPrefix(log string) []byte {
	return logKey(log, entrySeg, 0)
}

// KeyLogEntry builds the entry key with a big-endian address for ordering.
func KeyLogEntry(log string, addr uint64) []byte {
	return appendBE8(logKey(log, entrySeg, 8), addr)
}

// addrFromEntryKey extracts the address suffix of an entry key.
func addrFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// KeyCursor builds the durable checkpoint key for a reader.
func KeyCursor(log, owner string) []byte {
	return append(logKey(log, cursorSeg, len(owner)), owner...)
}

// KeyTrimRequestPrefix is the common prefix of every trim request of log.
func KeyTrimRequestPrefix(log string) []byte {
	return logKey(log, trimReqSeg, 0)
}

// KeyTrimRequest builds the key holding one stream's requested trim mark.
func KeyTrimRequest(log string, stream uuid.UUID) []byte {
	return append(logKey(log, trimReqSeg, 16), stream[:]...)
}

