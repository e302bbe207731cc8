package eventlog

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// trimBatchLimit bounds the number of deletes committed per batch.
const trimBatchLimit = 1024

// Trim reclaims every address up to and including addr. The trim mark moves
// first so concurrent readers observe ErrTrimmed rather than ErrNotWritten
// while deletes are in progress. Addresses at or beyond the tail are never
// trimmed.
func (l *Log) Trim(ctx context.Context, addr uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tail == 0 {
		return nil
	}
	if addr >= l.tail {
		addr = l.tail - 1
	}
	from := l.trimMark
	if addr < from {
		return nil
	}
	if err := l.db.Set(KeyLogMeta(l.name, metaTrim), appendBE8(nil, addr+1)); err != nil {
		return storageErr("trim", err)
	}
	l.trimMark = addr + 1

	reclaimed, err := l.deleteRange(ctx, from, addr)
	if err != nil {
		return err
	}
	l.logger.Info("log unit trimmed",
		logpkg.Uint64("from", from), logpkg.Uint64("to", addr), logpkg.Int64("reclaimed_bytes", reclaimed))
	return nil
}

// deleteRange removes entries in [from, to] in batches, emitting each
// committed batch's range to the trim hook. Callers hold l.mu.
func (l *Log) deleteRange(ctx context.Context, from, to uint64) (int64, error) {
	low := KeyLogEntry(l.name, from)
	hi := KeyLogEntry(l.name, to)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, storageErr("trim", err)
	}
	defer iter.Close()

	var reclaimed int64
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		var minAddr, maxAddr uint64
		var size int64
		for ok && n < trimBatchLimit {
			a := addrFromEntryKey(iter.Key())
			if n == 0 {
				minAddr = a
			}
			maxAddr = a
			size += int64(len(iter.Value()))
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return reclaimed, err
			}
			n++
			ok = iter.Next()
		}
		used := l.bytes - size
		if used < 0 {
			used = 0
		}
		if err := b.Set(KeyLogMeta(l.name, metaBytes), appendBE8(nil, uint64(used)), nil); err != nil {
			b.Close()
			return reclaimed, err
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return reclaimed, storageErr("trim", err)
		}
		b.Close()
		l.bytes = used
		reclaimed += size
		l.hook.EmitTrimRange(l.name, minAddr, maxAddr)
	}
	if err := iter.Error(); err != nil {
		return reclaimed, fmt.Errorf("%w: trim scan: %v", ErrUnrecoverable, err)
	}
	return reclaimed, nil
}

// RequestTrim records that stream no longer needs addresses up to and
// including addr. Requests never move backwards.
func (l *Log) RequestTrim(stream uuid.UUID, addr uint64) error {
	key := KeyTrimRequest(l.name, stream)
	prev, err := l.db.Get(key)
	if err == nil && len(prev) >= 8 && binary.BigEndian.Uint64(prev) >= addr {
		return nil
	}
	return storageErr("request trim", l.db.Set(key, appendBE8(nil, addr)))
}

// TrimRequests returns every stream's recorded trim request.
func (l *Log) TrimRequests() (map[uuid.UUID]uint64, error) {
	it, err := pebblestore.NewEntryIterator(l.db, KeyTrimRequestPrefix(l.name),
		func(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) },
		func(b []byte) (uint64, error) {
			if len(b) < 8 {
				return 0, fmt.Errorf("trim request has %d bytes", len(b))
			}
			return binary.BigEndian.Uint64(b), nil
		})
	if err != nil {
		return nil, storageErr("trim requests", err)
	}
	defer it.Close()

	out := make(map[uuid.UUID]uint64)
	for {
		kv, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out[kv.Key] = kv.Value
	}
}

// TrimFloor returns the highest address every listed stream has released.
// ok is false when some stream has no request recorded.
func TrimFloor(requests map[uuid.UUID]uint64, streams []uuid.UUID) (floor uint64, ok bool) {
	if len(streams) == 0 {
		return 0, false
	}
	for i, s := range streams {
		addr, found := requests[s]
		if !found {
			return 0, false
		}
		if i == 0 || addr < floor {
			floor = addr
		}
	}
	return floor, true
}
