package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"

	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

// CommitCursor durably stores a reader's cursor idempotently. A cursor behind
// the stored one is ignored.
func (l *Log) CommitCursor(owner string, c Cursor) error {
	key := KeyCursor(l.name, owner)
	prev, ok, err := l.GetCursor(owner)
	if err != nil {
		return err
	}
	if ok && !prev.Before(c) {
		return nil
	}
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], c.Global)
	binary.BigEndian.PutUint64(b[8:], c.Local)
	return storageErr("commit cursor", l.db.Set(key, b[:]))
}

// GetCursor loads the stored cursor for owner.
func (l *Log) GetCursor(owner string) (Cursor, bool, error) {
	cur, err := l.db.Get(KeyCursor(l.name, owner))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, storageErr("get cursor", err)
	}
	if len(cur) < 16 {
		return Cursor{}, false, fmt.Errorf("%w: cursor %q has %d bytes", ErrUnrecoverable, owner, len(cur))
	}
	return Cursor{
		Global: binary.BigEndian.Uint64(cur[:8]),
		Local:  binary.BigEndian.Uint64(cur[8:16]),
	}, true, nil
}
