// Package table keeps key/value tables as streams of mutations and
// materializes each into a Pebble view.
//
// Writers append Ops to the table's stream. Sync replays the stream from the
// view's applied cursor, so every node converges on the same view by reading
// the shared log. Malformed entries are skipped and counted.
package table

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"go.uber.org/multierr"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("table: key not found")

func viewPrefix(id uuid.UUID) []byte {
	b := append([]byte("tview/"), id[:]...)
	return append(b, '/')
}

func keyRowPrefix(id uuid.UUID) []byte { return append(viewPrefix(id), 'k', '/') }

func keyRow(id uuid.UUID, key []byte) []byte { return append(keyRowPrefix(id), key...) }

func keyApplied(id uuid.UUID) []byte { return append(viewPrefix(id), 'm', '/', 'a') }

func keySkipped(id uuid.UUID) []byte { return append(viewPrefix(id), 'm', '/', 's') }

// Table is one materialized table. Methods are safe for concurrent use.
type Table struct {
	info   stream.Info
	env    stream.Env
	db     *pebblestore.DB
	logger logpkg.Logger

	// w appends; st is the view's reader and is replaced on rewind.
	w *stream.Stream

	mu sync.Mutex
	st *stream.Stream
}

// Open opens the table described by info, resuming its view where the last
// Sync left it.
func Open(env stream.Env, db *pebblestore.DB, info stream.Info) (*Table, error) {
	applied, err := loadCursor(db, keyApplied(info.ID))
	if err != nil {
		return nil, err
	}
	if applied.Global < info.StartPosition {
		applied.Global = info.StartPosition
	}
	st, err := stream.Open(env, info.ID, applied)
	if err != nil {
		return nil, err
	}
	w, err := stream.Open(env, info.ID, eventlog.Cursor{})
	if err != nil {
		return nil, err
	}
	logger := env.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Table{
		info:   info,
		env:    env,
		db:     db,
		st:     st,
		w:      w,
		logger: logger.With(logpkg.Component("table"), logpkg.Str("table", info.Namespace+"/"+info.Table)),
	}, nil
}

// Info returns the table's directory record.
func (t *Table) Info() stream.Info { return t.info }

// Put appends a put of key. It is visible after the next Sync.
func (t *Table) Put(ctx context.Context, key, value []byte) (eventlog.Timestamp, error) {
	return t.w.Append(ctx, MarshalOp(Op{Kind: OpPut, Key: key, Value: value}))
}

// Delete appends a delete of key.
func (t *Table) Delete(ctx context.Context, key []byte) (eventlog.Timestamp, error) {
	return t.w.Append(ctx, MarshalOp(Op{Kind: OpDelete, Key: key}))
}

// Sync applies every op up to the stream's current bound and returns how
// many were applied. Ops read before a read error are still applied.
func (t *Table) Sync(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	applied, skipped := 0, uint64(0)
	batch := t.db.NewBatch()
	defer batch.Close()
	var readErr error
	for {
		e, err := t.st.ReadNext(ctx)
		if err != nil {
			readErr = err
			break
		}
		if e == nil {
			break
		}
		op, err := UnmarshalOp(e.Payload)
		if err != nil {
			skipped++
			t.logger.Warn("skipping malformed op", logpkg.Uint64("addr", e.Timestamp.Global), logpkg.Err(err))
			continue
		}
		if op.Kind == OpPut {
			err = batch.Set(keyRow(t.info.ID, op.Key), op.Value, nil)
		} else {
			err = batch.Delete(keyRow(t.info.ID, op.Key), nil)
		}
		if err != nil {
			return 0, t.rewind(err)
		}
		applied++
	}
	if applied == 0 && skipped == 0 {
		return 0, readErr
	}

	pos, err := t.st.CurrentPosition()
	if err != nil {
		return 0, err
	}
	if err := batch.Set(keyApplied(t.info.ID), encodeCursor(pos), nil); err != nil {
		return 0, t.rewind(err)
	}
	if skipped > 0 {
		prev, err := loadUint64(t.db, keySkipped(t.info.ID))
		if err != nil {
			return 0, t.rewind(err)
		}
		if err := batch.Set(keySkipped(t.info.ID), binary.BigEndian.AppendUint64(nil, prev+skipped), nil); err != nil {
			return 0, t.rewind(err)
		}
	}
	if err := t.db.CommitBatch(ctx, batch); err != nil {
		return 0, t.rewind(fmt.Errorf("apply ops: %w", err))
	}
	return applied, readErr
}

// rewind reopens the stream at the persisted cursor after a failed apply so
// the unapplied ops are read again. Callers hold t.mu.
func (t *Table) rewind(cause error) error {
	applied, err := loadCursor(t.db, keyApplied(t.info.ID))
	if err != nil {
		return multierr.Combine(cause, err)
	}
	if applied.Global < t.info.StartPosition {
		applied.Global = t.info.StartPosition
	}
	st, err := stream.Open(t.env, t.info.ID, applied)
	if err != nil {
		return multierr.Combine(cause, err)
	}
	_ = t.st.Close()
	t.st = st
	return cause
}

// Get syncs and returns the value of key.
func (t *Table) Get(ctx context.Context, key []byte) ([]byte, error) {
	if _, err := t.Sync(ctx); err != nil {
		return nil, err
	}
	v, err := t.db.Get(keyRow(t.info.ID, key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Rows returns an iterator over the view in key order. The caller owns it
// and must close it.
func (t *Table) Rows() (*pebblestore.EntryIterator[string, []byte], error) {
	return Rows(t.db, t.info.ID)
}

// Rows opens an iterator over the view of the table with id without opening
// its stream.
func Rows(db *pebblestore.DB, id uuid.UUID) (*pebblestore.EntryIterator[string, []byte], error) {
	return pebblestore.NewEntryIterator(db, keyRowPrefix(id), pebblestore.StringDecoder, pebblestore.BytesDecoder)
}

// Stats describes a view.
type Stats struct {
	Rows    int
	Applied eventlog.Cursor
	Skipped uint64
}

// ViewStats reads the stats of the view of id.
func ViewStats(db *pebblestore.DB, id uuid.UUID) (Stats, error) {
	var st Stats
	var err error
	if st.Applied, err = loadCursor(db, keyApplied(id)); err != nil {
		return st, err
	}
	if st.Skipped, err = loadUint64(db, keySkipped(id)); err != nil {
		return st, err
	}
	it, err := Rows(db, id)
	if err != nil {
		return st, err
	}
	defer it.Close()
	for {
		_, ok, err := it.Next()
		if err != nil {
			return st, err
		}
		if !ok {
			return st, nil
		}
		st.Rows++
	}
}

// DropView removes the materialized view of id.
func DropView(ctx context.Context, db *pebblestore.DB, id uuid.UUID) error {
	prefix := viewPrefix(id)
	return db.DeleteRange(ctx, prefix, pebblestore.PrefixUpperBound(prefix))
}

// Close closes the table's stream.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.w.Close()
	return t.st.Close()
}

func encodeCursor(c eventlog.Cursor) []byte {
	b := binary.BigEndian.AppendUint64(nil, c.Global)
	return binary.BigEndian.AppendUint64(b, c.Local)
}

func loadCursor(db *pebblestore.DB, key []byte) (eventlog.Cursor, error) {
	b, err := db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return eventlog.Cursor{}, nil
	}
	if err != nil {
		return eventlog.Cursor{}, err
	}
	if len(b) < 16 {
		return eventlog.Cursor{}, fmt.Errorf("%w: view cursor has %d bytes", pebblestore.ErrUnrecoverable, len(b))
	}
	return eventlog.Cursor{Global: binary.BigEndian.Uint64(b[:8]), Local: binary.BigEndian.Uint64(b[8:])}, nil
}

func loadUint64(db *pebblestore.DB, key []byte) (uint64, error) {
	b, err := db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: counter has %d bytes", pebblestore.ErrUnrecoverable, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
