package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// DefaultLogName names the log unit when Options.Name is empty.
const DefaultLogName = "main"

// Options configures a Pebble-backed log unit.
type Options struct {
	// Name isolates this unit's keys inside a shared Pebble instance.
	Name string
	// CapacityBytes bounds the stored entry bytes. Zero means unbounded.
	CapacityBytes int64
	// TrimHook observes trimmed ranges. Optional.
	TrimHook TrimHook
	Logger   logpkg.Logger
}

// Log is a durable write-once address space backed by Pebble.
type Log struct {
	db       *pebblestore.DB
	name     string
	capacity int64
	logger   logpkg.Logger

	mu       sync.Mutex
	tail     uint64
	trimMark uint64
	epoch    uint64
	bytes    int64
	notifyCh chan struct{}
	hook     TrimHook
}

var _ AddressSpace = (*Log)(nil)

// OpenLog initializes a Log and loads its metadata (if any).
func OpenLog(db *pebblestore.DB, opts Options) (*Log, error) {
	if opts.Name == "" {
		opts.Name = DefaultLogName
	}
	if opts.TrimHook == nil {
		opts.TrimHook = noopTrimHook{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	l := &Log{
		db:       db,
		name:     opts.Name,
		capacity: opts.CapacityBytes,
		logger:   opts.Logger.WithComponent("eventlog").With(logpkg.Str("log", opts.Name)),
		notifyCh: make(chan struct{}),
		hook:     opts.TrimHook,
	}
	for field, dst := range map[string]*uint64{metaTail: &l.tail, metaTrim: &l.trimMark, metaEpoch: &l.epoch} {
		v, err := l.loadMeta(field)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	b, err := l.loadMeta(metaBytes)
	if err != nil {
		return nil, err
	}
	l.bytes = int64(b)
	l.logger.Debug("log unit opened",
		logpkg.Uint64("tail", l.tail), logpkg.Uint64("trim_mark", l.trimMark), logpkg.Epoch(l.epoch))
	return l, nil
}

func (l *Log) loadMeta(field string) (uint64, error) {
	v, err := l.db.Get(KeyLogMeta(l.name, field))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("load "+field, err)
	}
	if len(v) < 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// Name returns the log unit name.
func (l *Log) Name() string { return l.name }

// Epoch returns the epoch the unit is sealed at.
func (l *Log) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Write stores e at addr exactly once.
func (l *Log) Write(ctx context.Context, addr uint64, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val := MarshalEntry(e)
	key := KeyLogEntry(l.name, addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkEpoch(l.epoch, e.Epoch); err != nil {
		return err
	}
	if addr < l.trimMark {
		return ErrTrimmed
	}
	exists, err := l.db.Has(key)
	if err != nil {
		return storageErr("write", err)
	}
	if exists {
		return ErrOverwrite
	}
	// Holes are never refused: they release addresses whose writes failed.
	if l.capacity > 0 && e.Type != EntryHole && l.bytes+int64(len(val)) > l.capacity {
		return ErrOutOfSpace
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return err
	}
	tail := l.tail
	if addr >= tail {
		tail = addr + 1
		if err := b.Set(KeyLogMeta(l.name, metaTail), appendBE8(nil, tail), nil); err != nil {
			return err
		}
	}
	bytes := l.bytes + int64(len(val))
	if err := b.Set(KeyLogMeta(l.name, metaBytes), appendBE8(nil, uint64(bytes)), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return storageErr("write", err)
	}
	l.tail, l.bytes = tail, bytes

	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return nil
}

// Read returns the entry at addr.
func (l *Log) Read(ctx context.Context, addr uint64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if addr < l.loadTrimMark() {
		return Entry{}, ErrTrimmed
	}
	val, err := l.db.Get(KeyLogEntry(l.name, addr))
	if errors.Is(err, pebblestore.ErrNotFound) {
		if addr < l.loadTrimMark() {
			return Entry{}, ErrTrimmed
		}
		return Entry{}, ErrNotWritten
	}
	if err != nil {
		return Entry{}, storageErr("read", err)
	}
	e, err := UnmarshalEntry(val)
	if err != nil {
		l.logger.Error("corrupt entry", logpkg.Uint64("addr", addr), logpkg.Err(err))
		return Entry{}, err
	}
	return e, nil
}

func (l *Log) loadTrimMark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimMark
}

// Tail returns one past the highest written address.
func (l *Log) Tail(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if l.db.Closed() {
		return 0, storageErr("tail", pebblestore.ErrClosed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail, nil
}

// TrimMark returns the lowest untrimmed address.
func (l *Log) TrimMark(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.loadTrimMark(), nil
}

// UsedBytes returns the stored entry bytes counted against capacity.
func (l *Log) UsedBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Seal moves the unit to epoch. Sealing at the current epoch is a no-op.
func (l *Log) Seal(ctx context.Context, epoch uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := checkSeal(l.epoch, epoch); err != nil {
		return err
	}
	if epoch == l.epoch {
		return nil
	}
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyLogMeta(l.name, metaEpoch), appendBE8(nil, epoch), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return storageErr("seal", err)
	}
	l.logger.Info("log unit sealed", logpkg.Uint64("from", l.epoch), logpkg.Epoch(epoch))
	l.epoch = epoch
	return nil
}
