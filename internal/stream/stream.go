package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/sequencer"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// ErrClosed is returned by every operation on a closed Stream.
var ErrClosed = eventlog.ErrClosed

// CursorStore persists named cursors. *eventlog.Log implements it.
type CursorStore interface {
	CommitCursor(owner string, c eventlog.Cursor) error
	GetCursor(owner string) (eventlog.Cursor, bool, error)
}

// TrimRequester records advisory trim marks. *eventlog.Log implements it.
type TrimRequester interface {
	RequestTrim(stream uuid.UUID, addr uint64) error
}

// Env is the shared machinery every stream of a node uses.
type Env struct {
	Sequencer sequencer.Sequencer
	Log       eventlog.AddressSpace
	// Epoch returns the epoch appends are tagged with.
	Epoch func() uint64
	// Filler reads addresses below the sequencer bound. Defaults to a
	// HoleFiller over Log.
	Filler       *eventlog.HoleFiller
	Cursors      CursorStore
	TrimRequests TrimRequester
	Logger       logpkg.Logger
}

func (env *Env) init() error {
	if env.Sequencer == nil || env.Log == nil {
		return errors.New("stream: env needs a sequencer and an address space")
	}
	if env.Epoch == nil {
		env.Epoch = func() uint64 { return 0 }
	}
	if env.Filler == nil {
		env.Filler = eventlog.NewHoleFiller(env.Log, eventlog.HoleFillOptions{Epoch: env.Epoch, Logger: env.Logger})
	}
	if env.Logger == nil {
		env.Logger = logpkg.NewNopLogger()
	}
	return nil
}

// Entry is one record read from a stream.
type Entry struct {
	Timestamp eventlog.Timestamp
	Payload   []byte
	// Streams lists every stream the underlying log entry was written to.
	Streams []uuid.UUID
}

// Stream is a logical sub-log. Reads are single-owner: ReadNext, Seek and
// CurrentPosition must not be called concurrently. Appends may be.
type Stream struct {
	id     uuid.UUID
	env    Env
	logger logpkg.Logger

	cursor eventlog.Cursor
	// bound caches the last sequencer bound seen by this instance.
	bound  atomic.Uint64
	closed atomic.Bool
}

// Open returns a stream whose cursor starts at start.
func Open(env Env, id uuid.UUID, start eventlog.Cursor) (*Stream, error) {
	if err := env.init(); err != nil {
		return nil, err
	}
	return &Stream{
		id:     id,
		env:    env,
		cursor: start,
		logger: env.Logger.With(logpkg.Component("stream"), logpkg.Str("stream", id.String())),
	}, nil
}

// FromCheckpoint opens id at the cursor last stored under name, or at the
// start of the log when none was stored.
func FromCheckpoint(env Env, id uuid.UUID, name string) (*Stream, error) {
	if env.Cursors == nil {
		return nil, errors.New("stream: env has no cursor store")
	}
	c, _, err := env.Cursors.GetCursor(checkpointOwner(id, name))
	if err != nil {
		return nil, err
	}
	return Open(env, id, c)
}

func checkpointOwner(id uuid.UUID, name string) string {
	return "stream/" + id.String() + "/" + name
}

// ID returns the stream identifier.
func (s *Stream) ID() uuid.UUID { return s.id }

func (s *Stream) observeBound(b uint64) {
	for {
		cur := s.bound.Load()
		if b <= cur || s.bound.CompareAndSwap(cur, b) {
			return
		}
	}
}

// Append writes payload as the stream's next entry and returns its
// timestamp.
func (s *Stream) Append(ctx context.Context, payload []byte) (eventlog.Timestamp, error) {
	if s.closed.Load() {
		return eventlog.Timestamp{}, ErrClosed
	}
	ts, err := appendRecords(ctx, &s.env, map[uuid.UUID][]byte{s.id: payload})
	if err != nil {
		return eventlog.Timestamp{}, err
	}
	s.observeBound(ts[s.id].Global + 1)
	return ts[s.id], nil
}

// ReadNext returns the next entry of the stream, or nil when the cursor has
// reached the stream's bound. A trimmed address fails ErrTrimmed and leaves
// the cursor where it was; use Seek to move past it.
func (s *Stream) ReadNext(ctx context.Context) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	bound, err := s.env.Sequencer.Current(ctx, s.id)
	if err != nil {
		return nil, err
	}
	s.observeBound(bound)

	for s.cursor.Global < bound {
		addr := s.cursor.Global
		e, err := s.env.Filler.ReadOrFill(ctx, addr)
		if err != nil {
			return nil, err
		}
		s.cursor.Global++
		if e.IsHole() {
			continue
		}
		rec, ok := e.Record(s.id)
		if !ok {
			continue
		}
		s.cursor.Local = rec.Seq + 1
		return &Entry{
			Timestamp: eventlog.Timestamp{Epoch: e.Epoch, Global: addr, Local: rec.Seq},
			Payload:   rec.Payload,
			Streams:   e.Streams(),
		}, nil
	}
	return nil, nil
}

// ReadAll drains the stream up to its current bound.
func (s *Stream) ReadAll(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for {
		e, err := s.ReadNext(ctx)
		if err != nil {
			return out, err
		}
		if e == nil {
			return out, nil
		}
		out = append(out, *e)
	}
}

// Check returns the stream's bound: one past the last global address issued
// to it. With useCache the last bound this instance observed is returned
// without contacting the sequencer, flagged NonLinearizable.
func (s *Stream) Check(ctx context.Context, useCache bool) (eventlog.Timestamp, error) {
	if s.closed.Load() {
		return eventlog.Timestamp{}, ErrClosed
	}
	if useCache {
		return eventlog.Timestamp{Epoch: s.env.Epoch(), Global: s.bound.Load(), NonLinearizable: true}, nil
	}
	bound, err := s.env.Sequencer.Current(ctx, s.id)
	if err != nil {
		return eventlog.Timestamp{}, err
	}
	s.observeBound(bound)
	return eventlog.Timestamp{Epoch: s.env.Epoch(), Global: bound}, nil
}

// CurrentPosition returns the read cursor. It is a progress marker only.
func (s *Stream) CurrentPosition() (eventlog.Cursor, error) {
	if s.closed.Load() {
		return eventlog.Cursor{}, ErrClosed
	}
	return s.cursor, nil
}

// Seek moves the cursor forward to global. Seeking backwards is a no-op.
func (s *Stream) Seek(global uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if global > s.cursor.Global {
		s.cursor.Global = global
	}
	return nil
}

// Trim asks that addresses up to and including ts may be reclaimed. It is
// advisory: reclamation happens once every stream's request covers the
// range.
func (s *Stream) Trim(ctx context.Context, ts eventlog.Timestamp) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.env.TrimRequests == nil {
		return nil
	}
	if err := s.env.TrimRequests.RequestTrim(s.id, ts.Global); err != nil {
		return fmt.Errorf("request trim: %w", err)
	}
	s.logger.Debug("trim requested", logpkg.Uint64("addr", ts.Global))
	return nil
}

// Checkpoint durably stores the cursor under name. A checkpoint never moves
// backwards.
func (s *Stream) Checkpoint(name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.env.Cursors == nil {
		return errors.New("stream: env has no cursor store")
	}
	return s.env.Cursors.CommitCursor(checkpointOwner(s.id, name), s.cursor)
}

// Close releases the stream. Later calls fail ErrClosed; closing twice is
// harmless.
func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}
