package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/sequencer"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func memoryEnv() Env {
	return Env{Sequencer: sequencer.NewServer(sequencer.Options{}), Log: eventlog.NewMemoryLog(0)}
}

func pebbleEnv(t *testing.T) (Env, *eventlog.Log) {
	t.Helper()
	l, err := eventlog.OpenLog(openTestDB(t), eventlog.Options{})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return Env{
		Sequencer:    sequencer.NewServer(sequencer.Options{}),
		Log:          l,
		Cursors:      l,
		TrimRequests: l,
	}, l
}

func mustOpen(t *testing.T, env Env, id uuid.UUID) *Stream {
	t.Helper()
	s, err := Open(env, id, eventlog.Cursor{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	return s
}

func TestAppendReadCatchUp(t *testing.T) {
	ctx := context.Background()
	s := mustOpen(t, memoryEnv(), uuid.New())

	e, err := s.ReadNext(ctx)
	if err != nil || e != nil {
		t.Fatalf("empty stream: got %v, %v", e, err)
	}
	ts, err := s.Append(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ts.Global != 0 || ts.Local != 0 || ts.NonLinearizable {
		t.Fatalf("timestamp: %+v", ts)
	}
	e, err = s.ReadNext(ctx)
	if err != nil || e == nil {
		t.Fatalf("read: %v, %v", e, err)
	}
	if string(e.Payload) != "x" || !e.Timestamp.Equal(ts) {
		t.Fatalf("entry: %+v", e)
	}
	e, err = s.ReadNext(ctx)
	if err != nil || e != nil {
		t.Fatalf("caught up: got %v, %v", e, err)
	}
}

func TestReadSkipsOtherStreams(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	a := mustOpen(t, env, uuid.New())
	b := mustOpen(t, env, uuid.New())

	for _, step := range []struct {
		s   *Stream
		val string
	}{{a, "a1"}, {b, "b1"}, {b, "b2"}, {a, "a2"}} {
		if _, err := step.s.Append(ctx, []byte(step.val)); err != nil {
			t.Fatalf("append %s: %v", step.val, err)
		}
	}

	got, err := a.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != 2 || string(got[0].Payload) != "a1" || string(got[1].Payload) != "a2" {
		t.Fatalf("stream a: %+v", got)
	}
	if got[1].Timestamp.Global != 3 || got[1].Timestamp.Local != 1 {
		t.Fatalf("a2 timestamp: %+v", got[1].Timestamp)
	}
	pos, _ := a.CurrentPosition()
	if pos.Global != 4 || pos.Local != 2 {
		t.Fatalf("position: %v", pos)
	}

	got, err = b.ReadAll(ctx)
	if err != nil || len(got) != 2 || string(got[0].Payload) != "b1" {
		t.Fatalf("stream b: %+v, %v", got, err)
	}
}

func TestReadNeverRewinds(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	s := mustOpen(t, env, uuid.New())
	var last uint64
	for i := 0; i < 10; i++ {
		if _, err := s.Append(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
		e, err := s.ReadNext(ctx)
		if err != nil || e == nil {
			t.Fatalf("read %d: %v, %v", i, e, err)
		}
		if i > 0 && e.Timestamp.Global <= last {
			t.Fatalf("read went backwards: %d after %d", e.Timestamp.Global, last)
		}
		last = e.Timestamp.Global
	}
	if err := s.Seek(0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos, _ := s.CurrentPosition(); pos.Global != 10 {
		t.Fatalf("seek backwards moved cursor to %v", pos)
	}
}

func TestReopenStartsWhereOpenerSays(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	id := uuid.New()
	s := mustOpen(t, env, id)
	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, []byte(v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s2, err := Open(env, id, eventlog.Cursor{Global: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := s2.ReadAll(ctx)
	if err != nil || len(got) != 1 || string(got[0].Payload) != "c" {
		t.Fatalf("reopened: %+v, %v", got, err)
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	s := mustOpen(t, env, uuid.New())
	other := mustOpen(t, env, uuid.New())

	ts, err := s.Append(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := other.Append(ctx, []byte("y")); err != nil {
		t.Fatalf("append other: %v", err)
	}

	fresh, err := s.Check(ctx, false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if fresh.Global != ts.Global+1 || fresh.NonLinearizable {
		t.Fatalf("fresh check: %+v", fresh)
	}

	// Another instance appends; the cached bound of s does not see it.
	s2 := mustOpen(t, env, s.ID())
	if _, err := s2.Append(ctx, []byte("z")); err != nil {
		t.Fatalf("append: %v", err)
	}
	cached, err := s.Check(ctx, true)
	if err != nil {
		t.Fatalf("cached check: %v", err)
	}
	if !cached.NonLinearizable || cached.Global != fresh.Global {
		t.Fatalf("cached check: %+v", cached)
	}
	if cached.Equal(fresh) {
		t.Fatal("cached timestamp compares equal to a linearizable one")
	}
	fresh, _ = s.Check(ctx, false)
	if fresh.Global != 3 {
		t.Fatalf("fresh after remote append: %+v", fresh)
	}
}

func TestAppendTx(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	a, b := mustOpen(t, env, uuid.New()), mustOpen(t, env, uuid.New())

	ts, err := AppendTx(ctx, env, map[uuid.UUID][]byte{a.ID(): []byte("for-a"), b.ID(): []byte("for-b")})
	if err != nil {
		t.Fatalf("append tx: %v", err)
	}
	if ts[a.ID()].Global != ts[b.ID()].Global {
		t.Fatalf("tx split across addresses: %+v", ts)
	}
	ea, err := a.ReadNext(ctx)
	if err != nil || ea == nil || string(ea.Payload) != "for-a" || len(ea.Streams) != 2 {
		t.Fatalf("a: %+v, %v", ea, err)
	}
	eb, err := b.ReadNext(ctx)
	if err != nil || eb == nil || string(eb.Payload) != "for-b" {
		t.Fatalf("b: %+v, %v", eb, err)
	}
	if _, err := AppendTx(ctx, env, nil); err == nil {
		t.Fatal("empty tx accepted")
	}
}

func TestClosedStreamFails(t *testing.T) {
	ctx := context.Background()
	s := mustOpen(t, memoryEnv(), uuid.New())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Append(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
	if _, err := s.ReadNext(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
	if _, err := s.Check(ctx, true); !errors.Is(err, ErrClosed) {
		t.Fatalf("check after close: %v", err)
	}
	if _, err := s.CurrentPosition(); !errors.Is(err, ErrClosed) {
		t.Fatalf("position after close: %v", err)
	}
	if err := s.Trim(ctx, eventlog.Timestamp{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("trim after close: %v", err)
	}
}

func TestOutOfSpacePropagates(t *testing.T) {
	env := Env{Sequencer: sequencer.NewServer(sequencer.Options{}), Log: eventlog.NewMemoryLog(20)}
	s := mustOpen(t, env, uuid.New())
	_, err := s.Append(context.Background(), make([]byte, 64))
	if !errors.Is(err, eventlog.ErrOutOfSpace) {
		t.Fatalf("want ErrOutOfSpace, got %v", err)
	}
}

func TestFullLogStillFillsFailedAppend(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	// Size one entry so the log holds exactly that much.
	scratch, used := pebbleEnv(t)
	if _, err := mustOpen(t, scratch, id).Append(ctx, []byte("a")); err != nil {
		t.Fatalf("scratch append: %v", err)
	}
	l, err := eventlog.OpenLog(openTestDB(t), eventlog.Options{CapacityBytes: used.UsedBytes()})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	env := Env{
		Sequencer: sequencer.NewServer(sequencer.Options{}),
		Log:       l,
		Filler:    eventlog.NewHoleFiller(l, eventlog.HoleFillOptions{Timeout: 20 * time.Millisecond, Poll: time.Millisecond}),
	}
	s := mustOpen(t, env, id)
	if _, err := s.Append(ctx, []byte("a")); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if _, err := s.Append(ctx, make([]byte, 256)); !errors.Is(err, eventlog.ErrOutOfSpace) {
		t.Fatalf("want ErrOutOfSpace, got %v", err)
	}

	reader := mustOpen(t, env, id)
	e, err := reader.ReadNext(ctx)
	if err != nil || e == nil || string(e.Payload) != "a" {
		t.Fatalf("first read: %+v, %v", e, err)
	}
	for i := 0; i < 3; i++ {
		e, err := reader.ReadNext(ctx)
		if err != nil || e != nil {
			t.Fatalf("read %d after failed append: %+v, %v", i, e, err)
		}
	}
	hole, err := l.Read(ctx, 1)
	if err != nil || !hole.IsHole() {
		t.Fatalf("address 1: %+v, %v", hole, err)
	}
}

func TestStaleEpochRejected(t *testing.T) {
	seq := sequencer.NewServer(sequencer.Options{Epoch: 2})
	env := Env{Sequencer: seq, Log: eventlog.NewMemoryLog(0), Epoch: func() uint64 { return 1 }}
	s := mustOpen(t, env, uuid.New())
	_, err := s.Append(context.Background(), []byte("x"))
	if epoch, ok := eventlog.CurrentEpoch(err); !ok || epoch != 2 {
		t.Fatalf("want wrong epoch 2, got %v", err)
	}
}

func TestReaderFillsAbandonedAddress(t *testing.T) {
	ctx := context.Background()
	seq := sequencer.NewServer(sequencer.Options{})
	log := eventlog.NewMemoryLog(0)
	env := Env{
		Sequencer: seq,
		Log:       log,
		Filler:    eventlog.NewHoleFiller(log, eventlog.HoleFillOptions{Timeout: 20 * time.Millisecond, Poll: time.Millisecond}),
	}
	id := uuid.New()
	// A writer reserves address 0 for the stream and never writes it.
	if _, err := seq.Next(ctx, 0, id); err != nil {
		t.Fatalf("next: %v", err)
	}
	s := mustOpen(t, env, id)
	if _, err := s.Append(ctx, []byte("after")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.ReadAll(ctx)
	if err != nil || len(got) != 1 || string(got[0].Payload) != "after" {
		t.Fatalf("read: %+v, %v", got, err)
	}
	e, err := log.Read(ctx, 0)
	if err != nil || !e.IsHole() {
		t.Fatalf("address 0: %+v, %v", e, err)
	}
}

func TestTrimmedReadDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	env, l := pebbleEnv(t)
	s := mustOpen(t, env, uuid.New())
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Trim(ctx, 1); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if _, err := s.ReadNext(ctx); !errors.Is(err, eventlog.ErrTrimmed) {
		t.Fatalf("want ErrTrimmed, got %v", err)
	}
	if pos, _ := s.CurrentPosition(); pos.Global != 0 {
		t.Fatalf("cursor moved on trimmed read: %v", pos)
	}
	mark, _ := l.TrimMark(ctx)
	if err := s.Seek(mark); err != nil {
		t.Fatalf("seek: %v", err)
	}
	e, err := s.ReadNext(ctx)
	if err != nil || e == nil || e.Payload[0] != 2 {
		t.Fatalf("after seek: %+v, %v", e, err)
	}
}

func TestTrimRequestIsAdvisory(t *testing.T) {
	ctx := context.Background()
	env, l := pebbleEnv(t)
	s := mustOpen(t, env, uuid.New())
	ts, err := s.Append(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Trim(ctx, ts); err != nil {
		t.Fatalf("trim: %v", err)
	}
	reqs, err := l.TrimRequests()
	if err != nil {
		t.Fatalf("trim requests: %v", err)
	}
	if addr, ok := reqs[s.ID()]; !ok || addr != ts.Global {
		t.Fatalf("requests: %v", reqs)
	}
	if mark, _ := l.TrimMark(ctx); mark != 0 {
		t.Fatalf("trim request reclaimed addresses: mark %d", mark)
	}
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	env, _ := pebbleEnv(t)
	id := uuid.New()
	s := mustOpen(t, env, id)
	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, []byte(v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.ReadNext(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := s.Checkpoint("reader"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	resumed, err := FromCheckpoint(env, id, "reader")
	if err != nil {
		t.Fatalf("from checkpoint: %v", err)
	}
	got, err := resumed.ReadAll(ctx)
	if err != nil || len(got) != 2 || string(got[0].Payload) != "b" {
		t.Fatalf("resumed: %+v, %v", got, err)
	}

	fresh, err := FromCheckpoint(env, id, "other")
	if err != nil {
		t.Fatalf("from missing checkpoint: %v", err)
	}
	if pos, _ := fresh.CurrentPosition(); pos.Global != 0 {
		t.Fatalf("missing checkpoint starts at %v", pos)
	}
}

func TestConcurrentAppendsDistinct(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	id := uuid.New()
	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := Open(env, id, eventlog.Cursor{})
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			if _, err := s.Append(ctx, []byte{byte(i)}); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := mustOpen(t, env, id).ReadAll(ctx)
	if err != nil || len(got) != writers {
		t.Fatalf("read %d entries, %v", len(got), err)
	}
	for i, e := range got {
		if e.Timestamp.Local != uint64(i) {
			t.Fatalf("entry %d has local %d", i, e.Timestamp.Local)
		}
	}
}
