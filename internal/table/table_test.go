package table

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/sequencer"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
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

func newEnv() stream.Env {
	return stream.Env{Sequencer: sequencer.NewServer(sequencer.Options{}), Log: eventlog.NewMemoryLog(0)}
}

func info(ns, name string) stream.Info {
	return stream.Info{ID: stream.TableID(ns, name), Namespace: ns, Table: name}
}

func TestOpRoundTrip(t *testing.T) {
	for _, op := range []Op{
		{Kind: OpPut, Key: []byte("k"), Value: []byte("v")},
		{Kind: OpPut, Key: []byte("k"), Value: []byte{}},
		{Kind: OpDelete, Key: []byte("k")},
	} {
		got, err := UnmarshalOp(MarshalOp(op))
		if err != nil {
			t.Fatalf("unmarshal %v: %v", op.Kind, err)
		}
		if got.Kind != op.Kind || !bytes.Equal(got.Key, op.Key) || !bytes.Equal(got.Value, op.Value) {
			t.Fatalf("round trip: %+v != %+v", got, op)
		}
	}
	if _, err := UnmarshalOp([]byte("not an op")); err == nil {
		t.Fatal("garbage decoded")
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tbl, err := Open(newEnv(), db, info("default", "users"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tbl.Close()

	if _, err := tbl.Put(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := tbl.Put(ctx, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := tbl.Put(ctx, []byte("a"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := tbl.Get(ctx, []byte("a"))
	if err != nil || string(v) != "3" {
		t.Fatalf("get a: %q, %v", v, err)
	}
	if _, err := tbl.Delete(ctx, []byte("b")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tbl.Get(ctx, []byte("b")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted: %v", err)
	}

	st, err := ViewStats(db, tbl.Info().ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Rows != 1 || st.Applied.Global != 4 || st.Skipped != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestViewResumesAfterReopen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	env := newEnv()
	inf := info("default", "orders")

	tbl, err := Open(env, db, inf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tbl.Put(ctx, []byte("x"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if n, err := tbl.Sync(ctx); err != nil || n != 1 {
		t.Fatalf("sync: %d, %v", n, err)
	}
	_ = tbl.Close()

	tbl, err = Open(env, db, inf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, err := tbl.Sync(ctx); err != nil || n != 0 {
		t.Fatalf("resync applied %d ops, %v", n, err)
	}
	if _, err := tbl.Put(ctx, []byte("y"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if n, err := tbl.Sync(ctx); err != nil || n != 1 {
		t.Fatalf("sync after reopen: %d, %v", n, err)
	}
}

func TestTablesShareLogButNotViews(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	env := newEnv()
	a, err := Open(env, db, info("default", "a"))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := Open(env, db, info("default", "b"))
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if _, err := a.Put(ctx, []byte("k"), []byte("from-a")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := b.Put(ctx, []byte("k"), []byte("from-b")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	va, _ := a.Get(ctx, []byte("k"))
	vb, _ := b.Get(ctx, []byte("k"))
	if string(va) != "from-a" || string(vb) != "from-b" {
		t.Fatalf("views mixed: a=%q b=%q", va, vb)
	}
}

func TestMalformedOpsSkipped(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	env := newEnv()
	inf := info("default", "raw")
	raw, err := stream.Open(env, inf.ID, eventlog.Cursor{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err := raw.Append(ctx, []byte("garbage")); err != nil {
		t.Fatalf("append: %v", err)
	}
	tbl, err := Open(env, db, inf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tbl.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if n, err := tbl.Sync(ctx); err != nil || n != 1 {
		t.Fatalf("sync: %d, %v", n, err)
	}
	st, _ := ViewStats(db, inf.ID)
	if st.Skipped != 1 || st.Rows != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestRowsIterator(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tbl, err := Open(newEnv(), db, info("default", "rows"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, k := range []string{"c", "a", "b"} {
		if _, err := tbl.Put(ctx, []byte(k), []byte("v"+k)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if _, err := tbl.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	it, err := tbl.Rows()
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	var keys []string
	for {
		kv, ok, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, kv.Key)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("keys: %v", keys)
	}

	if err := DropView(ctx, db, tbl.Info().ID); err != nil {
		t.Fatalf("drop view: %v", err)
	}
	st, _ := ViewStats(db, tbl.Info().ID)
	if st.Rows != 0 || st.Applied.Global != 0 {
		t.Fatalf("after drop: %+v", st)
	}
}
