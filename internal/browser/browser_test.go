package browser

import (
	"context"
	"errors"
	"testing"

	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/runtime"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	"github.com/rzbill/flolog/internal/stream"
)

func newBrowser(t *testing.T) (*Browser, *runtime.Runtime) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, nil), rt
}

func put(t *testing.T, rt *runtime.Runtime, ns, tbl string, kv ...string) {
	t.Helper()
	ctx := context.Background()
	tb, err := rt.OpenTable(ctx, ns, tbl)
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	defer tb.Close()
	for i := 0; i+1 < len(kv); i += 2 {
		if _, err := tb.Put(ctx, []byte(kv[i]), []byte(kv[i+1])); err != nil {
			t.Fatalf("put %s: %v", kv[i], err)
		}
	}
}

func TestListTables(t *testing.T) {
	b, rt := newBrowser(t)
	put(t, rt, "shop", "orders", "o1", "x")
	put(t, rt, "shop", "users", "u1", "y")
	put(t, rt, "ops", "jobs", "j1", "z")

	shop, err := b.ListTables("shop")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(shop) != 2 || shop[0].Table != "orders" || shop[1].Table != "users" {
		t.Fatalf("shop tables: %+v", shop)
	}
	all, err := b.ListTables("")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all tables: got %d want 3", len(all))
	}
}

func TestInfoAndShowTable(t *testing.T) {
	b, rt := newBrowser(t)
	put(t, rt, "shop", "orders",
		"o1", `{"total": 10}`,
		"o2", `{"total": 250}`,
		"o3", "not json")
	ctx := context.Background()

	info, err := b.InfoTable(ctx, "shop", "orders")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Stats.Rows != 3 || info.Stale != "" {
		t.Fatalf("info: %+v", info)
	}

	rows, err := b.ShowTable(ctx, "shop", "orders", ShowOptions{})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if len(rows) != 3 || rows[0].Key != "o1" || rows[2].Key != "o3" {
		t.Fatalf("rows: %+v", rows)
	}

	rows, err = b.ShowTable(ctx, "shop", "orders", ShowOptions{Filter: `json != null && json.total > 100.0`})
	if err != nil {
		t.Fatalf("show filtered: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != "o2" {
		t.Fatalf("filtered rows: %+v", rows)
	}

	rows, err = b.ShowTable(ctx, "shop", "orders", ShowOptions{Limit: 2})
	if err != nil {
		t.Fatalf("show limited: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("limited rows: got %d want 2", len(rows))
	}
}

func TestShowTableBadFilter(t *testing.T) {
	b, rt := newBrowser(t)
	put(t, rt, "shop", "orders", "o1", "x")
	_, err := b.ShowTable(context.Background(), "shop", "orders", ShowOptions{Filter: "size + 1"})
	if !errors.Is(err, ErrBadFilter) {
		t.Fatalf("expected ErrBadFilter, got %v", err)
	}
}

func TestDropTable(t *testing.T) {
	b, rt := newBrowser(t)
	put(t, rt, "shop", "orders", "o1", "x")
	ctx := context.Background()
	if _, err := b.ShowTable(ctx, "shop", "orders", ShowOptions{}); err != nil {
		t.Fatalf("show: %v", err)
	}

	info, err := b.DropTable(ctx, "shop", "orders")
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if info.ID != stream.TableID("shop", "orders") {
		t.Fatalf("dropped id: %s", info.ID)
	}
	if _, err := b.InfoTable(ctx, "shop", "orders"); !errors.Is(err, stream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after drop, got %v", err)
	}
	if _, err := b.DropTable(ctx, "shop", "orders"); !errors.Is(err, stream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second drop, got %v", err)
	}
}
