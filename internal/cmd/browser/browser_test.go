package browsercmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/runtime"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

// seed writes a table into dataDir and closes the node again.
func seed(t *testing.T, dataDir string) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: filepath.Join(dataDir, "store"), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	ctx := context.Background()
	tb, err := rt.OpenTable(ctx, "shop", "orders")
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	for _, kv := range [][2]string{{"o1", `{"total":10}`}, {"o2", `{"total":300}`}} {
		if _, err := tb.Put(ctx, []byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	_ = tb.Close()
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func execute(args ...string) (string, error) {
	cmd := NewCommand(nil)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestBrowserCommands(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	out, err := execute("list", "--data-dir", dir, "-n", "shop")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"table": "orders"`) {
		t.Fatalf("list output: %s", out)
	}

	out, err = execute("show", "--data-dir", dir, "-n", "shop", "-t", "orders", "--filter", "json.total > 100.0")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0]["key"] != "o2" {
		t.Fatalf("rows: %v", rows)
	}

	if _, err := execute("drop", "--data-dir", dir, "-n", "shop", "-t", "orders"); err == nil {
		t.Fatalf("expected drop without --confirm to fail")
	}
	if _, err := execute("drop", "--data-dir", dir, "-n", "shop", "-t", "orders", "--confirm"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := execute("info", "--data-dir", dir, "-n", "shop", "-t", "orders"); err == nil {
		t.Fatalf("expected info after drop to fail")
	}
}

func TestBrowserRequiresStore(t *testing.T) {
	if _, err := execute("list", "--data-dir", t.TempDir()); err == nil {
		t.Fatal("expected error for a directory without a store")
	}
}
