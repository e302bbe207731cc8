package namespace

import (
	"errors"
	"testing"

	"github.com/rzbill/flolog/internal/config"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

func newRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRegistry(db, cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestEnsureNamespaceIdempotent(t *testing.T) {
	r := newRegistry(t, nil)
	m1, err := r.Ensure("default")
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := r.Ensure("default")
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1.Name != m2.Name || m1.CreatedAtMs != m2.CreatedAtMs || m1.ID != m2.ID {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
	if m1.ID != IDFor("default") {
		t.Fatalf("id not derived from name")
	}
}

func TestEnsurePolicy(t *testing.T) {
	r := newRegistry(t, func(c *config.Config) {
		c.AllowAutoCreateNamespaces = false
		c.AllowedNamespaces = []string{"default", "ops"}
	})
	if _, err := r.Ensure("Bad Name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("want ErrInvalidName, got %v", err)
	}
	if _, err := r.Ensure("other"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("want ErrNotAllowed, got %v", err)
	}
	if _, err := r.Ensure("ops"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("auto-create disabled: %v", err)
	}
	if _, err := r.Ensure("default"); err != nil {
		t.Fatalf("default namespace is always creatable: %v", err)
	}
}

func TestEnsureLimitAndList(t *testing.T) {
	r := newRegistry(t, func(c *config.Config) { c.MaxNamespaces = 2 })
	for _, n := range []string{"b", "a"} {
		if _, err := r.Ensure(n); err != nil {
			t.Fatalf("ensure %s: %v", n, err)
		}
	}
	if _, err := r.Ensure("c"); !errors.Is(err, ErrLimit) {
		t.Fatalf("want ErrLimit, got %v", err)
	}
	list, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("list=%+v", list)
	}
}
