package serverrun

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/flolog/internal/config"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

func TestStoreDir(t *testing.T) {
	if got, want := storeDir("/custom/data"), filepath.Join("/custom/data", "store"); got != want {
		t.Errorf("storeDir = %s, want %s", got, want)
	}
	if got := storeDir(""); got == "" || filepath.Base(got) != "store" {
		t.Errorf("storeDir fallback = %q", got)
	}
}

func TestNewLoggerFallsBack(t *testing.T) {
	if l := newLogger(cfgpkg.LoggingConfig{Level: "debug", Format: "nope"}); l == nil {
		t.Fatal("expected a fallback logger")
	}
	if l := newLogger(cfgpkg.LoggingConfig{Level: "warn", Format: "json"}); l == nil {
		t.Fatal("expected a logger")
	}
}

// TestRunServesUntilCancelled starts a node on loopback ports, waits for the
// HTTP health endpoint and then shuts it down.
func TestRunServesUntilCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.Node.Endpoint = "127.0.0.1:39431"
	cfg.Node.GRPCAddr = "127.0.0.1:39431"
	cfg.Node.HTTPAddr = "127.0.0.1:39432"
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever, Config: cfg})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + cfg.Node.HTTPAddr + "/v1/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("node never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
