package layout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Snapshot is one committed layout observed by the process. Version counts
// installs and never repeats.
type Snapshot struct {
	Version uint64
	Layout  Layout
}

// Holder is the process-wide committed layout. Readers take a snapshot and
// must not assume it stays current across blocking calls.
type Holder struct {
	cur atomic.Pointer[Snapshot]

	mu      sync.Mutex
	changed chan struct{}
}

// NewHolder starts from the given layout at version 1.
func NewHolder(l Layout) *Holder {
	h := &Holder{changed: make(chan struct{})}
	h.cur.Store(&Snapshot{Version: 1, Layout: l.Clone()})
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot { return h.cur.Load() }

// Layout returns a copy of the current layout.
func (h *Holder) Layout() Layout { return h.cur.Load().Layout.Clone() }

// Epoch returns the current committed epoch.
func (h *Holder) Epoch() uint64 { return h.cur.Load().Layout.Epoch }

// Update installs l if its epoch is newer than the current one and reports
// whether it did.
func (h *Holder) Update(l Layout) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.cur.Load()
	if l.Epoch <= old.Layout.Epoch {
		return false
	}
	h.cur.Store(&Snapshot{Version: old.Version + 1, Layout: l.Clone()})
	close(h.changed)
	h.changed = make(chan struct{})
	return true
}

// Changed returns a channel closed on the next successful Update.
func (h *Holder) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// WaitForEpoch blocks until the committed epoch equals target. It fails with
// ErrEpochOvershot if the epoch moves past target.
func (h *Holder) WaitForEpoch(ctx context.Context, target uint64) (Layout, error) {
	for {
		ch := h.Changed()
		snap := h.Load()
		switch e := snap.Layout.Epoch; {
		case e == target:
			return snap.Layout.Clone(), nil
		case e > target:
			return Layout{}, fmt.Errorf("%w: at %d, waiting for %d", ErrEpochOvershot, e, target)
		}
		select {
		case <-ctx.Done():
			return Layout{}, ctx.Err()
		case <-ch:
		}
	}
}
