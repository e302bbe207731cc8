package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// HoleFillOptions tunes how long a reader waits for a slow writer before
// filling its address.
type HoleFillOptions struct {
	Timeout time.Duration
	Poll    time.Duration
	// Epoch returns the epoch hole writes are tagged with.
	Epoch  func() uint64
	Clock  clock.Clock
	Logger logpkg.Logger
}

// HoleFiller reads addresses below the sequencer bound, filling any that stay
// unwritten past the timeout so readers are never stuck behind a crashed
// writer.
type HoleFiller struct {
	as      AddressSpace
	timeout time.Duration
	poll    time.Duration
	epoch   func() uint64
	clock   clock.Clock
	logger  logpkg.Logger
}

// NewHoleFiller wraps as.
func NewHoleFiller(as AddressSpace, opts HoleFillOptions) *HoleFiller {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 10 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	if opts.Epoch == nil {
		opts.Epoch = func() uint64 { return 0 }
	}
	return &HoleFiller{
		as:      as,
		timeout: opts.Timeout,
		poll:    opts.Poll,
		epoch:   opts.Epoch,
		clock:   opts.Clock,
		logger:  opts.Logger.WithComponent("holefill"),
	}
}

// AddressSpace returns the wrapped address space.
func (h *HoleFiller) AddressSpace() AddressSpace { return h.as }

// ReadOrFill returns the entry at addr, which the caller knows was issued by
// the sequencer. If it stays unwritten for the timeout a hole is written; when
// that loses the race to the real writer the real entry is returned.
func (h *HoleFiller) ReadOrFill(ctx context.Context, addr uint64) (Entry, error) {
	deadline := h.clock.Now().Add(h.timeout)
	for {
		e, err := h.as.Read(ctx, addr)
		if !errors.Is(err, ErrNotWritten) {
			return e, err
		}
		if !h.clock.Now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		if w, ok := h.as.(AppendWaiter); ok {
			w.WaitForAppend(h.poll)
			continue
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-h.clock.After(h.poll):
		}
	}

	hole := HoleEntry(h.epoch())
	err := h.as.Write(ctx, addr, hole)
	switch {
	case err == nil:
		h.logger.Warn("filled hole", logpkg.Uint64("addr", addr), logpkg.Epoch(hole.Epoch))
		return hole, nil
	case errors.Is(err, ErrOverwrite):
		return h.as.Read(ctx, addr)
	default:
		return Entry{}, err
	}
}
