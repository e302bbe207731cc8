package sequencer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
)

const recoverPage = 512

// Recover rebuilds sequencer state from the entries stored in as. Streams
// whose entries were all trimmed restart their local sequence at zero.
func Recover(ctx context.Context, as eventlog.AddressSpace) (State, error) {
	st := State{Streams: make(map[uuid.UUID]StreamTail)}
	tail, err := as.Tail(ctx)
	if err != nil {
		return st, fmt.Errorf("recover: tail: %w", err)
	}
	st.Global = tail
	from, err := as.TrimMark(ctx)
	if err != nil {
		return st, fmt.Errorf("recover: trim mark: %w", err)
	}

	observe := func(addr uint64, e eventlog.Entry) {
		for _, r := range e.Records {
			t := st.Streams[r.Stream]
			if addr+1 > t.Bound {
				t.Bound = addr + 1
			}
			if r.Seq+1 > t.NextLocal {
				t.NextLocal = r.Seq + 1
			}
			st.Streams[r.Stream] = t
		}
	}

	if sc, ok := as.(eventlog.Scanner); ok {
		opts := eventlog.ScanOptions{Start: from, Limit: recoverPage}
		for {
			page, err := sc.Scan(ctx, opts)
			if err != nil {
				return st, fmt.Errorf("recover: scan: %w", err)
			}
			for _, it := range page.Items {
				observe(it.Addr, it.Entry)
			}
			if !page.More {
				return st, nil
			}
			opts.Start = page.Next
		}
	}

	for addr := from; addr < tail; addr++ {
		e, err := as.Read(ctx, addr)
		switch {
		case err == nil:
			observe(addr, e)
		case errors.Is(err, eventlog.ErrNotWritten), errors.Is(err, eventlog.ErrTrimmed):
		default:
			return st, fmt.Errorf("recover: read %d: %w", addr, err)
		}
	}
	return st, nil
}
