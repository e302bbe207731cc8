package eventlog

import (
	"context"
	"time"
)

// AddressSpace is a write-once mapping from global address to entry.
//
// Write succeeds at most once per address; later writes fail ErrOverwrite.
// Read returns the entry, ErrTrimmed or ErrNotWritten. Writes carrying an
// epoch other than the sealed one fail with *WrongEpochError. Any operation may
// fail ErrUnreachable, which callers must not read as "empty".
type AddressSpace interface {
	Write(ctx context.Context, addr uint64, e Entry) error
	Read(ctx context.Context, addr uint64) (Entry, error)
	// Tail returns one past the highest written address.
	Tail(ctx context.Context) (uint64, error)
	// TrimMark returns the lowest address that has not been trimmed.
	TrimMark(ctx context.Context) (uint64, error)
	// Trim reclaims every address up to and including addr.
	Trim(ctx context.Context, addr uint64) error
	// Seal moves the unit to epoch; older epochs are refused afterwards.
	Seal(ctx context.Context, epoch uint64) error
}

// AppendWaiter is implemented by address spaces that can wake readers on new
// writes instead of being polled.
type AppendWaiter interface {
	WaitForAppend(timeout time.Duration) bool
}

// TrimHook observes ranges removed by trims. Implementations may export or
// account for the reclaimed addresses.
type TrimHook interface {
	EmitTrimRange(log string, minAddr, maxAddr uint64)
}

type noopTrimHook struct{}

func (noopTrimHook) EmitTrimRange(string, uint64, uint64) {}

// checkEpoch validates a write epoch against the sealed epoch.
func checkEpoch(sealed, epoch uint64) error {
	if epoch != sealed {
		return &WrongEpochError{Epoch: sealed}
	}
	return nil
}

// checkSeal validates a seal request against the current epoch.
func checkSeal(current, epoch uint64) error {
	if epoch < current {
		return &WrongEpochError{Epoch: current}
	}
	return nil
}
