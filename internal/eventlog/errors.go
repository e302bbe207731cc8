package eventlog

import (
	"errors"
	"fmt"

	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
)

var (
	// ErrOverwrite is returned when writing an address that already holds an
	// entry. The stored entry is left unchanged.
	ErrOverwrite = errors.New("eventlog: address already written")
	// ErrTrimmed is returned when reading an address that has been reclaimed.
	ErrTrimmed = errors.New("eventlog: address trimmed")
	// ErrNotWritten is returned when reading an address nothing was written to.
	ErrNotWritten = errors.New("eventlog: address not written")
	// ErrOutOfSpace is returned when a write exceeds the log unit's capacity.
	ErrOutOfSpace = errors.New("eventlog: out of space")
	// ErrWrongEpoch matches any *WrongEpochError.
	ErrWrongEpoch = errors.New("eventlog: wrong epoch")
	// ErrUnreachable reports that storage or a remote peer could not be
	// contacted. Callers may retry.
	ErrUnreachable = errors.New("eventlog: unreachable")
	// ErrUnrecoverable reports local corruption or misuse of a storage handle.
	// It must not be retried.
	ErrUnrecoverable = pebblestore.ErrUnrecoverable
	// ErrClosed is returned by operations on a closed log or stream.
	ErrClosed = errors.New("eventlog: closed")
)

// WrongEpochError is returned when an operation carries an epoch other than
// the one the receiver is sealed at. Epoch is the receiver's current epoch.
type WrongEpochError struct {
	Epoch uint64
}

func (e *WrongEpochError) Error() string {
	return fmt.Sprintf("eventlog: wrong epoch, current epoch is %d", e.Epoch)
}

// Is makes errors.Is(err, ErrWrongEpoch) true for every WrongEpochError.
func (e *WrongEpochError) Is(target error) bool { return target == ErrWrongEpoch }

// CurrentEpoch extracts the responder epoch from a wrong-epoch error.
func CurrentEpoch(err error) (uint64, bool) {
	var we *WrongEpochError
	if errors.As(err, &we) {
		return we.Epoch, true
	}
	return 0, false
}

// storageErr classifies an error returned by the Pebble wrapper.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pebblestore.ErrClosed) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
