// Package listener delivers committed log entries to registered subscribers.
//
// Each subscription tails the shared log from a starting address and hands
// its StreamListener one Batch per log entry, holding the records of every
// subscribed stream the entry carries. Delivery stops on unsubscribe or after
// exactly one OnError call.
package listener

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/stream"
)

var (
	// ErrAlreadyRegistered is returned when a listener ID is subscribed twice.
	ErrAlreadyRegistered = errors.New("listener: already registered")
	// ErrRegistryClosed is returned by Subscribe after Close.
	ErrRegistryClosed = errors.New("listener: registry closed")
)

// StreamListener receives ordered batches. OnNext and OnError are called
// from one goroutine per subscription.
type StreamListener interface {
	// ID identifies the subscriber; a registry holds at most one
	// subscription per ID.
	ID() string
	OnNext(batch Batch)
	// OnError is called at most once, after which nothing is delivered.
	OnError(err error)
}

// Batch is the part of one log entry the subscriber asked for, grouped by
// stream.
type Batch struct {
	Address uint64
	Epoch   uint64
	Streams map[uuid.UUID][]stream.Entry
}

// Len returns the number of records in b.
func (b Batch) Len() int {
	n := 0
	for _, es := range b.Streams {
		n += len(es)
	}
	return n
}

// ErrorKind classifies why a subscription ended.
type ErrorKind int

const (
	// Recoverable errors allow resubscribing, typically from a later address
	// after a trim.
	Recoverable ErrorKind = iota
	// Fatal errors mean the log is unavailable.
	Fatal
)

func (k ErrorKind) String() string {
	if k == Recoverable {
		return "recoverable"
	}
	return "fatal"
}

// Error is what OnError receives.
type Error struct {
	Kind ErrorKind
	// Address is where delivery stopped; resubscribe from here or later.
	Address uint64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("listener: %s at %d: %v", e.Kind, e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRecoverable reports whether err ended a subscription recoverably.
func IsRecoverable(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == Recoverable
}

func classify(addr uint64, err error) *Error {
	kind := Fatal
	if errors.Is(err, eventlog.ErrTrimmed) {
		kind = Recoverable
	}
	return &Error{Kind: kind, Address: addr, Err: err}
}
