package pebblestore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

var (
	// ErrUnrecoverable marks a read or decode failure the iterator cannot
	// continue past, and misuse of the iterator itself.
	ErrUnrecoverable = errors.New("pebble: unrecoverable storage error")
	// ErrConcurrentAccess is returned when an iterator is used or closed while
	// another goroutine is inside Next.
	ErrConcurrentAccess = fmt.Errorf("%w: iterator used concurrently", ErrUnrecoverable)
	// ErrIteratorClosed is returned by Next after Close.
	ErrIteratorClosed = fmt.Errorf("%w: iterator closed", ErrUnrecoverable)
)

const (
	iterIdle int32 = iota
	iterBusy
	iterClosed
)

// KV is one decoded key/value pair produced by an EntryIterator.
type KV[K, V any] struct {
	Key   K
	Value V
}

// DecodeFunc turns raw bytes into a typed value.
type DecodeFunc[T any] func([]byte) (T, error)

// EntryIterator walks every key under a prefix in order, decoding keys (with
// the prefix stripped) and values. It is owned by a single goroutine; misuse
// fails fast instead of blocking.
type EntryIterator[K, V any] struct {
	it          *pebble.Iterator
	prefixLen   int
	decodeKey   DecodeFunc[K]
	decodeValue DecodeFunc[V]
	state       atomic.Int32
	started     bool
}

// NewEntryIterator opens an iterator over all keys carrying prefix.
func NewEntryIterator[K, V any](db *DB, prefix []byte, dk DecodeFunc[K], dv DecodeFunc[V]) (*EntryIterator[K, V], error) {
	it, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	return &EntryIterator[K, V]{
		it:          it,
		prefixLen:   len(prefix),
		decodeKey:   dk,
		decodeValue: dv,
	}, nil
}

func (e *EntryIterator[K, V]) acquire() error {
	if e.state.CompareAndSwap(iterIdle, iterBusy) {
		return nil
	}
	if e.state.Load() == iterClosed {
		return ErrIteratorClosed
	}
	return ErrConcurrentAccess
}

// Next returns the next pair. ok is false once the prefix is exhausted.
func (e *EntryIterator[K, V]) Next() (kv KV[K, V], ok bool, err error) {
	if err := e.acquire(); err != nil {
		return kv, false, err
	}
	defer e.state.Store(iterIdle)

	var valid bool
	if !e.started {
		e.started = true
		valid = e.it.First()
	} else {
		valid = e.it.Next()
	}
	if !valid {
		if err := e.it.Error(); err != nil {
			return kv, false, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
		return kv, false, nil
	}

	rawKey := e.it.Key()[e.prefixLen:]
	if kv.Key, err = e.decodeKey(rawKey); err != nil {
		return kv, false, fmt.Errorf("%w: decode key %x: %v", ErrUnrecoverable, rawKey, err)
	}
	if kv.Value, err = e.decodeValue(e.it.Value()); err != nil {
		return kv, false, fmt.Errorf("%w: decode value at %x: %v", ErrUnrecoverable, rawKey, err)
	}
	return kv, true, nil
}

// Close releases the underlying Pebble iterator. Closing while Next runs on
// another goroutine returns ErrConcurrentAccess and leaves the iterator open.
func (e *EntryIterator[K, V]) Close() error {
	if e.state.CompareAndSwap(iterIdle, iterClosed) {
		return e.it.Close()
	}
	if e.state.Load() == iterClosed {
		return nil
	}
	return ErrConcurrentAccess
}

// BytesDecoder copies raw bytes unchanged.
func BytesDecoder(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }

// StringDecoder decodes raw bytes as a string.
func StringDecoder(b []byte) (string, error) { return string(b), nil }
