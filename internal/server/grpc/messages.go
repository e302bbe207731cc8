package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	"github.com/rzbill/flolog/internal/layout"
	"github.com/rzbill/flolog/internal/listener"
	"github.com/rzbill/flolog/internal/sequencer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind names a domain error carried in a response body.
type ErrorKind string

const (
	KindOverwrite     ErrorKind = "overwrite"
	KindTrimmed       ErrorKind = "trimmed"
	KindNotWritten    ErrorKind = "not_written"
	KindOutOfSpace    ErrorKind = "out_of_space"
	KindWrongEpoch    ErrorKind = "wrong_epoch"
	KindUnreachable   ErrorKind = "unreachable"
	KindUnrecoverable ErrorKind = "unrecoverable"
	KindClosed        ErrorKind = "closed"
	KindNotFound      ErrorKind = "not_found"
	KindEpochTaken    ErrorKind = "epoch_taken"
	KindInternal      ErrorKind = "internal"
)

// RPCError is a domain error as it travels between nodes.
type RPCError struct {
	Kind    ErrorKind `json:"kind"`
	Epoch   uint64    `json:"epoch,omitempty"`
	Message string    `json:"message"`
}

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindOverwrite, eventlog.ErrOverwrite},
	{KindTrimmed, eventlog.ErrTrimmed},
	{KindNotWritten, eventlog.ErrNotWritten},
	{KindOutOfSpace, eventlog.ErrOutOfSpace},
	{KindUnreachable, eventlog.ErrUnreachable},
	{KindUnrecoverable, eventlog.ErrUnrecoverable},
	{KindClosed, eventlog.ErrClosed},
	{KindNotFound, layout.ErrNotFound},
	{KindEpochTaken, layout.ErrEpochTaken},
}

// toRPCError encodes err for a response body. nil stays nil.
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if epoch, ok := eventlog.CurrentEpoch(err); ok {
		return &RPCError{Kind: KindWrongEpoch, Epoch: epoch, Message: err.Error()}
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return &RPCError{Kind: ks.kind, Message: err.Error()}
		}
	}
	return &RPCError{Kind: KindInternal, Message: err.Error()}
}

// Err decodes e back into an error matching the original sentinel.
func (e *RPCError) Err() error {
	if e == nil {
		return nil
	}
	if e.Kind == KindWrongEpoch {
		return &eventlog.WrongEpochError{Epoch: e.Epoch}
	}
	for _, ks := range kindSentinels {
		if ks.kind == e.Kind {
			return fmt.Errorf("%w (remote: %s)", ks.err, e.Message)
		}
	}
	return errors.New(e.Message)
}

// transportErr maps a failed call. Peers that cannot be reached become
// eventlog.ErrUnreachable; a caller's own cancellation is returned as is.
func transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return fmt.Errorf("%w: %v", eventlog.ErrUnreachable, err)
	}
	return err
}

// Empty is the request of calls that take no arguments.
type Empty struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

type Ack struct {
	Err *RPCError `json:"err,omitempty"`
}

type LayoutResponse struct {
	Layout layout.Layout `json:"layout"`
	Err    *RPCError     `json:"err,omitempty"`
}

type WriteRequest struct {
	Addr uint64 `json:"addr"`
	// Entry is eventlog.MarshalEntry output.
	Entry []byte `json:"entry"`
}

type AddrRequest struct {
	Addr uint64 `json:"addr"`
}

type ReadResponse struct {
	Entry []byte    `json:"entry,omitempty"`
	Err   *RPCError `json:"err,omitempty"`
}

type AddrResponse struct {
	Addr uint64    `json:"addr"`
	Err  *RPCError `json:"err,omitempty"`
}

type SealRequest struct {
	Epoch uint64 `json:"epoch"`
}

type NextRequest struct {
	Epoch   uint64      `json:"epoch"`
	Streams []uuid.UUID `json:"streams,omitempty"`
}

type NextResponse struct {
	Token sequencer.Token `json:"token"`
	Err   *RPCError       `json:"err,omitempty"`
}

type CurrentRequest struct {
	Stream uuid.UUID `json:"stream"`
}

type SubscribeRequest struct {
	ID      string      `json:"id"`
	Streams []uuid.UUID `json:"streams,omitempty"`
	From    uint64      `json:"from"`
	Filter  string      `json:"filter,omitempty"`
}

// SubscribeEvent is one message of a subscription: a batch, or the error
// that ended it.
type SubscribeEvent struct {
	Batch       *listener.Batch `json:"batch,omitempty"`
	Err         *RPCError       `json:"err,omitempty"`
	Recoverable bool            `json:"recoverable,omitempty"`
	// Address is where delivery stopped when Err is set.
	Address uint64 `json:"address,omitempty"`
}
