// Package sequencer issues global log addresses and per-stream sequences.
package sequencer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

// Token is one reservation: a global address plus the next local sequence of
// every requested stream, bound to the epoch it was issued in.
type Token struct {
	Epoch  uint64
	Global uint64
	Locals map[uuid.UUID]uint64
}

// Timestamp converts the token into the log position for stream.
func (t Token) Timestamp(stream uuid.UUID) eventlog.Timestamp {
	return eventlog.Timestamp{Epoch: t.Epoch, Global: t.Global, Local: t.Locals[stream]}
}

// Sequencer is the sole authority for "next position".
type Sequencer interface {
	// Next reserves the next global address and the next local sequence of
	// each stream. epoch must equal the sequencer's epoch.
	Next(ctx context.Context, epoch uint64, streams ...uuid.UUID) (Token, error)
	// Current returns one past the last global address issued to stream, or
	// zero when none was issued. It allocates nothing.
	Current(ctx context.Context, stream uuid.UUID) (uint64, error)
	// Tail returns the next global address that would be issued.
	Tail(ctx context.Context) (uint64, error)
}

// StreamTail is the sequencer's per-stream state.
type StreamTail struct {
	// Bound is one past the last global address issued to the stream.
	Bound uint64
	// NextLocal is the next stream-local sequence.
	NextLocal uint64
}

// State is a full sequencer snapshot, as rebuilt by Recover.
type State struct {
	Global  uint64
	Streams map[uuid.UUID]StreamTail
}

// Metrics observes issued tokens. Optional.
type Metrics interface {
	ObserveIssue(streams int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveIssue(int) {}

// Options configures a Server.
type Options struct {
	Epoch   uint64
	State   State
	Metrics Metrics
	Logger  logpkg.Logger
}

// Server is the in-process sequencer. All allocation happens under one lock,
// which makes the check-and-increment atomic.
type Server struct {
	mu      sync.Mutex
	epoch   uint64
	global  uint64
	streams map[uuid.UUID]StreamTail

	metrics Metrics
	logger  logpkg.Logger
}

var _ Sequencer = (*Server)(nil)

// NewServer returns a sequencer starting from opts.State.
func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	s := &Server{
		metrics: opts.Metrics,
		logger:  opts.Logger.WithComponent("sequencer"),
	}
	s.install(opts.Epoch, opts.State)
	return s
}

func (s *Server) install(epoch uint64, st State) {
	s.epoch = epoch
	s.global = st.Global
	s.streams = make(map[uuid.UUID]StreamTail, len(st.Streams))
	for id, t := range st.Streams {
		s.streams[id] = t
	}
}

func (s *Server) Next(ctx context.Context, epoch uint64, streams ...uuid.UUID) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.Lock()
	if epoch != s.epoch {
		cur := s.epoch
		s.mu.Unlock()
		return Token{}, &eventlog.WrongEpochError{Epoch: cur}
	}
	tok := Token{Epoch: s.epoch, Global: s.global, Locals: make(map[uuid.UUID]uint64, len(streams))}
	s.global++
	for _, id := range streams {
		if _, dup := tok.Locals[id]; dup {
			continue
		}
		t := s.streams[id]
		tok.Locals[id] = t.NextLocal
		s.streams[id] = StreamTail{Bound: tok.Global + 1, NextLocal: t.NextLocal + 1}
	}
	s.mu.Unlock()

	s.metrics.ObserveIssue(len(streams))
	return tok, nil
}

func (s *Server) Current(ctx context.Context, stream uuid.UUID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[stream].Bound, nil
}

func (s *Server) Tail(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global, nil
}

// Epoch returns the epoch tokens are currently issued in.
func (s *Server) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Snapshot returns a copy of the sequencer state.
func (s *Server) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Global: s.global, Streams: make(map[uuid.UUID]StreamTail, len(s.streams))}
	for id, t := range s.streams {
		st.Streams[id] = t
	}
	return st
}

// Reset moves the sequencer to a new epoch with recovered state. Tokens from
// older epochs are refused afterwards. The global tail never moves backwards.
func (s *Server) Reset(epoch uint64, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch < s.epoch {
		return &eventlog.WrongEpochError{Epoch: s.epoch}
	}
	if st.Global < s.global && epoch == s.epoch {
		st.Global = s.global
	}
	s.logger.Info("sequencer reset",
		logpkg.Uint64("from", s.epoch), logpkg.Epoch(epoch), logpkg.Uint64("global_tail", st.Global))
	s.install(epoch, st)
	return nil
}
