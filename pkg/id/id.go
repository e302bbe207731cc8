package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ID is a 128-bit sortable identifier: [8 bytes unix ms][8 bytes sequence],
// big-endian, so byte order is creation order.
type ID [16]byte

// String returns the lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in i.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[:8])))
}

// Seq returns the sequence embedded in i.
func (i ID) Seq() uint64 { return binary.BigEndian.Uint64(i[8:]) }

// Compare orders IDs by creation.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// Parse decodes the String form.
func Parse(s string) (ID, error) {
	var i ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return i, fmt.Errorf("id: %w", err)
	}
	if len(b) != len(i) {
		return i, fmt.Errorf("id: want %d bytes, got %d", len(i), len(b))
	}
	copy(i[:], b)
	return i, nil
}

// Generator issues strictly increasing IDs within a process, even if the
// wall clock steps backwards.
type Generator struct {
	clock clock.Clock

	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator uses the wall clock.
func NewGenerator() *Generator { return NewGeneratorWithClock(clock.New()) }

// NewGeneratorWithClock uses c, typically a mock in tests.
func NewGeneratorWithClock(c clock.Clock) *Generator { return &Generator{clock: c} }

// Next returns a new ID.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.clock.Now().UnixMilli()
	if ms > g.lastMs {
		g.lastMs, g.seq = ms, 0
	} else {
		g.seq++
	}
	var i ID
	binary.BigEndian.PutUint64(i[:8], uint64(g.lastMs))
	binary.BigEndian.PutUint64(i[8:], g.seq)
	return i
}
