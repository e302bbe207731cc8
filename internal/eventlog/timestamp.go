package eventlog

import "fmt"

// Timestamp is a position in the shared log. Appends produce linearizable
// timestamps; cached queries produce ones flagged NonLinearizable, which never
// compare equal to an append-derived timestamp.
type Timestamp struct {
	Epoch           uint64
	Global          uint64
	Local           uint64
	NonLinearizable bool
}

// Compare orders timestamps by global address, then epoch, placing a
// non-linearizable timestamp after a linearizable one at the same position.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Global < o.Global:
		return -1
	case t.Global > o.Global:
		return 1
	case t.Epoch < o.Epoch:
		return -1
	case t.Epoch > o.Epoch:
		return 1
	case t.NonLinearizable == o.NonLinearizable:
		return 0
	case o.NonLinearizable:
		return -1
	default:
		return 1
	}
}

func (t Timestamp) Less(o Timestamp) bool  { return t.Compare(o) < 0 }
func (t Timestamp) Equal(o Timestamp) bool { return t.Compare(o) == 0 }

func (t Timestamp) String() string {
	s := fmt.Sprintf("%d@%d", t.Global, t.Epoch)
	if t.NonLinearizable {
		s += "~"
	}
	return s
}

// Cursor is a stream-local read position. Global is the next address the
// reader will examine; Local counts entries of the stream already returned.
type Cursor struct {
	Global uint64
	Local  uint64
}

// Before reports whether c is strictly behind o in the shared log.
func (c Cursor) Before(o Cursor) bool { return c.Global < o.Global }

func (c Cursor) String() string { return fmt.Sprintf("cursor(%d/%d)", c.Global, c.Local) }
