package eventlog

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// EntryType distinguishes data entries from hole fills.
type EntryType uint8

const (
	EntryData EntryType = iota
	// EntryHole marks an address abandoned by its writer and filled so readers
	// can make progress. Streams skip holes.
	EntryHole
)

// Record is the part of an entry that belongs to one stream. Seq is the
// stream-local sequence issued by the sequencer.
type Record struct {
	Stream  uuid.UUID
	Seq     uint64
	Payload []byte
}

// Entry is the value stored at one global address. An entry written by a
// transaction carries one record per stream it touched.
type Entry struct {
	Epoch   uint64
	Type    EntryType
	Records []Record
}

// HoleEntry returns the filler written at an abandoned address.
func HoleEntry(epoch uint64) Entry { return Entry{Epoch: epoch, Type: EntryHole} }

// IsHole reports whether e is a hole fill.
func (e Entry) IsHole() bool { return e.Type == EntryHole }

// Record returns the record for stream, if e belongs to it.
func (e Entry) Record(stream uuid.UUID) (Record, bool) {
	for _, r := range e.Records {
		if r.Stream == stream {
			return r, true
		}
	}
	return Record{}, false
}

// Streams lists every stream e belongs to.
func (e Entry) Streams() []uuid.UUID {
	out := make([]uuid.UUID, len(e.Records))
	for i, r := range e.Records {
		out[i] = r.Stream
	}
	return out
}

// Size is the payload byte count used for capacity accounting.
func (e Entry) Size() int {
	n := 0
	for _, r := range e.Records {
		n += len(r.Payload) + len(r.Stream)
	}
	return n
}

// Equal compares two entries field by field.
func (e Entry) Equal(o Entry) bool {
	if e.Epoch != o.Epoch || e.Type != o.Type || len(e.Records) != len(o.Records) {
		return false
	}
	for i := range e.Records {
		a, b := e.Records[i], o.Records[i]
		if a.Stream != b.Stream || a.Seq != b.Seq || !bytes.Equal(a.Payload, b.Payload) {
			return false
		}
	}
	return true
}

// Header field numbers.
const (
	fieldEpoch  protowire.Number = 1
	fieldType   protowire.Number = 2
	fieldRecord protowire.Number = 3

	fieldRecStream protowire.Number = 1
	fieldRecSeq    protowire.Number = 2
	fieldRecLen    protowire.Number = 3
)

// MarshalEntry encodes e as a checksummed frame whose header is a protobuf
// message and whose body is the concatenated record payloads.
func MarshalEntry(e Entry) []byte {
	var h []byte
	h = protowire.AppendTag(h, fieldEpoch, protowire.VarintType)
	h = protowire.AppendVarint(h, e.Epoch)
	h = protowire.AppendTag(h, fieldType, protowire.VarintType)
	h = protowire.AppendVarint(h, uint64(e.Type))

	var body []byte
	for _, r := range e.Records {
		var rec []byte
		rec = protowire.AppendTag(rec, fieldRecStream, protowire.BytesType)
		rec = protowire.AppendBytes(rec, r.Stream[:])
		rec = protowire.AppendTag(rec, fieldRecSeq, protowire.VarintType)
		rec = protowire.AppendVarint(rec, r.Seq)
		rec = protowire.AppendTag(rec, fieldRecLen, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(len(r.Payload)))

		h = protowire.AppendTag(h, fieldRecord, protowire.BytesType)
		h = protowire.AppendBytes(h, rec)
		body = append(body, r.Payload...)
	}
	return encodeFrame(h, body)
}

// UnmarshalEntry decodes a stored frame. Any failure wraps ErrUnrecoverable.
func UnmarshalEntry(b []byte) (Entry, error) {
	header, body, err := decodeFrame(b)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
	}
	var e Entry
	for len(header) > 0 {
		num, typ, n := protowire.ConsumeTag(header)
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: entry header: %v", ErrUnrecoverable, protowire.ParseError(n))
		}
		header = header[n:]
		switch {
		case num == fieldEpoch && typ == protowire.VarintType:
			e.Epoch, n = protowire.ConsumeVarint(header)
		case num == fieldType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(header)
			e.Type = EntryType(v)
		case num == fieldRecord && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(header)
			if n >= 0 {
				var rec Record
				var size uint64
				if rec, size, err = unmarshalRecord(raw); err != nil {
					return Entry{}, err
				}
				if uint64(len(body)) < size {
					return Entry{}, fmt.Errorf("%w: record payload truncated", ErrUnrecoverable)
				}
				rec.Payload = append([]byte(nil), body[:size]...)
				body = body[size:]
				e.Records = append(e.Records, rec)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, header)
		}
		if n < 0 {
			return Entry{}, fmt.Errorf("%w: entry header: %v", ErrUnrecoverable, protowire.ParseError(n))
		}
		header = header[n:]
	}
	return e, nil
}

func unmarshalRecord(b []byte) (Record, uint64, error) {
	var (
		rec  Record
		size uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, 0, fmt.Errorf("%w: record: %v", ErrUnrecoverable, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldRecStream && typ == protowire.BytesType:
			var id []byte
			id, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				if len(id) != len(rec.Stream) {
					return rec, 0, fmt.Errorf("%w: record: stream id has %d bytes", ErrUnrecoverable, len(id))
				}
				copy(rec.Stream[:], id)
			}
		case num == fieldRecSeq && typ == protowire.VarintType:
			rec.Seq, n = protowire.ConsumeVarint(b)
		case num == fieldRecLen && typ == protowire.VarintType:
			size, n = protowire.ConsumeVarint(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return rec, 0, fmt.Errorf("%w: record: %v", ErrUnrecoverable, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return rec, size, nil
}
