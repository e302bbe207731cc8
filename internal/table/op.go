package table

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// OpKind is the mutation an Op applies.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Op is one table mutation as stored in the stream.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

const (
	fieldKind  protowire.Number = 1
	fieldKey   protowire.Number = 2
	fieldValue protowire.Number = 3
)

var errBadOp = errors.New("table: malformed op")

// MarshalOp encodes op.
func MarshalOp(op Op) []byte {
	b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Kind))
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, op.Key)
	if op.Kind == OpPut {
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, op.Value)
	}
	return b
}

// UnmarshalOp decodes an op, skipping unknown fields.
func UnmarshalOp(b []byte) (Op, error) {
	var op Op
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Op{}, fmt.Errorf("%w: %v", errBadOp, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", errBadOp, protowire.ParseError(n))
			}
			op.Kind = OpKind(v)
			b = b[n:]
		case (num == fieldKey || num == fieldValue) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", errBadOp, protowire.ParseError(n))
			}
			if num == fieldKey {
				op.Key = append([]byte(nil), v...)
			} else {
				op.Value = append([]byte(nil), v...)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Op{}, fmt.Errorf("%w: %v", errBadOp, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if op.Kind != OpPut && op.Kind != OpDelete {
		return Op{}, fmt.Errorf("%w: kind %d", errBadOp, op.Kind)
	}
	return op, nil
}
