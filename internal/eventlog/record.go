package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Stored value framing: uvarint(len(header)) | header | body | crc32c(header|body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errBadFrame = errors.New("malformed frame")
var errBadChecksum = errors.New("checksum mismatch")

func encodeFrame(header, body []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(body)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, frameChecksum(header, body))
}

func frameChecksum(header, body []byte) uint32 {
	return crc32.Update(crc32.Update(0, castagnoli, header), castagnoli, body)
}

// decodeFrame splits a stored value. The returned slices alias b.
func decodeFrame(b []byte) (header, body []byte, err error) {
	if len(b) < 1+4 {
		return nil, nil, errBadFrame
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || len(b)-n-4 < 0 || uint64(len(b)-n-4) < hlen {
		return nil, nil, errBadFrame
	}
	end := n + int(hlen)
	header, body = b[n:end], b[end:len(b)-4]
	if frameChecksum(header, body) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, errBadChecksum
	}
	return header, body, nil
}
