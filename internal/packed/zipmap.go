package packed

import (
	"encoding/binary"

	"redisreplica/internal/proto"
)

// ZipmapIterator walks the deprecated zipmap hash encoding: one length
// byte precedes the zipmap header itself, then (key, value) pairs each
// as a length-prefixed byte string, with one free byte preceding every
// value; a trailing 0xFF marks the end.
type ZipmapIterator struct {
	data     []byte
	offset   int
	done     bool
	readVal  bool // true when the next Next() call returns a value rather than a key
}

// NewZipmap builds an iterator over a complete zipmap byte string,
// skipping the leading one-byte zmlen field (whose value is only a
// hint and is never trusted for length - the data is walked to 0xFF).
func NewZipmap(data []byte) (*ZipmapIterator, error) {
	if len(data) < 1 {
		return nil, proto.NewMalformedEncodingError("zipmap: empty payload")
	}
	return &ZipmapIterator{data: data, offset: 1}, nil
}

// Next returns alternating key, value, key, value, ... byte strings.
// Callers decoding a hash should call Next twice per field.
func (z *ZipmapIterator) Next() ([]byte, bool, error) {
	if z.done {
		return nil, false, nil
	}
	if z.offset >= len(z.data) || z.data[z.offset] == 0xFF {
		z.done = true
		return nil, false, nil
	}

	length, n, err := readZmLen(z.data[z.offset:])
	if err != nil {
		return nil, false, err
	}
	z.offset += n

	if z.readVal {
		// One free byte precedes the value: it records how many free
		// bytes trail the value for in-place updates, and this reader
		// skips that many bytes after the value.
		if z.offset >= len(z.data) {
			return nil, false, proto.NewMalformedEncodingError("zipmap: truncated free-byte marker")
		}
		free := int(z.data[z.offset])
		z.offset++
		if z.offset+length+free > len(z.data) {
			return nil, false, proto.NewMalformedEncodingError("zipmap: truncated value")
		}
		value := z.data[z.offset : z.offset+length]
		z.offset += length + free
		z.readVal = false
		return value, true, nil
	}

	if z.offset+length > len(z.data) {
		return nil, false, proto.NewMalformedEncodingError("zipmap: truncated key")
	}
	key := z.data[z.offset : z.offset+length]
	z.offset += length
	z.readVal = true
	return key, true, nil
}

func readZmLen(data []byte) (length int, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, proto.NewMalformedEncodingError("zipmap: truncated length byte")
	}
	b := data[0]
	if b <= 253 {
		return int(b), 1, nil
	}
	if b == 254 {
		if len(data) < 5 {
			return 0, 0, proto.NewMalformedEncodingError("zipmap: truncated 32-bit length")
		}
		return int(binary.BigEndian.Uint32(data[1:5])), 5, nil
	}
	// 255 (0xFF) is the end marker and is handled by the caller before
	// reaching here.
	return 0, 0, proto.NewMalformedEncodingError("zipmap: unexpected length byte 0x%02x", b)
}
