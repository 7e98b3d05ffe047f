package packed

import (
	"encoding/binary"
	"strconv"

	"redisreplica/internal/proto"
)

// IntsetIterator walks an intset payload: 32-bit little-endian encoding
// width (2, 4 or 8 bytes per element), 32-bit little-endian count, then
// count integers of the selected width, each rendered as decimal bytes.
type IntsetIterator struct {
	data     []byte
	offset   int
	width    int
	count    int
	emitted  int
}

// NewIntset builds an iterator over a complete intset byte string.
func NewIntset(data []byte) (*IntsetIterator, error) {
	if len(data) < 8 {
		return nil, proto.NewMalformedEncodingError("intset: payload too short (%d bytes)", len(data))
	}
	width := int(binary.LittleEndian.Uint32(data[0:4]))
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	switch width {
	case 2, 4, 8:
	default:
		return nil, proto.NewMalformedEncodingError("intset: unsupported element width %d", width)
	}
	return &IntsetIterator{data: data, offset: 8, width: width, count: count}, nil
}

func (it *IntsetIterator) Next() ([]byte, bool, error) {
	if it.emitted >= it.count {
		return nil, false, nil
	}
	if it.offset+it.width > len(it.data) {
		return nil, false, proto.NewMalformedEncodingError("intset: truncated element")
	}
	var v int64
	switch it.width {
	case 2:
		v = int64(int16(binary.LittleEndian.Uint16(it.data[it.offset : it.offset+2])))
	case 4:
		v = int64(int32(binary.LittleEndian.Uint32(it.data[it.offset : it.offset+4])))
	case 8:
		v = int64(binary.LittleEndian.Uint64(it.data[it.offset : it.offset+8]))
	}
	it.offset += it.width
	it.emitted++
	return []byte(strconv.FormatInt(v, 10)), true, nil
}
