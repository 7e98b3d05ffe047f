// Package primitive implements the fixed-width integer, RDB
// length-prefixed string, and RESP-line reading primitives that every
// higher-level decoder (packed-format iterators, the RDB opcode loop,
// the RESP framer) builds on.
package primitive

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"redisreplica/internal/lzf"
	"redisreplica/internal/proto"
)

// Special-encoding flags signalled by the top two bits of an RDB length
// prefix byte being 11 (see ReadLength).
const (
	EncInt8  = 0
	EncInt16 = 1
	EncInt32 = 2
	EncLZF   = 3
)

// Reader is a buffered cursor over a byte stream, used for both RDB
// decoding and RESP framing. It is not safe for concurrent use.
type Reader struct {
	r *bufio.Reader
}

// New wraps r in a Reader. If r is already a *bufio.Reader it is reused.
func New(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Raw exposes the underlying buffered reader so collaborators that need
// to hand the same byte source to another decoder (the RESP framer's
// bulk-injection point, handing the RDB bulk body to internal/rdb
// without copying) can do so without re-buffering the connection.
func (r *Reader) Raw() *bufio.Reader { return r.r }

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, proto.NewIoError("read byte", err)
	}
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	b, err := r.r.Peek(1)
	if err != nil {
		return 0, proto.NewIoError("peek byte", err)
	}
	return b[0], nil
}

// ReadN reads exactly n bytes.
func (r *Reader) ReadN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, proto.NewIoError("read bytes", err)
	}
	return buf, nil
}

// ReadInto reads exactly len(buf) bytes into the caller-supplied buffer,
// avoiding an allocation.
func (r *Reader) ReadInto(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return proto.NewIoError("read bytes", err)
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadByte()
	return b, err
}

func (r *Reader) ReadI8() (int8, error) {
	b, err := r.ReadByte()
	return int8(b), err
}

func (r *Reader) ReadU16LE() (uint16, error) {
	b, err := r.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU16BE() (uint16, error) {
	b, err := r.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadI16LE() (int16, error) {
	v, err := r.ReadU16LE()
	return int16(v), err
}

func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU32BE() (uint32, error) {
	b, err := r.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadI32LE() (int32, error) {
	v, err := r.ReadU32LE()
	return int32(v), err
}

func (r *Reader) ReadU64LE() (uint64, error) {
	b, err := r.ReadN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadI64LE() (int64, error) {
	v, err := r.ReadU64LE()
	return int64(v), err
}

func (r *Reader) ReadU64BE() (uint64, error) {
	b, err := r.ReadN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadDouble reads an 8-byte little-endian IEEE-754 float, as used by
// ZSET_2 scores and binary-encoded ZSET scores.
func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.ReadN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadLine consumes bytes up to and including a CRLF terminator and
// returns the line without the terminator. Used by the RESP framer.
func (r *Reader) ReadLine() ([]byte, error) {
	line, err := r.r.ReadSlice('\n')
	if err != nil {
		return nil, proto.NewIoError("read line", err)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, proto.NewProtocolError("line missing CRLF terminator")
	}
	out := make([]byte, len(line)-2)
	copy(out, line[:len(line)-2])
	return out, nil
}

// ReadLength reads one RDB length-prefix byte and decodes it per the
// two-top-bits dispatch table: 00 -> 6-bit length, 01 -> 14-bit length,
// 10 with b==0x80 -> 32-bit BE length, 10 with b==0x81 -> 64-bit BE
// length, 11 -> special encoding (isSpecial=true, enc = low six bits).
func (r *Reader) ReadLength() (length uint64, isSpecial bool, enc int, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, false, 0, err
	}
	switch (b >> 6) & 0x03 {
	case 0:
		return uint64(b & 0x3F), false, 0, nil
	case 1:
		next, err := r.ReadByte()
		if err != nil {
			return 0, false, 0, err
		}
		return (uint64(b&0x3F) << 8) | uint64(next), false, 0, nil
	case 2:
		switch b {
		case 0x80:
			v, err := r.ReadU32BE()
			if err != nil {
				return 0, false, 0, err
			}
			return uint64(v), false, 0, nil
		case 0x81:
			v, err := r.ReadU64BE()
			if err != nil {
				return 0, false, 0, err
			}
			return v, false, 0, nil
		default:
			return 0, false, 0, proto.NewMalformedEncodingError("unsupported length prefix byte 0x%02x", b)
		}
	default: // case 3
		return 0, true, int(b & 0x3F), nil
	}
}

// ReadString reads the next RDB byte string, honouring the length
// prefix and the three special encodings (int8/int16/int32 rendered as
// decimal bytes, LZF-compressed payload expanded to its original
// length). Any other special encoding flag is MalformedEncoding.
func (r *Reader) ReadString() ([]byte, error) {
	length, special, enc, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	if !special {
		return r.ReadN(int(length))
	}
	switch enc {
	case EncInt8:
		v, err := r.ReadI8()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case EncInt16:
		v, err := r.ReadI16LE()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case EncInt32:
		v, err := r.ReadI32LE()
		if err != nil {
			return nil, err
		}
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case EncLZF:
		compressedLen, _, _, err := r.ReadLength()
		if err != nil {
			return nil, err
		}
		origLen, _, _, err := r.ReadLength()
		if err != nil {
			return nil, err
		}
		compressed, err := r.ReadN(int(compressedLen))
		if err != nil {
			return nil, err
		}
		return lzf.Decompress(compressed, int(origLen))
	default:
		return nil, proto.NewMalformedEncodingError("unsupported string special encoding %d", enc)
	}
}
