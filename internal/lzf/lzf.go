// Package lzf decompresses the LZF-compressed byte strings embedded in
// RDB string encodings. It wraps github.com/zhuyie/golzf rather than
// re-deriving the control-byte state machine.
package lzf

import (
	"redisreplica/internal/proto"

	"github.com/zhuyie/golzf"
)

// Decompress expands src (a compressed block of known compressed length)
// into exactly outLen bytes. A short or over-long result, or a
// back-reference the underlying decoder rejects, is reported as
// proto.MalformedEncodingError.
func Decompress(src []byte, outLen int) ([]byte, error) {
	dst := make([]byte, outLen)
	n, err := golzf.Decompress(src, dst)
	if err != nil {
		return nil, proto.NewMalformedEncodingError("lzf: %v", err)
	}
	if n != outLen {
		return nil, proto.NewMalformedEncodingError("lzf: expected %d decompressed bytes, got %d", outLen, n)
	}
	return dst, nil
}
