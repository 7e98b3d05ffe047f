package packed

import (
	"math"

	"redisreplica/internal/primitive"
)

// BinarySortedSetIterator reads (member, score) pairs directly off the
// RDB stream for the ZSET (v1) and ZSET_2 (v2) top-level record types -
// unlike the other packed iterators, this one is not walking an
// already-buffered container string, because the RDB decoder gives it
// the live primitive.Reader and a known element count.
type BinarySortedSetIterator struct {
	r       *primitive.Reader
	version int // 1 or 2
	count   int
	emitted int
}

// NewBinarySortedSet builds an iterator that will read exactly count
// pairs from r, using version to select the v1 tagged-score or v2
// raw-double encoding.
func NewBinarySortedSet(r *primitive.Reader, version, count int) *BinarySortedSetIterator {
	return &BinarySortedSetIterator{r: r, version: version, count: count}
}

func (it *BinarySortedSetIterator) Next() (ScoredItem, bool, error) {
	if it.emitted >= it.count {
		return ScoredItem{}, false, nil
	}
	member, err := it.r.ReadString()
	if err != nil {
		return ScoredItem{}, false, err
	}
	score, err := it.readScore()
	if err != nil {
		return ScoredItem{}, false, err
	}
	it.emitted++
	return ScoredItem{Member: member, Score: score}, true, nil
}

// readScore decodes a binary sorted-set score: v2 scores are always a
// raw 8-byte double; v1 scores are an 8-bit tag that is either one of
// the three special values (NaN/+inf/-inf) or a flag preceding a raw
// 8-byte double. This is distinct from the ASCII-text score encoding
// used inside a ziplist-packed sorted set, which is handled by the
// generic ziplist string-entry path and parsed with strconv.ParseFloat.
func (it *BinarySortedSetIterator) readScore() (float64, error) {
	if it.version == 2 {
		return it.r.ReadDouble()
	}
	tag, err := it.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch tag {
	case 253:
		return math.NaN(), nil
	case 254:
		return math.Inf(1), nil
	case 255:
		return math.Inf(-1), nil
	default:
		return it.r.ReadDouble()
	}
}
