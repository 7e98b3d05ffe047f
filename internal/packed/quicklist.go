package packed

import "redisreplica/internal/proto"

// QuicklistIterator flattens a quicklist's inner containers
// transparently: a count of inner nodes, each either a packed
// container (ziplist for LIST_QUICKLIST, listpack for
// LIST_QUICKLIST_2) holding several elements, or - for
// LIST_QUICKLIST_2 only - a single plain element stored unpacked.
type QuicklistIterator struct {
	nodes    [][]byte // each a raw ziplist/listpack byte string, or a plain element
	plain    []bool   // plain[i] true means nodes[i] is a single element, not a container; nil means no node is plain
	nodeIx   int
	inner    Iterator
	newInner func([]byte) (Iterator, error)
}

// NewQuicklist builds a flattening iterator over the given inner
// container byte strings (already read off the wire by the RDB
// decoder, one per node), using newInner to construct a sub-iterator
// (NewZiplist for LIST_QUICKLIST).
func NewQuicklist(nodes [][]byte, newInner func([]byte) (Iterator, error)) *QuicklistIterator {
	return &QuicklistIterator{nodes: nodes, newInner: newInner}
}

// NewQuicklist2 builds a flattening iterator for LIST_QUICKLIST_2,
// where each node carries a container-type tag: plain[i] true means
// nodes[i] is a single raw element, false means it is a listpack of
// several elements to be expanded via newInner.
func NewQuicklist2(nodes [][]byte, plain []bool, newInner func([]byte) (Iterator, error)) *QuicklistIterator {
	return &QuicklistIterator{nodes: nodes, plain: plain, newInner: newInner}
}

func (q *QuicklistIterator) isPlain(i int) bool {
	return q.plain != nil && i < len(q.plain) && q.plain[i]
}

func (q *QuicklistIterator) Next() ([]byte, bool, error) {
	for {
		if q.inner != nil {
			value, ok, err := q.inner.Next()
			if err != nil {
				return nil, false, err
			}
			if ok {
				return value, true, nil
			}
			q.inner = nil
		}
		if q.nodeIx >= len(q.nodes) {
			return nil, false, nil
		}
		if q.isPlain(q.nodeIx) {
			value := q.nodes[q.nodeIx]
			q.nodeIx++
			return value, true, nil
		}
		inner, err := q.newInner(q.nodes[q.nodeIx])
		if err != nil {
			return nil, false, proto.NewMalformedEncodingError("quicklist: node %d: %v", q.nodeIx, err)
		}
		q.nodeIx++
		q.inner = inner
	}
}
