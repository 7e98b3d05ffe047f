// Package packed implements lazy, single-pass cursors over the RDB
// packed sub-formats: ziplist, zipmap, intset, quicklist, listpack and
// the sorted-set binary encodings. Each cursor except
// BinarySortedSetIterator reads from an in-memory byte slice - the
// already-read RDB string that holds the whole container - rather than
// the socket; BinarySortedSetIterator reads from the live reader.
package packed

import "redisreplica/internal/proto"

// Iterator is a finite lazy sequence of byte strings. Next returns
// ok=false once exhausted; it never returns a value after that.
type Iterator interface {
	Next() (value []byte, ok bool, err error)
}

// ScoredItem is one (member, score) pair produced by a sorted-set
// iterator.
type ScoredItem = proto.SortedSetItem

// ScoredIterator is a finite lazy sequence of (member, score) pairs.
type ScoredIterator interface {
	Next() (item ScoredItem, ok bool, err error)
}
