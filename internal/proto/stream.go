package proto

import "strconv"

// StreamID orders lexicographically on (MS, Seq).
type StreamID struct {
	MS  int64
	Seq int64
}

// Less reports whether id sorts strictly before other.
func (id StreamID) Less(other StreamID) bool {
	if id.MS != other.MS {
		return id.MS < other.MS
	}
	return id.Seq < other.Seq
}

// String renders the textual "{ms}-{seq}" form used by Redis clients.
func (id StreamID) String() string {
	return strconv.FormatInt(id.MS, 10) + "-" + strconv.FormatInt(id.Seq, 10)
}

// StreamEntry is one entry of a stream, in insertion order.
type StreamEntry struct {
	ID      StreamID
	Deleted bool
	Fields  []HashField
}

// StreamGroup is one consumer group registered against a stream.
type StreamGroup struct {
	Name   []byte
	LastID StreamID
}
