package rdb

import (
	"bytes"
	"errors"
	"testing"

	"redisreplica/internal/proto"
)

func header() []byte { return []byte("REDIS0011") }

func lenPrefix(n uint64) []byte {
	switch {
	case n < 64:
		return []byte{byte(n)}
	case n < 16384:
		return []byte{0x40 | byte(n>>8), byte(n)}
	default:
		return []byte{0x80, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

func rdbStr(s string) []byte {
	return append(lenPrefix(uint64(len(s))), []byte(s)...)
}

func eof() []byte {
	b := []byte{OpEOF}
	return append(b, make([]byte, 8)...)
}

type captureHandler struct {
	events []proto.Event
}

// Handle keeps copies of the event's slices: the decoder reuses its
// batch slices, so they are only valid during this call.
func (c *captureHandler) Handle(ev proto.Event) error {
	ev.Object.Strings = append([][]byte(nil), ev.Object.Strings...)
	ev.Object.ScoredItems = append([]proto.SortedSetItem(nil), ev.Object.ScoredItems...)
	ev.Object.HashFields = append([]proto.HashField(nil), ev.Object.HashFields...)
	c.events = append(c.events, ev)
	return nil
}

func decodeAll(t *testing.T, data []byte, opts Options) ([]proto.Event, error) {
	t.Helper()
	h := &captureHandler{}
	d := NewDecoder(bytes.NewReader(data), opts, h, nil)
	err := d.Decode()
	return h.events, err
}

func TestDecodeStringWithExpire(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(OpAux)
	buf.Write(rdbStr("redis-ver"))
	buf.Write(rdbStr("7.0.0"))
	buf.WriteByte(OpSelectDB)
	buf.Write(lenPrefix(0))
	buf.WriteByte(OpExpireTimeMS)
	ms := int64(1700000000000)
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(ms >> (8 * i)))
	}
	buf.WriteByte(TypeString)
	buf.Write(rdbStr("foo"))
	buf.Write(rdbStr("bar"))
	buf.Write(eof())

	events, err := decodeAll(t, buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	if events[0].Object.Kind != proto.ObjBeginSnapshot {
		t.Fatalf("event0 kind = %v, want BeginSnapshot", events[0].Object.Kind)
	}
	if events[1].Kind != proto.EventStream || events[1].Command.Kind != proto.CmdSelect || events[1].Command.DB != 0 {
		t.Fatalf("event1 = %+v, want SELECT 0", events[1])
	}
	strEv := events[2]
	if strEv.Object.Kind != proto.ObjString || string(strEv.Object.Key) != "foo" {
		t.Fatalf("event2 = %+v, want String foo", strEv)
	}
	if len(strEv.Object.Strings) != 1 || string(strEv.Object.Strings[0]) != "bar" {
		t.Fatalf("string value = %+v, want bar", strEv.Object.Strings)
	}
	if !strEv.Object.Meta.HasExpire() || strEv.Object.Meta.ExpireKind != proto.ExpireMilliseconds || strEv.Object.Meta.ExpireAt != ms {
		t.Fatalf("meta = %+v, want expire-ms %d", strEv.Object.Meta, ms)
	}
	if events[3].Object.Kind != proto.ObjEndSnapshot {
		t.Fatalf("event3 kind = %v, want EndSnapshot", events[3].Object.Kind)
	}
}

func TestDecodeListBatchesAcrossBoundary(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeList)
	buf.Write(rdbStr("mylist"))
	buf.Write(lenPrefix(5))
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		buf.Write(rdbStr(v))
	}
	buf.Write(eof())

	events, err := decodeAll(t, buf.Bytes(), Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got []string
	batches := 0
	for _, ev := range events {
		if ev.Object.Kind == proto.ObjList {
			batches++
			for _, s := range ev.Object.Strings {
				got = append(got, string(s))
			}
		}
	}
	if batches != 3 {
		t.Fatalf("got %d list batches, want 3", batches)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func ziplistHeader(count uint16) []byte {
	h := make([]byte, 10)
	h[8] = byte(count)
	h[9] = byte(count >> 8)
	return h
}

func TestDecodeZSetZiplistScientificNotationScore(t *testing.T) {
	var zl bytes.Buffer
	zl.Write(ziplistHeader(2))
	zl.WriteByte(0) // prevlen
	zl.WriteByte(0x02)
	zl.WriteString("m1")
	zl.WriteByte(0) // prevlen
	zl.WriteByte(0x03)
	zl.WriteString("1e3")
	zl.WriteByte(0xFF)

	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeZSetZiplist)
	buf.Write(rdbStr("myzset"))
	buf.Write(append(lenPrefix(uint64(zl.Len())), zl.Bytes()...))
	buf.Write(eof())

	events, err := decodeAll(t, buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var item *proto.SortedSetItem
	for _, ev := range events {
		if ev.Object.Kind == proto.ObjSortedSet && len(ev.Object.ScoredItems) > 0 {
			item = &ev.Object.ScoredItems[0]
		}
	}
	if item == nil {
		t.Fatal("no sorted set item decoded")
	}
	if string(item.Member) != "m1" || item.Score != 1000.0 {
		t.Fatalf("got %+v, want member m1 score 1000", item)
	}
}

func lpHeaderFor(count uint16) []byte {
	h := make([]byte, 6)
	h[4] = byte(count)
	h[5] = byte(count >> 8)
	return h
}

func TestDecodeQuicklist2MixesPlainAndPackedNodes(t *testing.T) {
	var packed bytes.Buffer
	packed.Write(lpHeaderFor(2))
	lpEntryStr(&packed, "b")
	lpEntryStr(&packed, "c")
	packed.WriteByte(0xFF)

	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeListQuicklist2)
	buf.Write(rdbStr("mylist"))
	buf.Write(lenPrefix(2)) // 2 nodes
	buf.Write(lenPrefix(1)) // node 0: PLAIN
	buf.Write(rdbStr("a"))
	buf.Write(lenPrefix(2)) // node 1: PACKED (listpack)
	buf.Write(append(lenPrefix(uint64(packed.Len())), packed.Bytes()...))
	buf.Write(eof())

	events, err := decodeAll(t, buf.Bytes(), Options{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got []string
	for _, ev := range events {
		if ev.Object.Kind == proto.ObjList {
			for _, s := range ev.Object.Strings {
				got = append(got, string(s))
			}
		}
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDecodeQuicklist2RejectsUnknownContainer(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeListQuicklist2)
	buf.Write(rdbStr("mylist"))
	buf.Write(lenPrefix(1))
	buf.Write(lenPrefix(3)) // neither PLAIN(1) nor PACKED(2)
	buf.Write(rdbStr("x"))
	buf.Write(eof())

	_, err := decodeAll(t, buf.Bytes(), Options{})
	var merr *proto.MalformedEncodingError
	if !errors.As(err, &merr) {
		t.Fatalf("got %v, want MalformedEncodingError", err)
	}
}

func lpEntryInt(buf *bytes.Buffer, v int) {
	buf.WriteByte(byte(v))
	buf.WriteByte(1) // backlen for a 1-byte entry
}

func lpEntryStr(buf *bytes.Buffer, s string) {
	buf.WriteByte(0x80 | byte(len(s)))
	buf.WriteString(s)
	buf.WriteByte(1) // backlen for a (1+len)-byte entry, still < 128
}

func TestDecodeStreamWithoutGroups(t *testing.T) {
	var lp bytes.Buffer
	// master header: count=1, deleted=0, numFields=1, field "temp", terminator 0
	lpEntryInt(&lp, 1)
	lpEntryInt(&lp, 0)
	lpEntryInt(&lp, 1)
	lpEntryStr(&lp, "temp")
	lpEntryInt(&lp, 0)
	// one entry: flags=SAMEFIELDS(2), msDelta=0, seqDelta=1, value "98.6", lp_count=7
	lpEntryInt(&lp, streamItemFlagSameFields)
	lpEntryInt(&lp, 0)
	lpEntryInt(&lp, 1)
	lpEntryStr(&lp, "98.6")
	lpEntryInt(&lp, 7)

	lpHeader := make([]byte, 6)
	lpHeader[4] = byte(10)
	lpHeader[5] = 0
	blob := append(append([]byte{}, lpHeader...), lp.Bytes()...)
	blob = append(blob, 0xFF)

	masterID := make([]byte, 16)
	putBE64(masterID[0:8], 1000)
	putBE64(masterID[8:16], 0)

	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeStreamListpacks2)
	buf.Write(rdbStr("mystream"))
	buf.Write(lenPrefix(1)) // numNodes
	buf.Write(append(lenPrefix(uint64(len(masterID))), masterID...))
	buf.Write(append(lenPrefix(uint64(len(blob))), blob...))
	buf.Write(lenPrefix(1))    // logical length
	buf.Write(lenPrefix(1000)) // last_id ms
	buf.Write(lenPrefix(1))    // last_id seq
	buf.Write(lenPrefix(1000)) // first_id ms
	buf.Write(lenPrefix(0))    // first_id seq
	buf.Write(lenPrefix(0))    // max_deleted ms
	buf.Write(lenPrefix(0))    // max_deleted seq
	buf.Write(lenPrefix(1))    // entries_added
	buf.Write(lenPrefix(0))    // numGroups
	buf.Write(eof())

	events, err := decodeAll(t, buf.Bytes(), Options{EnableStreams: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var streamObj *proto.Object
	for i := range events {
		if events[i].Object.Kind == proto.ObjStream {
			streamObj = &events[i].Object
		}
	}
	if streamObj == nil {
		t.Fatal("no stream object decoded")
	}
	if len(streamObj.StreamEntries) != 1 {
		t.Fatalf("got %d entries, want 1", len(streamObj.StreamEntries))
	}
	entry := streamObj.StreamEntries[0]
	if entry.ID.MS != 1000 || entry.ID.Seq != 1 {
		t.Fatalf("entry id = %+v, want {1000 1}", entry.ID)
	}
	if len(entry.Fields) != 1 || string(entry.Fields[0].Name) != "temp" || string(entry.Fields[0].Value) != "98.6" {
		t.Fatalf("entry fields = %+v", entry.Fields)
	}
	if streamObj.StreamLastID.MS != 1000 || streamObj.StreamLastID.Seq != 1 {
		t.Fatalf("last id = %+v", streamObj.StreamLastID)
	}
}

func putBE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[7-i] = byte(v >> (8 * i))
	}
}

func TestDecodeStreamDisabledIsUnimplemented(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeStreamListpacks)
	buf.Write(rdbStr("s"))
	buf.Write(lenPrefix(0))
	buf.Write(eof())

	_, err := decodeAll(t, buf.Bytes(), Options{})
	var unimpl *proto.UnimplementedError
	if !errors.As(err, &unimpl) {
		t.Fatalf("got %v, want UnimplementedError", err)
	}
}

func TestDecodeModuleWithoutRegistryIsUnimplemented(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(header())
	buf.WriteByte(TypeModule2)
	buf.Write(rdbStr("k"))
	buf.Write(rdbStr("mymodule"))
	buf.Write(lenPrefix(1))
	buf.Write(eof())

	_, err := decodeAll(t, buf.Bytes(), Options{})
	var unimpl *proto.UnimplementedError
	if !errors.As(err, &unimpl) {
		t.Fatalf("got %v, want UnimplementedError", err)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := append([]byte("NOTREDIS1"), eof()...)
	_, err := decodeAll(t, data, Options{})
	var perr *proto.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want ProtocolError", err)
	}
}
