package rdb

import (
	"encoding/binary"
	"strconv"

	"redisreplica/internal/packed"
	"redisreplica/internal/proto"
)

// Stream item flags, per t_stream.c.
const (
	streamItemFlagDeleted    = 1 << 0
	streamItemFlagSameFields = 1 << 1
)

// decodeStream implements a simplified stream decode path: a stream
// with no consumer groups decodes fully into its entries; a stream that
// does carry consumer groups surfaces as UnimplementedError rather than
// guessing at the PEL/consumer wire layout.
func (d *Decoder) decodeStream(key []byte, meta proto.Meta, typeByte byte) error {
	if !d.opts.EnableStreams {
		return proto.NewUnimplementedError("stream record (enable_streams is false)")
	}

	numNodes, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}

	var entries []proto.StreamEntry
	for i := uint64(0); i < numNodes; i++ {
		nodeEntries, err := d.decodeStreamListpackNode()
		if err != nil {
			return err
		}
		entries = append(entries, nodeEntries...)
	}

	if _, _, _, err := d.r.ReadLength(); err != nil { // logical length, unused
		return err
	}
	lastMS, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	lastSeq, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}

	if typeByte != TypeStreamListpacks {
		for i := 0; i < 2; i++ { // first_id, max_deleted_entry_id
			if _, _, _, err := d.r.ReadLength(); err != nil {
				return err
			}
			if _, _, _, err := d.r.ReadLength(); err != nil {
				return err
			}
		}
		if _, _, _, err := d.r.ReadLength(); err != nil { // entries_added
			return err
		}
	}

	numGroups, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	if numGroups > 0 {
		return proto.NewUnimplementedError("stream consumer groups")
	}

	return d.emitObject(proto.Object{
		Kind:          proto.ObjStream,
		Key:           key,
		Meta:          meta,
		StreamEntries: entries,
		StreamLastID:  proto.StreamID{MS: int64(lastMS), Seq: int64(lastSeq)},
	})
}

// decodeStreamListpackNode reads one (16-byte master id, listpack blob)
// pair and decodes it into entries with absolute ids.
func (d *Decoder) decodeStreamListpackNode() ([]proto.StreamEntry, error) {
	nodeKey, err := d.r.ReadString()
	if err != nil {
		return nil, err
	}
	if len(nodeKey) != 16 {
		return nil, proto.NewMalformedEncodingError("stream listpack node key: want 16 bytes, got %d", len(nodeKey))
	}
	masterMS := int64(binary.BigEndian.Uint64(nodeKey[0:8]))
	masterSeq := int64(binary.BigEndian.Uint64(nodeKey[8:16]))

	blob, err := d.r.ReadString()
	if err != nil {
		return nil, err
	}
	it, err := packed.NewListpack(blob)
	if err != nil {
		return nil, err
	}

	count, err := lpNextInt(it)
	if err != nil {
		return nil, err
	}
	deleted, err := lpNextInt(it)
	if err != nil {
		return nil, err
	}
	numFields, err := lpNextInt(it)
	if err != nil {
		return nil, err
	}
	masterFields := make([][]byte, numFields)
	for i := range masterFields {
		f, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, proto.NewMalformedEncodingError("stream listpack: truncated master field list")
		}
		masterFields[i] = f
	}
	if _, err := lpNextInt(it); err != nil { // master entry terminator (0)
		return nil, err
	}

	total := count + deleted
	entries := make([]proto.StreamEntry, 0, total)
	for i := int64(0); i < total; i++ {
		flags, err := lpNextInt(it)
		if err != nil {
			return nil, err
		}
		msDelta, err := lpNextInt(it)
		if err != nil {
			return nil, err
		}
		seqDelta, err := lpNextInt(it)
		if err != nil {
			return nil, err
		}
		id := proto.StreamID{MS: masterMS + msDelta, Seq: masterSeq + seqDelta}

		var fields []proto.HashField
		if flags&streamItemFlagSameFields != 0 {
			fields = make([]proto.HashField, 0, len(masterFields))
			for _, name := range masterFields {
				v, ok, err := it.Next()
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, proto.NewMalformedEncodingError("stream listpack: truncated same-fields entry")
				}
				fields = append(fields, proto.HashField{Name: name, Value: v})
			}
		} else {
			numf, err := lpNextInt(it)
			if err != nil {
				return nil, err
			}
			fields = make([]proto.HashField, 0, numf)
			for j := int64(0); j < numf; j++ {
				name, ok, err := it.Next()
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, proto.NewMalformedEncodingError("stream listpack: truncated field name")
				}
				val, ok, err := it.Next()
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, proto.NewMalformedEncodingError("stream listpack: truncated field value")
				}
				fields = append(fields, proto.HashField{Name: name, Value: val})
			}
		}
		if _, err := lpNextInt(it); err != nil { // lp_count back-pointer, unused
			return nil, err
		}

		entries = append(entries, proto.StreamEntry{ID: id, Deleted: flags&streamItemFlagDeleted != 0, Fields: fields})
	}
	return entries, nil
}

func lpNextInt(it *packed.ListpackIterator) (int64, error) {
	v, ok, err := it.Next()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, proto.NewMalformedEncodingError("stream listpack: unexpected end of entries")
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, proto.NewMalformedEncodingError("stream listpack: expected integer entry, got %q", v)
	}
	return n, nil
}
