package rdb

import (
	"fmt"
	"io"
	"strconv"

	"redisreplica/internal/packed"
	"redisreplica/internal/primitive"
	"redisreplica/internal/proto"
)

// Decoder is a streaming recognizer driven by a single-byte opcode. It
// reads from a *primitive.Reader and delivers events to a proto.Handler
// synchronously, checking the shared cancellation flag between records.
type Decoder struct {
	r       *primitive.Reader
	opts    Options
	handler proto.Handler
	cancel  Cancellable

	version int
	db      int

	// scratch batches, reused across records so the element batches
	// are not reallocated per record; the strings read into them are
	// still allocated per element.
	stringBatch [][]byte
	scoredBatch []proto.SortedSetItem
	fieldBatch  []proto.HashField
}

// Cancellable is polled between records so a long snapshot can be
// abandoned without waiting for it to finish.
type Cancellable interface {
	Cancelled() bool
}

// NewDecoder builds a Decoder reading RDB bytes from src.
func NewDecoder(src io.Reader, opts Options, handler proto.Handler, cancel Cancellable) *Decoder {
	return &Decoder{
		r:           primitive.New(src),
		opts:        opts,
		handler:     handler,
		cancel:      cancel,
		stringBatch: make([][]byte, 0, opts.batchSize()),
		scoredBatch: make([]proto.SortedSetItem, 0, opts.batchSize()),
		fieldBatch:  make([]proto.HashField, 0, opts.batchSize()),
	}
}

// metaBuilder accumulates expire/evict prefixes before a value-type
// opcode. It is a plain value, reset per record, so a failure mid-record
// can never leak a prefix into the next one.
type metaBuilder struct {
	db         int
	expireKind proto.ExpireKind
	expireAt   int64
	evictKind  proto.EvictKind
	evictValue int64
}

func (b metaBuilder) build() proto.Meta {
	return proto.Meta{
		DB:         b.db,
		ExpireKind: b.expireKind,
		ExpireAt:   b.expireAt,
		EvictKind:  b.evictKind,
		EvictValue: b.evictValue,
	}
}

// Decode reads the RDB header, then runs the opcode loop until EOF,
// emitting ObjBeginSnapshot before the first record and ObjEndSnapshot
// after the loop ends normally.
func (d *Decoder) Decode() error {
	if err := d.readHeader(); err != nil {
		return err
	}
	if err := d.emitObject(proto.Object{Kind: proto.ObjBeginSnapshot, Meta: proto.Meta{DB: d.db}}); err != nil {
		return err
	}

	meta := metaBuilder{db: d.db}
	for {
		if d.cancel != nil && d.cancel.Cancelled() {
			return proto.ErrHandlerAborted
		}
		op, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case OpAux:
			if _, err := d.r.ReadString(); err != nil {
				return err
			}
			if _, err := d.r.ReadString(); err != nil {
				return err
			}
			continue
		case OpSelectDB:
			length, _, _, err := d.r.ReadLength()
			if err != nil {
				return err
			}
			d.db = int(length)
			meta.db = d.db
			if err := d.emitSelect(d.db); err != nil {
				return err
			}
			continue
		case OpResizeDB:
			if _, _, _, err := d.r.ReadLength(); err != nil {
				return err
			}
			if _, _, _, err := d.r.ReadLength(); err != nil {
				return err
			}
			continue
		case OpExpireTimeMS:
			ms, err := d.r.ReadI64LE()
			if err != nil {
				return err
			}
			meta.expireKind = proto.ExpireMilliseconds
			meta.expireAt = ms
			continue
		case OpExpireTime:
			secs, err := d.r.ReadI32LE()
			if err != nil {
				return err
			}
			meta.expireKind = proto.ExpireSeconds
			meta.expireAt = int64(secs)
			continue
		case OpFreq:
			v, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			meta.evictKind = proto.EvictLFU
			meta.evictValue = int64(v)
			continue
		case OpIdle:
			v, _, _, err := d.r.ReadLength()
			if err != nil {
				return err
			}
			meta.evictKind = proto.EvictLRU
			meta.evictValue = int64(v)
			continue
		case OpModuleAux:
			return proto.NewUnimplementedError("MODULE_AUX opcode")
		case OpEOF:
			if d.version >= 5 {
				if _, err := d.r.ReadN(8); err != nil {
					return err
				}
			}
			return d.emitObject(proto.Object{Kind: proto.ObjEndSnapshot, Meta: proto.Meta{DB: d.db}})
		default:
			if err := d.decodeRecord(op, meta.build()); err != nil {
				return err
			}
			meta = metaBuilder{db: d.db}
		}
	}
}

func (d *Decoder) readHeader() error {
	magic, err := d.r.ReadN(9)
	if err != nil {
		return err
	}
	if len(magic) != 9 || string(magic[:5]) != "REDIS" {
		return proto.NewProtocolError("missing REDIS magic header")
	}
	version, err := strconv.Atoi(string(magic[5:9]))
	if err != nil {
		return proto.NewProtocolError("malformed RDB version %q", magic[5:9])
	}
	d.version = version
	return nil
}

func (d *Decoder) emitSelect(db int) error {
	return d.handler.Handle(proto.Event{
		Kind: proto.EventStream,
		Command: proto.Command{
			Kind: proto.CmdSelect,
			Name: []byte("SELECT"),
			DB:   db,
		},
	})
}

func (d *Decoder) emitObject(obj proto.Object) error {
	if d.opts.DiscardRDB && obj.Kind != proto.ObjBeginSnapshot && obj.Kind != proto.ObjEndSnapshot {
		return nil
	}
	return d.handler.Handle(proto.Event{Kind: proto.EventSnapshot, Object: obj})
}

func (d *Decoder) decodeRecord(typeByte byte, meta proto.Meta) error {
	key, err := d.r.ReadString()
	if err != nil {
		return err
	}
	switch typeByte {
	case TypeString:
		return d.decodeString(key, meta)
	case TypeList:
		return d.decodeStrings(key, meta, proto.ObjList)
	case TypeSet:
		return d.decodeStrings(key, meta, proto.ObjSet)
	case TypeHash:
		return d.decodeHash(key, meta)
	case TypeZSet:
		return d.decodeZSet(key, meta, 1)
	case TypeZSet2:
		return d.decodeZSet(key, meta, 2)
	case TypeHashZipmap:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewZipmap(raw) }, zipmapKindHash)
	case TypeListZiplist:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewZiplist(raw) }, zipmapKindList)
	case TypeSetIntset:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewIntset(raw) }, zipmapKindSet)
	case TypeZSetZiplist:
		return d.decodeScoredZiplist(key, meta)
	case TypeHashZiplist:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewZiplist(raw) }, zipmapKindHash)
	case TypeListQuicklist:
		return d.decodeQuicklist(key, meta)
	case TypeListQuicklist2:
		return d.decodeQuicklist2(key, meta)
	case TypeHashListpack:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewListpack(raw) }, zipmapKindHash)
	case TypeZSetListpack:
		return d.decodeScoredListpack(key, meta)
	case TypeSetListpack:
		return d.decodeContainerString(key, meta, func(raw []byte) (packed.Iterator, error) { return packed.NewListpack(raw) }, zipmapKindSet)
	case TypeStreamListpacks, TypeStreamListpacks2, TypeStreamListpacks3:
		return d.decodeStream(key, meta, typeByte)
	case TypeModule, TypeModule2:
		return d.decodeModule(key, meta, typeByte)
	default:
		return proto.NewProtocolError("unknown RDB value type byte 0x%02x", typeByte)
	}
}

func (d *Decoder) decodeString(key []byte, meta proto.Meta) error {
	val, err := d.r.ReadString()
	if err != nil {
		return err
	}
	return d.emitObject(proto.Object{Kind: proto.ObjString, Key: key, Meta: meta, Strings: [][]byte{val}})
}

// decodeStrings handles LIST/SET: a length N then N RDB strings,
// emitted in batches of opts.batchSize().
func (d *Decoder) decodeStrings(key []byte, meta proto.Meta, kind proto.ObjectKind) error {
	n, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	batch := d.stringBatch[:0]
	for i := uint64(0); i < n; i++ {
		v, err := d.r.ReadString()
		if err != nil {
			return err
		}
		batch = append(batch, v)
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: kind, Key: key, Meta: meta, Strings: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || n == 0 {
		if err := d.emitObject(proto.Object{Kind: kind, Key: key, Meta: meta, Strings: batch}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) decodeHash(key []byte, meta proto.Meta) error {
	n, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	batch := d.fieldBatch[:0]
	for i := uint64(0); i < n; i++ {
		name, err := d.r.ReadString()
		if err != nil {
			return err
		}
		value, err := d.r.ReadString()
		if err != nil {
			return err
		}
		batch = append(batch, proto.HashField{Name: name, Value: value})
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: proto.ObjHash, Key: key, Meta: meta, HashFields: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || n == 0 {
		if err := d.emitObject(proto.Object{Kind: proto.ObjHash, Key: key, Meta: meta, HashFields: batch}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) decodeZSet(key []byte, meta proto.Meta, version int) error {
	n, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	it := packed.NewBinarySortedSet(d.r, version, int(n))
	return d.drainScored(key, meta, it)
}

func (d *Decoder) drainScored(key []byte, meta proto.Meta, it packed.ScoredIterator) error {
	batch := d.scoredBatch[:0]
	sawItem := false
	for {
		item, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sawItem = true
		batch = append(batch, item)
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: proto.ObjSortedSet, Key: key, Meta: meta, ScoredItems: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || !sawItem {
		if err := d.emitObject(proto.Object{Kind: proto.ObjSortedSet, Key: key, Meta: meta, ScoredItems: batch}); err != nil {
			return err
		}
	}
	return nil
}

type containerKind int

const (
	zipmapKindList containerKind = iota
	zipmapKindSet
	zipmapKindHash
)

// decodeContainerString reads one RDB string holding a packed
// container, builds the iterator via newIter, and drains it as
// List/Set strings or Hash fields depending on kind.
func (d *Decoder) decodeContainerString(key []byte, meta proto.Meta, newIter func([]byte) (packed.Iterator, error), kind containerKind) error {
	raw, err := d.r.ReadString()
	if err != nil {
		return err
	}
	it, err := newIter(raw)
	if err != nil {
		return err
	}
	if kind == zipmapKindHash {
		return d.drainHashFields(key, meta, it)
	}
	objKind := proto.ObjList
	if kind == zipmapKindSet {
		objKind = proto.ObjSet
	}
	return d.drainStrings(key, meta, objKind, it)
}

func (d *Decoder) drainStrings(key []byte, meta proto.Meta, kind proto.ObjectKind, it packed.Iterator) error {
	batch := d.stringBatch[:0]
	sawItem := false
	for {
		v, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sawItem = true
		batch = append(batch, v)
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: kind, Key: key, Meta: meta, Strings: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || !sawItem {
		if err := d.emitObject(proto.Object{Kind: kind, Key: key, Meta: meta, Strings: batch}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) drainHashFields(key []byte, meta proto.Meta, it packed.Iterator) error {
	batch := d.fieldBatch[:0]
	sawItem := false
	for {
		name, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		value, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return proto.NewMalformedEncodingError("hash container: odd number of entries")
		}
		sawItem = true
		batch = append(batch, proto.HashField{Name: name, Value: value})
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: proto.ObjHash, Key: key, Meta: meta, HashFields: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || !sawItem {
		if err := d.emitObject(proto.Object{Kind: proto.ObjHash, Key: key, Meta: meta, HashFields: batch}); err != nil {
			return err
		}
	}
	return nil
}

// decodeScoredZiplist/decodeScoredListpack handle ZSET_ZIPLIST/
// ZSET_LISTPACK: the container is a flat sequence of (member, score)
// string pairs, where the score is textual (ASCII, possibly scientific
// notation) and parsed with strconv.ParseFloat.
func (d *Decoder) decodeScoredZiplist(key []byte, meta proto.Meta) error {
	raw, err := d.r.ReadString()
	if err != nil {
		return err
	}
	it, err := packed.NewZiplist(raw)
	if err != nil {
		return err
	}
	return d.drainTextScored(key, meta, it)
}

func (d *Decoder) decodeScoredListpack(key []byte, meta proto.Meta) error {
	raw, err := d.r.ReadString()
	if err != nil {
		return err
	}
	it, err := packed.NewListpack(raw)
	if err != nil {
		return err
	}
	return d.drainTextScored(key, meta, it)
}

func (d *Decoder) drainTextScored(key []byte, meta proto.Meta, it packed.Iterator) error {
	batch := d.scoredBatch[:0]
	sawItem := false
	for {
		member, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		scoreText, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return proto.NewMalformedEncodingError("sorted set container: missing score for member")
		}
		score, perr := strconv.ParseFloat(string(scoreText), 64)
		if perr != nil {
			return proto.NewMalformedEncodingError("sorted set container: bad score text %q: %v", scoreText, perr)
		}
		sawItem = true
		batch = append(batch, proto.SortedSetItem{Member: member, Score: score})
		if len(batch) == d.opts.batchSize() {
			if err := d.emitObject(proto.Object{Kind: proto.ObjSortedSet, Key: key, Meta: meta, ScoredItems: batch}); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 || !sawItem {
		if err := d.emitObject(proto.Object{Kind: proto.ObjSortedSet, Key: key, Meta: meta, ScoredItems: batch}); err != nil {
			return err
		}
	}
	return nil
}

// decodeQuicklist reads a length N then N RDB strings, each an inner
// ziplist node, and flattens them transparently via
// packed.QuicklistIterator.
func (d *Decoder) decodeQuicklist(key []byte, meta proto.Meta) error {
	n, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	nodes := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		node, err := d.r.ReadString()
		if err != nil {
			return err
		}
		nodes = append(nodes, node)
	}
	q := packed.NewQuicklist(nodes, func(raw []byte) (packed.Iterator, error) { return packed.NewZiplist(raw) })
	return d.drainStrings(key, meta, proto.ObjList, q)
}

// quicklistNodeContainer values precede every LIST_QUICKLIST_2 node.
const (
	quicklistNodeContainerPlain  = 1
	quicklistNodeContainerPacked = 2
)

// decodeQuicklist2 reads a length N then N nodes, each prefixed by a
// container-type length (plain or packed) before the node's RDB
// string: a plain node holds one element verbatim, a packed node holds
// a listpack of several elements.
func (d *Decoder) decodeQuicklist2(key []byte, meta proto.Meta) error {
	n, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	nodes := make([][]byte, 0, n)
	plain := make([]bool, 0, n)
	for i := uint64(0); i < n; i++ {
		container, _, _, err := d.r.ReadLength()
		if err != nil {
			return err
		}
		node, err := d.r.ReadString()
		if err != nil {
			return err
		}
		if container != quicklistNodeContainerPlain && container != quicklistNodeContainerPacked {
			return proto.NewMalformedEncodingError("quicklist2: node %d: unknown container type %d", i, container)
		}
		nodes = append(nodes, node)
		plain = append(plain, container == quicklistNodeContainerPlain)
	}
	q := packed.NewQuicklist2(nodes, plain, func(raw []byte) (packed.Iterator, error) { return packed.NewListpack(raw) })
	return d.drainStrings(key, meta, proto.ObjList, q)
}

func (d *Decoder) decodeModule(key []byte, meta proto.Meta, typeByte byte) error {
	if d.opts.Modules == nil {
		return proto.NewUnimplementedError(fmt.Sprintf("module record (type 0x%02x) with no registered parser", typeByte))
	}
	name, err := d.r.ReadString()
	if err != nil {
		return err
	}
	versionLen, _, _, err := d.r.ReadLength()
	if err != nil {
		return err
	}
	fn, ok := d.opts.Modules.Lookup(string(name), uint32(versionLen))
	if !ok {
		return proto.NewUnimplementedError(fmt.Sprintf("module %q version %d has no registered parser", name, versionLen))
	}
	data, err := fn(d.r)
	if err != nil {
		return err
	}
	return d.emitObject(proto.Object{
		Kind: proto.ObjModule, Key: key, Meta: meta,
		Module: &proto.ModuleValue{ModuleName: string(name), Version: uint32(versionLen), Data: data},
	})
}
