package replica

import (
	"time"

	"redisreplica/internal/proto"
	"redisreplica/internal/rdb"
)

// Config configures a Driver.
type Config struct {
	// Addr is the master's host:port.
	Addr string
	// Password is the AUTH secret; empty skips AUTH.
	Password string
	// ReplID is the replication id sent with PSYNC; "?" (the default)
	// forces a full sync.
	ReplID string
	// ReplOffset is the replication offset sent with PSYNC; -1 (the
	// default) forces a full sync.
	ReplOffset int64

	// ReadTimeout is set once as a read deadline when a session connects,
	// covering the handshake and the whole snapshot transfer, and again
	// before each frame read in the streaming phase. WriteTimeout is set
	// as a write deadline before each command written. Zero means no
	// deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ListeningPort is announced via REPLCONF listening-port.
	ListeningPort int
	// AnnounceCapabilities controls whether REPLCONF capa eof capa
	// psync2 is sent.
	AnnounceCapabilities bool
	// AckInterval is the spacing between REPLCONF ACK heartbeats during
	// streaming; <= 0 uses a one-second interval.
	AckInterval time.Duration

	// DiscardRDB skips delivery of RDB object events while still
	// consuming the bytes (is_discard_rdb).
	DiscardRDB bool
	// IsAOF, if false, disconnects cleanly after the snapshot phase
	// instead of entering the streaming loop.
	IsAOF bool
	// BatchSize overrides internal/rdb's default container batch size.
	BatchSize int
	// EnableStreams toggles STREAM_LISTPACKS* decoding (see internal/rdb).
	EnableStreams bool
	// Modules resolves MODULE/MODULE_2 parsers; nil makes every module
	// record UnimplementedError.
	Modules rdb.ModuleRegistry

	// Handler receives every decoded Event.
	Handler proto.Handler
}

func (c Config) rdbOptions() rdb.Options {
	return rdb.Options{
		BatchSize:     c.BatchSize,
		DiscardRDB:    c.DiscardRDB,
		EnableStreams: c.EnableStreams,
		Modules:       c.Modules,
	}
}

func (c Config) replID() string {
	if c.ReplID == "" {
		return "?"
	}
	return c.ReplID
}

func (c Config) replOffset() int64 {
	if c.ReplOffset == 0 {
		return -1
	}
	return c.ReplOffset
}

func (c Config) ackInterval() time.Duration {
	if c.AckInterval > 0 {
		return c.AckInterval
	}
	return time.Second
}
