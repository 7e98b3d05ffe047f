// Package replica implements the replication handshake and streaming
// state machine: it dials the master, performs AUTH/REPLCONF/PSYNC,
// distinguishes FULLRESYNC from CONTINUE, drives the RDB decoder over
// the snapshot bulk body, then reads the continuous command stream and
// dispatches REPLCONF ACK heartbeats.
package replica

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"redisreplica/internal/command"
	"redisreplica/internal/rdb"
	"redisreplica/internal/redisx"
	"redisreplica/internal/resp"

	"redisreplica/internal/proto"
)

// Driver runs one replica session against a single master. It is safe
// to run on its own goroutine but holds no internal locking, since
// nothing inside a Driver is shared across goroutines: the only
// cross-goroutine state is the caller-owned cancellation flag and the
// ack-heartbeat goroutine's read of Conn.BytesRead, both already
// synchronized (atomic.Bool, atomic.Int64).
type Driver struct {
	cfg Config

	reconnectLimiter *rate.Limiter

	state State
	conn  *redisx.Conn

	// Cached across reconnects: a dropped connection may retry PSYNC
	// with the replid/offset learned from the previous FULLRESYNC.
	replID     string
	replOffset int64
}

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithReconnectLimiter paces reconnect attempts through r instead of
// retrying in a tight loop. A rate.Limiter configured with a slow
// refill (e.g. rate.NewLimiter(rate.Every(time.Second), 1)) models
// exponential-backoff-like spacing without hand-rolling a backoff
// timer. Tests that want immediate retries can pass
// rate.NewLimiter(rate.Inf, 0) or omit this option entirely.
func WithReconnectLimiter(r *rate.Limiter) Option {
	return func(d *Driver) { d.reconnectLimiter = r }
}

// NewDriver builds a Driver for cfg.
func NewDriver(cfg Config, opts ...Option) *Driver {
	d := &Driver{
		cfg:        cfg,
		state:      StateDisconnected,
		replID:     cfg.replID(),
		replOffset: cfg.replOffset(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// cancelAdapter satisfies rdb.Cancellable over the caller-owned
// *atomic.Bool: a single capability object rather than pervasive
// wrapping.
type cancelAdapter struct{ flag *atomic.Bool }

func (c cancelAdapter) Cancelled() bool { return c.flag != nil && c.flag.Load() }

// Start connects to the master and runs the replication session until
// a terminal condition: the handler aborts via cancel, the connection
// finishes cleanly (snapshot-only mode), or a non-recoverable protocol/
// encoding error occurs. IoErrors are treated as recoverable: Start
// reconnects (reusing the cached repl id/offset for a partial resync)
// rather than surfacing them, pacing attempts through the configured
// reconnect limiter. Every other error kind is fatal and returned
// immediately.
func (d *Driver) Start(ctx context.Context, cancel *atomic.Bool) error {
	cancelFlag := cancelAdapter{flag: cancel}
	for {
		if cancelFlag.Cancelled() {
			return nil
		}
		done, err := d.runSession(ctx, cancelFlag)
		if done {
			return nil
		}
		if err == nil {
			continue
		}
		if !proto.IsIoError(err) {
			return err
		}
		if d.reconnectLimiter != nil {
			if werr := d.reconnectLimiter.Wait(ctx); werr != nil {
				return err
			}
		}
	}
}

// runSession performs exactly one connect-handshake-snapshot-stream
// cycle. done=true tells Start to stop (clean shutdown); a non-nil err
// with done=false tells Start either to reconnect (IoError) or to
// abort (everything else).
func (d *Driver) runSession(ctx context.Context, cancel cancelAdapter) (done bool, err error) {
	d.state = StateConnecting
	conn, err := redisx.Dial(ctx, d.cfg.Addr)
	if err != nil {
		return false, err
	}
	d.conn = conn
	defer func() {
		conn.Close()
		d.conn = nil
	}()

	d.applyTimeouts()

	if err := d.handshake(); err != nil {
		return false, err
	}

	if d.state == StateFullResync {
		if err := d.receiveSnapshot(cancel); err != nil {
			if err == proto.ErrHandlerAborted {
				return true, nil
			}
			return false, err
		}
	}

	if !d.cfg.IsAOF {
		return true, nil
	}

	d.state = StateStreaming
	if err := d.streamCommands(ctx, cancel); err != nil {
		if err == proto.ErrHandlerAborted {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (d *Driver) applyTimeouts() {
	if d.cfg.ReadTimeout > 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
	}
}

// applyWriteTimeout sets the write deadline for the next write, when a
// write timeout is configured; a zero WriteTimeout leaves the
// connection's write deadline unset.
func (d *Driver) applyWriteTimeout() {
	if d.cfg.WriteTimeout > 0 {
		_ = d.conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	}
}

// handshake runs AUTH (if configured) -> REPLCONF listening-port ->
// REPLCONF capa (if configured) -> PSYNC, and classifies the PSYNC
// reply as FULLRESYNC or CONTINUE.
func (d *Driver) handshake() error {
	if d.cfg.Password != "" {
		d.state = StateAuthenticating
		d.applyWriteTimeout()
		frame, err := d.conn.Do("AUTH", d.cfg.Password)
		if err != nil {
			return err
		}
		if err := expectOK(frame); err != nil {
			return err
		}
	}

	d.state = StatePortAnnounced
	d.applyWriteTimeout()
	frame, err := d.conn.Do("REPLCONF", "listening-port", strconv.Itoa(d.cfg.ListeningPort))
	if err != nil {
		return err
	}
	if err := expectOK(frame); err != nil {
		return err
	}

	if d.cfg.AnnounceCapabilities {
		d.state = StateCapabilitiesNegotiated
		d.applyWriteTimeout()
		frame, err := d.conn.Do("REPLCONF", "capa", "eof", "capa", "psync2")
		if err != nil {
			return err
		}
		if err := expectOK(frame); err != nil {
			return err
		}
	}

	d.state = StatePsyncSent
	d.applyWriteTimeout()
	frame, err := d.conn.Do("PSYNC", d.replID, strconv.FormatInt(d.replOffset, 10))
	if err != nil {
		return err
	}
	if frame.Kind != resp.KindBytes {
		return proto.NewProtocolError("PSYNC: unexpected reply kind %v", frame.Kind)
	}
	fields := strings.Fields(string(frame.Bytes))
	if len(fields) == 0 {
		return proto.NewProtocolError("PSYNC: empty reply")
	}
	switch strings.ToUpper(fields[0]) {
	case "FULLRESYNC":
		if len(fields) >= 3 {
			d.replID = fields[1]
			if off, perr := strconv.ParseInt(fields[2], 10, 64); perr == nil {
				d.replOffset = off
			}
		}
		d.state = StateFullResync
	case "CONTINUE":
		if len(fields) >= 2 {
			d.replID = fields[1]
		}
		d.state = StateContinue
	default:
		return proto.NewProtocolError("PSYNC: unrecognized reply %q", frame.Bytes)
	}
	return nil
}

func expectOK(frame resp.Frame) error {
	if frame.Kind == resp.KindFailure {
		return &proto.ServerError{Msg: frame.Failure}
	}
	if frame.Kind != resp.KindBytes || strings.ToUpper(string(frame.Bytes)) != "OK" {
		return proto.NewProtocolError("expected +OK, got %+v", frame)
	}
	return nil
}

// receiveSnapshot reads the RDB bulk payload introduced by FULLRESYNC
// and decodes it through internal/rdb as it arrives, reading from the
// shared connection reader bounded by the bulk length or the EOF
// delimiter, so no byte past the snapshot body is consumed.
func (d *Driver) receiveSnapshot(cancel cancelAdapter) error {
	hdr, err := d.conn.Framer().ReadBulkHeader()
	if err != nil {
		return err
	}
	var body interface {
		Read(p []byte) (int, error)
	}
	if hdr.Length >= 0 {
		body = &limitedReader{r: d.conn.Reader(), n: hdr.Length}
	} else {
		body = resp.NewEOFDelimitedReader(d.conn.Reader().Raw(), hdr.Delimiter)
	}
	dec := rdb.NewDecoder(body, d.cfg.rdbOptions(), d.cfg.Handler, cancel)
	return dec.Decode()
}

// limitedReader adapts the shared primitive.Reader to io.Reader while
// enforcing the known RDB body length, without layering another
// bufio.Reader on top the way io.LimitReader(raw) would need a plain
// io.Reader source.
type limitedReader struct {
	r interface {
		ReadN(n int) ([]byte, error)
	}
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, io.EOF
	}
	want := int64(len(p))
	if want > l.n {
		want = l.n
	}
	data, err := l.r.ReadN(int(want))
	if err != nil {
		return 0, err
	}
	copy(p, data)
	l.n -= int64(len(data))
	return len(data), nil
}

// streamCommands reads the continuous command stream: each frame is
// either an array command (dispatched through internal/command) or a
// bare LF keepalive. A separate goroutine sends REPLCONF ACK at
// cfg.AckInterval until the loop returns.
func (d *Driver) streamCommands(ctx context.Context, cancel cancelAdapter) error {
	baseline := d.conn.BytesRead()
	stop := make(chan struct{})
	defer close(stop)
	go d.ackLoop(d.conn, baseline, stop)

	for {
		if cancel.Cancelled() {
			return proto.ErrHandlerAborted
		}
		if d.cfg.ReadTimeout > 0 {
			_ = d.conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		}
		frame, err := d.conn.Framer().ReadFrame()
		if err != nil {
			return err
		}
		switch frame.Kind {
		case resp.KindEmpty:
			continue // keepalive (\n) or an unexpected empty frame
		case resp.KindFailure:
			return &proto.ServerError{Msg: frame.Failure}
		case resp.KindBytesVec:
			cmd := command.Parse(frame.Vec)
			if err := d.cfg.Handler.Handle(proto.Event{Kind: proto.EventStream, Command: cmd}); err != nil {
				return err
			}
		default:
			return proto.NewProtocolError("streaming phase: unexpected frame kind %v", frame.Kind)
		}
	}
}

func (d *Driver) ackLoop(conn *redisx.Conn, baseline int64, stop <-chan struct{}) {
	interval := d.cfg.ackInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			offset := conn.BytesRead() - baseline
			if d.cfg.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
			}
			_ = conn.WriteCommand("REPLCONF", "ACK", strconv.FormatInt(offset, 10))
		}
	}
}

// State reports the driver's current handshake/streaming state.
func (d *Driver) State() State { return d.state }
