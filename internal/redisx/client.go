// Package redisx is the thin TCP+RESP connection the replication
// driver dials to the master: command writing plus the same RESP
// framer (internal/resp) the driver later reuses for the streaming
// phase.
package redisx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"redisreplica/internal/primitive"
	"redisreplica/internal/proto"
	"redisreplica/internal/resp"
)

// Conn is a single TCP connection to a Redis-compatible master, used
// for the AUTH/REPLCONF/PSYNC handshake and, after FULLRESYNC/CONTINUE,
// as the byte source the driver keeps reading the command stream from.
type Conn struct {
	conn      net.Conn
	reader    *primitive.Reader
	framer    *resp.Framer
	bytesRead atomic.Int64
}

// countingReader increments n by every byte pulled off r, so the driver
// can compute the REPLCONF ACK offset without threading a counter
// through internal/rdb and internal/resp.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, proto.NewIoError("dial "+addr, err)
	}
	if tcpConn, ok := nc.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}
	c := &Conn{conn: nc}
	r := primitive.New(countingReader{r: nc, n: &c.bytesRead})
	c.reader = r
	c.framer = resp.New(r)
	return c, nil
}

// BytesRead returns the total bytes read off the connection so far.
// The driver snapshots this at the start of the streaming phase and
// reports the delta as the REPLCONF ACK offset.
func (c *Conn) BytesRead() int64 { return c.bytesRead.Load() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Reader exposes the shared primitive.Reader, so callers can hand it to
// internal/rdb for the FULLRESYNC snapshot body without re-buffering.
func (c *Conn) Reader() *primitive.Reader { return c.reader }

// Framer exposes the shared RESP framer for the streaming phase.
func (c *Conn) Framer() *resp.Framer { return c.framer }

// SetReadDeadline sets the read deadline honored by both Do's reply
// wait and the driver's own subsequent frame reads.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline for the next WriteCommand.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// WriteCommand writes args as a RESP array of bulk strings (the
// request side of the protocol; every handshake step and the streaming
// phase's REPLCONF ACK heartbeat use this).
func (c *Conn) WriteCommand(args ...string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&buf, "$%d\r\n%s\r\n", len(a), a)
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return proto.NewIoError("write command", err)
	}
	return nil
}

// Do writes a command and reads back one RESP frame, for handshake
// steps that expect a single reply (AUTH, REPLCONF, ...).
func (c *Conn) Do(args ...string) (resp.Frame, error) {
	if err := c.WriteCommand(args...); err != nil {
		return resp.Frame{}, err
	}
	return c.framer.ReadFrame()
}
