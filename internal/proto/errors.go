// Package proto holds the wire-independent data model shared by the RDB
// decoder, the RESP framer and the replication driver: events, objects,
// metadata and the error taxonomy they all report through.
package proto

import (
	"errors"
	"fmt"
)

// IoError wraps a socket read/write/timeout/EOF failure.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// ProtocolError reports a RESP framing violation: missing CRLF, a
// malformed length line, or a reply that doesn't start with a known tag.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

// MalformedEncodingError reports a bad RDB length prefix, a bad LZF
// stream, or a truncated packed container.
type MalformedEncodingError struct {
	Msg string
}

func (e *MalformedEncodingError) Error() string { return "malformed encoding: " + e.Msg }

// UnimplementedError reports a stream or module record encountered
// without a registered decoder/parser.
type UnimplementedError struct {
	Feature string
}

func (e *UnimplementedError) Error() string { return "unimplemented: " + e.Feature }

// ServerError wraps a RESP `-ERR ...` reply from the master, distinct
// from a ProtocolError: the frame itself was well formed, the master
// just refused the request.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string { return "server error: " + e.Msg }

// ErrHandlerAborted is returned by the RDB decoder and the streaming
// loop when they observe the cancellation flag. Driver.Start treats it
// as a normal, successful shutdown and returns nil.
var ErrHandlerAborted = fmt.Errorf("handler aborted")

func NewIoError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Err: err}
}

func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

func NewMalformedEncodingError(format string, args ...any) error {
	return &MalformedEncodingError{Msg: fmt.Sprintf(format, args...)}
}

func NewUnimplementedError(feature string) error {
	return &UnimplementedError{Feature: feature}
}

// IsIoError reports whether err is (or wraps) an *IoError, the only
// error kind a reconnect loop should treat as recoverable.
func IsIoError(err error) bool {
	var ioErr *IoError
	return errors.As(err, &ioErr)
}
