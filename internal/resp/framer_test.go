package resp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"redisreplica/internal/primitive"
	"redisreplica/internal/proto"
)

func newFramer(t *testing.T, data string) *Framer {
	t.Helper()
	return New(primitive.New(bytes.NewBufferString(data)))
}

func TestFramerSimpleString(t *testing.T) {
	f := newFramer(t, "+OK\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindBytes || string(frame.Bytes) != "OK" {
		t.Fatalf("got %+v", frame)
	}
}

func TestFramerError(t *testing.T) {
	f := newFramer(t, "-ERR unknown command\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindFailure || frame.Failure != "ERR unknown command" {
		t.Fatalf("got %+v", frame)
	}
}

func TestReadArrayFailureFrameSurfacesServerError(t *testing.T) {
	f := newFramer(t, "*2\r\n$1\r\na\r\n-ERR boom\r\n")
	_, err := f.ReadFrame()
	var serverErr *proto.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *proto.ServerError, got %v (%T)", err, err)
	}
	if serverErr.Msg != "ERR boom" {
		t.Fatalf("got %q", serverErr.Msg)
	}
}

func TestFramerInteger(t *testing.T) {
	f := newFramer(t, ":1000\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindBytes || string(frame.Bytes) != "1000" {
		t.Fatalf("got %+v", frame)
	}
}

func TestFramerBulkString(t *testing.T) {
	f := newFramer(t, "$5\r\nhello\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindBytes || string(frame.Bytes) != "hello" {
		t.Fatalf("got %+v", frame)
	}
}

func TestFramerNullBulk(t *testing.T) {
	f := newFramer(t, "$-1\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindEmpty {
		t.Fatalf("got %+v", frame)
	}
}

func TestFramerEmptyBulkConsumesCRLF(t *testing.T) {
	f := newFramer(t, "$0\r\n\r\n+OK\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindEmpty {
		t.Fatalf("got %+v", frame)
	}
	next, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame second: %v", err)
	}
	if next.Kind != KindBytes || string(next.Bytes) != "OK" {
		t.Fatalf("trailing CRLF not consumed cleanly: %+v", next)
	}
}

func TestFramerArray(t *testing.T) {
	f := newFramer(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != KindBytesVec || len(frame.Vec) != 3 {
		t.Fatalf("got %+v", frame)
	}
	want := []string{"SET", "k", "v"}
	for i, w := range want {
		if string(frame.Vec[i]) != w {
			t.Fatalf("element %d: got %q want %q", i, frame.Vec[i], w)
		}
	}
}

func TestFramerNestedArrayFlattened(t *testing.T) {
	f := newFramer(t, "*2\r\n*2\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n")
	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(frame.Vec) != len(want) {
		t.Fatalf("got %+v", frame)
	}
	for i, w := range want {
		if string(frame.Vec[i]) != w {
			t.Fatalf("element %d: got %q want %q", i, frame.Vec[i], w)
		}
	}
}

func TestReadBulkHeaderFixedLength(t *testing.T) {
	f := newFramer(t, "$6\r\nREDIS1")
	hdr, err := f.ReadBulkHeader()
	if err != nil {
		t.Fatalf("ReadBulkHeader: %v", err)
	}
	if hdr.Length != 6 {
		t.Fatalf("got length %d", hdr.Length)
	}
	body, err := f.Reader().ReadN(6)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if string(body) != "REDIS1" {
		t.Fatalf("got %q", body)
	}
}

func TestReadBulkHeaderEOFDelimited(t *testing.T) {
	delim := "0123456789012345678901234567890123456789"
	f := newFramer(t, "$EOF:"+delim+"\r\n")
	hdr, err := f.ReadBulkHeader()
	if err != nil {
		t.Fatalf("ReadBulkHeader: %v", err)
	}
	if hdr.Length != -1 || string(hdr.Delimiter) != delim {
		t.Fatalf("got %+v", hdr)
	}
}

func TestEOFDelimitedReader(t *testing.T) {
	delim := []byte("END__MARKER")
	body := "payload-bytes-here"
	raw := bufio.NewReader(bytes.NewBufferString(body + string(delim) + "trailing-garbage"))
	r := NewEOFDelimitedReader(raw, delim)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != body {
		t.Fatalf("got %q want %q", got, body)
	}
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after delimiter, got %v", err)
	}
}
