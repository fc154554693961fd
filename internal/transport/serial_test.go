package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// chunkReader returns queued chunks and then behaves like a serial port whose
// read timeout elapsed.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestReadLineAssemblesChunks(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("+RCV=1"), []byte("0,2,hi,-40,9\r"), []byte("\n")}}

	line, err := readLine(context.Background(), r, newLineBuffer(0), time.Second, nil)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if string(line) != "+RCV=10,2,hi,-40,9" {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestReadLineTimesOut(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("+RCV=10,partial")}}

	_, err := readLine(context.Background(), r, newLineBuffer(0), 20*time.Millisecond, nil)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
}

func TestReadLineKeepsBufferedLines(t *testing.T) {
	buf := newLineBuffer(0)
	r := &chunkReader{chunks: [][]byte{[]byte("+OK\r\n+READY\r\n")}}

	first, err := readLine(context.Background(), r, buf, time.Second, nil)
	if err != nil || string(first) != "+OK" {
		t.Fatalf("expected +OK, got %q (%v)", first, err)
	}
	second, err := readLine(context.Background(), r, buf, time.Second, nil)
	if err != nil || string(second) != "+READY" {
		t.Fatalf("expected +READY, got %q (%v)", second, err)
	}
}

func TestReadLineHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := readLine(ctx, &chunkReader{}, newLineBuffer(0), time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWriteFullWritesEverything(t *testing.T) {
	var out bytes.Buffer
	if err := writeFull(context.Background(), &out, []byte("AT\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.String() != "AT\r\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestSerialTransportRequiresConnect(t *testing.T) {
	tr := NewSerialTransport("/dev/ttyUSB0", DefaultSerialBaud)
	if _, err := tr.ReadLine(context.Background(), time.Millisecond); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.WriteLine(context.Background(), []byte("AT")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSerialTransportRejectsEmptyPort(t *testing.T) {
	tr := NewSerialTransport("", DefaultSerialBaud)
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatalf("expected error for empty port")
	}
}
