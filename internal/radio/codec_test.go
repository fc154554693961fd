package radio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/skobkin/berryweather/internal/domain"
)

// moduleReceiveLine mirrors what a receiving RYLR module prints for a send command.
func moduleReceiveLine(t *testing.T, src domain.Address, cmd []byte, rssi, snr int) []byte {
	t.Helper()

	body := strings.TrimSuffix(string(cmd), "\r\n")
	body = strings.TrimPrefix(body, sendCommandPrefix)
	_, rest, ok := strings.Cut(body, ",")
	if !ok {
		t.Fatalf("unexpected send command %q", cmd)
	}

	return []byte(fmt.Sprintf("+RCV=%d,%s,%d,%d\r\n", src, rest, rssi, snr))
}

func TestEncodeSend(t *testing.T) {
	got, err := EncodeSend(1, []byte(`{"t":21.5}`))
	if err != nil {
		t.Fatalf("encode send: %v", err)
	}
	if string(got) != "AT+SEND=1,11,{\"t\":21.5}\r\n" {
		t.Fatalf("unexpected command: %q", got)
	}
}

func TestEncodeSendRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		dest    domain.Address
		payload []byte
		want    error
	}{
		{name: "reserved destination", dest: 0, payload: []byte("x"), want: ErrReservedAddress},
		{name: "empty payload", dest: 1, payload: nil, want: ErrEmptyPayload},
		{name: "embedded newline", dest: 1, payload: []byte("a\nb"), want: ErrPayloadTerminator},
		{name: "over module limit", dest: 1, payload: bytes.Repeat([]byte("x"), MaxModulePayload+1), want: ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		if _, err := EncodeSend(tt.dest, tt.payload); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestMaxPayloadLenFitsLineLimit(t *testing.T) {
	for _, dest := range []domain.Address{1, 99, 65535} {
		n := MaxPayloadLen(dest)
		if n <= 0 {
			t.Fatalf("dest %d: expected positive max payload, got %d", dest, n)
		}
		cmd, err := EncodeSend(dest, bytes.Repeat([]byte("x"), n))
		if err != nil {
			t.Fatalf("dest %d: max payload should encode: %v", dest, err)
		}
		if len(cmd) > MaxLineLength {
			t.Fatalf("dest %d: command length %d exceeds limit", dest, len(cmd))
		}
	}
}

func TestDecodeFramePreservesEmbeddedCommas(t *testing.T) {
	frame, err := DecodeFrame([]byte(`+RCV=10,{"t":1,"a":2},-42,7`))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Sender != 10 {
		t.Fatalf("expected sender 10, got %d", frame.Sender)
	}
	if string(frame.Payload) != `{"t":1,"a":2}` {
		t.Fatalf("unexpected payload: %q", frame.Payload)
	}
	if frame.RSSI != -42 || frame.SNR != 7 {
		t.Fatalf("expected rssi=-42 snr=7, got rssi=%d snr=%d", frame.RSSI, frame.SNR)
	}
}

func TestDecodeFrameStripsModuleLengthField(t *testing.T) {
	frame, err := DecodeFrame([]byte("+RCV=2,17,SATELLITE_BOOT_OK,-51,11\r\n"))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if string(frame.Payload) != "SATELLITE_BOOT_OK" {
		t.Fatalf("expected length field stripped, got %q", frame.Payload)
	}
}

func TestDecodeFrameKeepsLeadingNumberThatIsNotALength(t *testing.T) {
	frame, err := DecodeFrame([]byte("+RCV=2,3,abcdef,-51,11"))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if string(frame.Payload) != "3,abcdef" {
		t.Fatalf("expected payload untouched, got %q", frame.Payload)
	}
}

func TestDecodeFrameLengthFieldVectors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{line: "+RCV=10,3,abc,-42,7", want: "abc"},
		{line: "+RCV=10,5,3,abc,-42,7", want: "3,abc"},
		{line: "+RCV=10,5,abc,-42,7", want: "5,abc"},
		{line: "+RCV=10,x3,abc,-42,7", want: "x3,abc"},
		{line: "+RCV=10,,abc,-42,7", want: ",abc"},
	}

	for _, tc := range tests {
		frame, err := DecodeFrame([]byte(tc.line))
		if err != nil {
			t.Fatalf("%s: decode frame: %v", tc.line, err)
		}
		if string(frame.Payload) != tc.want {
			t.Fatalf("%s: expected payload %q, got %q", tc.line, tc.want, frame.Payload)
		}
		if frame.Sender != 10 || frame.RSSI != -42 || frame.SNR != 7 {
			t.Fatalf("%s: unexpected link fields %+v", tc.line, frame)
		}
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{line: "+OK", want: ErrNotAFrame},
		{line: "+ERR=4", want: ErrNotAFrame},
		{line: "+RCV=abc,hi,-40,5", want: ErrMalformedAddress},
		{line: "+RCV=0,hi,-40,5", want: ErrMalformedAddress},
		{line: "+RCV=70000,hi,-40,5", want: ErrMalformedAddress},
		{line: "+RCV=10", want: ErrMalformedMetrics},
		{line: "+RCV=10,-42,7", want: ErrMalformedMetrics},
		{line: "+RCV=10,hi,-4x,7", want: ErrMalformedMetrics},
		{line: "+RCV=10,hi,-42,", want: ErrMalformedMetrics},
		{line: "+RCV=10,,-42,7", want: ErrEmptyPayload},
		{line: "+RCV=10,0,,-42,7", want: ErrEmptyPayload},
	}
	for _, tt := range tests {
		_, err := DecodeFrame([]byte(tt.line))
		if !errors.Is(err, tt.want) {
			t.Fatalf("%q: expected %v, got %v", tt.line, tt.want, err)
		}
	}
	if _, err := DecodeFrame([]byte("+RCV=10,-42,7")); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected metrics error to wrap ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"t":22.1,"h":55}`),
		[]byte("MM_ACK_DATA"),
		[]byte("4,abcd"),
		[]byte(" , ,"),
		bytes.Repeat([]byte("z"), MaxPayloadLen(7)),
	}
	for _, payload := range payloads {
		cmd, err := EncodeSend(7, payload)
		if err != nil {
			t.Fatalf("encode %q: %v", payload, err)
		}
		frame, err := DecodeFrame(moduleReceiveLine(t, 3, cmd, -80, 4))
		if err != nil {
			t.Fatalf("decode %q: %v", payload, err)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("round trip mismatch: got %q want %q", frame.Payload, payload)
		}
		if frame.Sender != 3 || frame.RSSI != -80 || frame.SNR != 4 {
			t.Fatalf("unexpected frame metadata: %+v", frame)
		}
	}
}
