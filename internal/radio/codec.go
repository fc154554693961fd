package radio

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/transport"
)

const (
	sendCommandPrefix = "AT+SEND="
	receivePrefix     = "+RCV="

	// MaxLineLength bounds a whole AT command including CRLF.
	MaxLineLength = transport.MaxLineLength
	// MaxModulePayload is the RYLR896/998 per-packet payload limit.
	MaxModulePayload = 240
)

var (
	ErrNotAFrame         = errors.New("not a receive frame")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrMalformedAddress  = fmt.Errorf("%w: sender address", ErrMalformedFrame)
	ErrMalformedMetrics  = fmt.Errorf("%w: rssi/snr", ErrMalformedFrame)
	ErrEmptyPayload      = errors.New("empty payload")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrPayloadTerminator = errors.New("payload contains line terminator")
	ErrReservedAddress   = errors.New("destination address is reserved")
)

// Frame is one packet reported by the radio module.
type Frame struct {
	Sender  domain.Address
	Payload []byte
	RSSI    int
	SNR     int
}

// EncodeSend builds the AT+SEND command that transmits payload to dest.
func EncodeSend(dest domain.Address, payload []byte) ([]byte, error) {
	if !dest.Valid() {
		return nil, ErrReservedAddress
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if bytes.ContainsAny(payload, "\r\n") {
		return nil, ErrPayloadTerminator
	}
	if len(payload) > MaxModulePayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds module limit %d", ErrPayloadTooLarge, len(payload), MaxModulePayload)
	}

	cmd := make([]byte, 0, sendOverhead(dest, len(payload))+len(payload))
	cmd = append(cmd, sendCommandPrefix...)
	cmd = strconv.AppendUint(cmd, uint64(dest), 10)
	cmd = append(cmd, ',')
	cmd = strconv.AppendInt(cmd, int64(len(payload)), 10)
	cmd = append(cmd, ',')
	cmd = append(cmd, payload...)
	cmd = append(cmd, "\r\n"...)
	if len(cmd) > MaxLineLength {
		return nil, fmt.Errorf("%w: command is %d bytes, limit %d", ErrPayloadTooLarge, len(cmd), MaxLineLength)
	}

	return cmd, nil
}

// MaxPayloadLen reports the largest payload EncodeSend accepts for dest.
func MaxPayloadLen(dest domain.Address) int {
	for n := MaxModulePayload; n > 0; n-- {
		if sendOverhead(dest, n)+n <= MaxLineLength {
			return n
		}
	}
	return 0
}

func sendOverhead(dest domain.Address, payloadLen int) int {
	return len(sendCommandPrefix) +
		len(strconv.FormatUint(uint64(dest), 10)) + 1 +
		len(strconv.Itoa(payloadLen)) + 1 +
		2
}

// DecodeFrame parses "+RCV=<addr>,<payload>,<rssi>,<snr>". RSSI and SNR are the
// last two fields, so the payload may contain commas. A leading length field
// as emitted by the module is recognized when it matches the payload size.
//
// The length field is not self-describing: a line without one whose payload
// happens to start with "<n>," followed by exactly n bytes loses that prefix,
// so "+RCV=10,3,abc,-42,7" decodes to "abc". Lines from the module always carry
// the field, which keeps "+RCV=10,5,3,abc,-42,7" decoding to "3,abc".
func DecodeFrame(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte(receivePrefix)) {
		return Frame{}, ErrNotAFrame
	}
	rest := line[len(receivePrefix):]

	addrField, remainder, found := bytes.Cut(rest, []byte{','})
	sender, err := parseSender(addrField)
	if err != nil {
		return Frame{}, err
	}
	if !found {
		return Frame{}, ErrMalformedMetrics
	}

	snrIdx := bytes.LastIndexByte(remainder, ',')
	if snrIdx < 0 {
		return Frame{}, ErrMalformedMetrics
	}
	rssiIdx := bytes.LastIndexByte(remainder[:snrIdx], ',')
	if rssiIdx < 0 {
		return Frame{}, ErrMalformedMetrics
	}
	rssi, err := strconv.Atoi(string(bytes.TrimSpace(remainder[rssiIdx+1 : snrIdx])))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: rssi %q", ErrMalformedMetrics, remainder[rssiIdx+1:snrIdx])
	}
	snr, err := strconv.Atoi(string(bytes.TrimSpace(remainder[snrIdx+1:])))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: snr %q", ErrMalformedMetrics, remainder[snrIdx+1:])
	}

	payload := stripLengthField(remainder[:rssiIdx])
	if len(payload) == 0 {
		return Frame{}, ErrEmptyPayload
	}

	return Frame{
		Sender:  sender,
		Payload: append([]byte(nil), payload...),
		RSSI:    rssi,
		SNR:     snr,
	}, nil
}

func parseSender(field []byte) (domain.Address, error) {
	v, err := strconv.ParseUint(string(bytes.TrimSpace(field)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, field)
	}
	addr := domain.Address(v)
	if !addr.Valid() {
		return 0, fmt.Errorf("%w: reserved address 0", ErrMalformedAddress)
	}

	return addr, nil
}

func stripLengthField(p []byte) []byte {
	head, tail, found := bytes.Cut(p, []byte{','})
	if !found || len(head) == 0 {
		return p
	}
	for _, c := range head {
		if c < '0' || c > '9' {
			return p
		}
	}
	declared, err := strconv.Atoi(string(head))
	if err != nil || declared != len(tail) {
		return p
	}

	return tail
}
