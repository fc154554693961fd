package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud = 115200

	defaultSerialReadTimeout = 100 * time.Millisecond
	serialReadChunk          = 64
)

type SerialTransport struct {
	portName string
	baudRate int
	logger   *slog.Logger

	mu      sync.Mutex
	port    serial.Port
	readMu  sync.Mutex
	lines   *lineBuffer
	writeMu sync.Mutex
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
		logger:   slog.With("component", "transport", "transport", "serial", "port", portName, "baud", baudRate),
		lines:    newLineBuffer(MaxLineLength),
	}
}

// ListSerialPorts returns the serial devices visible to the OS.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	return ports, nil
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	return t.PortName()
}

func (t *SerialTransport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

func (t *SerialTransport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baudRate
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("reset serial input buffer failed", "error", err)
	}
	t.port = port
	t.logger.Info("serial port opened", "baud", t.baudRate)

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialTransport) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	port, err := t.currentPort()
	if err != nil {
		return nil, err
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	return readLine(ctx, port, t.lines, timeout, t.logger)
}

func (t *SerialTransport) WriteLine(ctx context.Context, line []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	encoded, err := encodeLine(line)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, encoded); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// readLine polls r until a complete line is buffered or the window closes.
// r is expected to return (0, nil) when its own read timeout elapses.
func readLine(ctx context.Context, r io.Reader, lines *lineBuffer, timeout time.Duration, logger *slog.Logger) ([]byte, error) {
	if line, ok := lines.next(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, serialReadChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrReadTimeout
		}

		n, err := r.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read line: %w", err)
		}
		if n == 0 {
			continue
		}
		if dropped := lines.feed(chunk[:n]); dropped && logger != nil {
			logger.Warn("dropped unterminated serial input")
		}
		if line, ok := lines.next(); ok {
			return line, nil
		}
	}
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
