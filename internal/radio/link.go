package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/transport"
)

const (
	defaultConnectAttempts = 5
	maxConnectBackoff      = 15 * time.Second
	moduleErrorPrefix      = "+ERR="
)

var (
	// ErrReceiveTimeout is returned when no frame arrives within the window.
	ErrReceiveTimeout = transport.ErrReadTimeout
	ErrModuleError    = errors.New("radio module error")
)

// Sender transmits one payload to an addressed endpoint.
type Sender interface {
	Send(ctx context.Context, dest domain.Address, payload []byte) error
}

// Endpoint is the frame-level view of the radio used by the protocol state machines.
type Endpoint interface {
	Sender
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)
}

// Link drives a radio module over a line transport. It is owned by a single
// goroutine; the module is half-duplex and exchanges never overlap.
type Link struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus

	connectAttempts int
	connectBackoff  time.Duration
}

func NewLink(logger *slog.Logger, b bus.MessageBus, tr transport.Transport) *Link {
	if logger == nil {
		logger = slog.Default()
	}

	return &Link{
		logger:          logger,
		transport:       tr,
		bus:             b,
		connectAttempts: defaultConnectAttempts,
		connectBackoff:  time.Second,
	}
}

func (l *Link) SetConnectPolicy(attempts int, backoff time.Duration) {
	if attempts > 0 {
		l.connectAttempts = attempts
	}
	if backoff > 0 {
		l.connectBackoff = backoff
	}
}

func (l *Link) TransportName() string {
	return l.transport.Name()
}

// Connect opens the transport, retrying with a doubling backoff.
func (l *Link) Connect(ctx context.Context) error {
	backoff := l.connectBackoff
	var lastErr error
	for attempt := 1; attempt <= l.connectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		err := l.transport.Connect(ctx)
		if err == nil {
			l.publishConnStatus(connectors.ConnectionStateConnected, nil)
			return nil
		}
		lastErr = err
		l.publishConnStatus(connectors.ConnectionStateReconnecting, err)
		l.logger.Error("transport connect failed", "attempt", attempt, "error", err)
		if attempt == l.connectAttempts {
			break
		}
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		if backoff < maxConnectBackoff {
			backoff *= 2
		}
	}

	l.publishConnStatus(connectors.ConnectionStateDisconnected, lastErr)
	return fmt.Errorf("connect %s transport: %w", l.transport.Name(), lastErr)
}

func (l *Link) Close() error {
	err := l.transport.Close()
	l.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
	return err
}

func (l *Link) Send(ctx context.Context, dest domain.Address, payload []byte) error {
	cmd, err := EncodeSend(dest, payload)
	if err != nil {
		return err
	}
	if err := l.writeLine(ctx, cmd); err != nil {
		return fmt.Errorf("send to %d: %w", dest, err)
	}
	l.logger.Debug("frame sent", "dest", dest, "len", len(payload))

	return nil
}

// Receive returns the first frame decoded within timeout. Module replies and
// malformed frames are skipped without ending the window.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, ErrReceiveTimeout
		}

		line, err := l.readLine(ctx, remaining)
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				return Frame{}, ErrReceiveTimeout
			}
			return Frame{}, fmt.Errorf("receive: %w", err)
		}

		frame, err := DecodeFrame(line)
		switch {
		case errors.Is(err, ErrNotAFrame):
			l.logger.Debug("module line skipped", "line", string(line))
			continue
		case err != nil:
			l.logger.Warn("malformed frame dropped", "line", string(line), "error", err)
			continue
		}

		l.publish(connectors.TopicFrameIn, connectors.FrameEvent{
			Sender:     uint16(frame.Sender),
			Payload:    frame.Payload,
			RSSI:       frame.RSSI,
			SNR:        frame.SNR,
			ReceivedAt: time.Now(),
		})
		l.logger.Debug("frame received", "sender", frame.Sender, "len", len(frame.Payload), "rssi", frame.RSSI, "snr", frame.SNR)

		return frame, nil
	}
}

// Command writes an AT command and returns the module reply line.
// Frames arriving meanwhile are logged and dropped.
func (l *Link) Command(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := l.writeLine(ctx, []byte(cmd)); err != nil {
		return "", fmt.Errorf("command %s: %w", cmd, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("command %s: %w", cmd, ErrReceiveTimeout)
		}
		line, err := l.readLine(ctx, remaining)
		if err != nil {
			return "", fmt.Errorf("command %s: %w", cmd, err)
		}

		reply := strings.TrimSpace(string(line))
		switch {
		case strings.HasPrefix(reply, receivePrefix):
			l.logger.Warn("frame dropped during module command", "command", cmd, "line", reply)
			continue
		case reply == "+READY":
			continue
		case strings.HasPrefix(reply, moduleErrorPrefix):
			return reply, fmt.Errorf("command %s: %w: %s", cmd, ErrModuleError, reply)
		case strings.HasPrefix(reply, "+"):
			return reply, nil
		default:
			l.logger.Debug("unexpected module output", "command", cmd, "line", reply)
		}
	}
}

func (l *Link) readLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	line, err := l.transport.ReadLine(ctx, timeout)
	if err != nil {
		return nil, err
	}
	l.publish(connectors.TopicRawLineIn, connectors.RawLine{Text: string(line), Len: len(line)})

	return line, nil
}

func (l *Link) writeLine(ctx context.Context, line []byte) error {
	if err := l.transport.WriteLine(ctx, line); err != nil {
		return err
	}
	text := strings.TrimRight(string(line), "\r\n")
	l.publish(connectors.TopicRawLineOut, connectors.RawLine{Text: text, Len: len(text)})

	return nil
}

func (l *Link) publishConnStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnStatus{
		State:         state,
		TransportName: l.transport.Name(),
		Timestamp:     time.Now(),
	}
	if resolver, ok := l.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	l.publish(connectors.TopicConnStatus, status)
}

func (l *Link) publish(topic string, msg any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(topic, msg)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
