package radio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/domain"
)

const (
	DefaultHandshakeAttempts = 20
	DefaultHandshakeTimeout  = 3 * time.Second
	DefaultBootAckGrace      = 500 * time.Millisecond
)

var ErrHandshakeExhausted = errors.New("handshake attempts exhausted")

type HandshakeState int

const (
	HandshakeIdle HandshakeState = iota
	HandshakeAnnouncing
	HandshakeAwaitingAck
	HandshakeAcked
	HandshakeAwaitingBoot
	HandshakeAcknowledging
	HandshakeDone
	HandshakeFailed
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeIdle:
		return "idle"
	case HandshakeAnnouncing:
		return "announcing"
	case HandshakeAwaitingAck:
		return "awaiting_ack"
	case HandshakeAcked:
		return "acked"
	case HandshakeAwaitingBoot:
		return "awaiting_boot"
	case HandshakeAcknowledging:
		return "acknowledging"
	case HandshakeDone:
		return "done"
	case HandshakeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Succeeded reports a terminal success state for either role.
func (s HandshakeState) Succeeded() bool {
	return s == HandshakeAcked || s == HandshakeDone
}

type HandshakeConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	GraceDelay     time.Duration
}

func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		MaxAttempts:    DefaultHandshakeAttempts,
		AttemptTimeout: DefaultHandshakeTimeout,
		GraceDelay:     DefaultBootAckGrace,
	}
}

type HandshakeResult struct {
	State    HandshakeState
	Attempts int
	Peer     domain.Address
	Err      error
}

// Handshake is the one-time boot liveness exchange. A Failed result is
// informational; callers continue to the data phase.
type Handshake struct {
	endpoint Endpoint
	cfg      HandshakeConfig
	logger   *slog.Logger
	state    HandshakeState

	// Sleep waits out the gateway grace delay; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) bool
	// OnTransition observes every state change.
	OnTransition func(from, to HandshakeState)
	// OnFrame receives frames the gateway role does not consume while it waits.
	OnFrame func(ctx context.Context, frame Frame)
}

func NewHandshake(ep Endpoint, cfg HandshakeConfig, logger *slog.Logger) *Handshake {
	defaults := DefaultHandshakeConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaults.AttemptTimeout
	}
	if cfg.GraceDelay < 0 {
		cfg.GraceDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Handshake{
		endpoint: ep,
		cfg:      cfg,
		logger:   logger,
		Sleep:    sleepWithContext,
	}
}

func (h *Handshake) State() HandshakeState {
	return h.state
}

// Announce runs the satellite role: send BootAnnounce and wait one frame per
// attempt for BootAck, resending immediately otherwise.
func (h *Handshake) Announce(ctx context.Context, gateway domain.Address) HandshakeResult {
	h.transition(HandshakeIdle)
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return h.fail(attempt-1, err)
		}

		h.transition(HandshakeAnnouncing)
		if err := h.endpoint.Send(ctx, gateway, []byte(TokenBootAnnounce)); err != nil {
			if ctx.Err() != nil {
				return h.fail(attempt, ctx.Err())
			}
			h.logger.Warn("boot announce send failed", "attempt", attempt, "error", err)
			continue
		}

		h.transition(HandshakeAwaitingAck)
		frame, err := h.endpoint.Receive(ctx, h.cfg.AttemptTimeout)
		switch {
		case err == nil && Classify(frame.Payload).Kind == MessageBootAck:
			h.transition(HandshakeAcked)
			h.logger.Info("boot handshake acknowledged", "gateway", frame.Sender, "attempt", attempt)
			return HandshakeResult{State: HandshakeAcked, Attempts: attempt, Peer: frame.Sender}
		case err == nil:
			h.logger.Debug("unexpected frame while awaiting boot ack", "sender", frame.Sender, "attempt", attempt)
		case errors.Is(err, ErrReceiveTimeout):
			h.logger.Debug("boot ack timeout", "attempt", attempt)
		case ctx.Err() != nil:
			return h.fail(attempt, ctx.Err())
		default:
			h.logger.Warn("boot ack receive failed", "attempt", attempt, "error", err)
		}
	}

	return h.fail(h.cfg.MaxAttempts, ErrHandshakeExhausted)
}

// AwaitBoot runs the gateway role: wait passively for BootAnnounce over up to
// MaxAttempts windows, then answer it once after the grace delay.
func (h *Handshake) AwaitBoot(ctx context.Context) HandshakeResult {
	h.transition(HandshakeIdle)
	h.transition(HandshakeAwaitingBoot)
	for window := 1; window <= h.cfg.MaxAttempts; window++ {
		deadline := time.Now().Add(h.cfg.AttemptTimeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			frame, err := h.endpoint.Receive(ctx, remaining)
			if err != nil {
				if ctx.Err() != nil {
					return h.fail(window, ctx.Err())
				}
				if !errors.Is(err, ErrReceiveTimeout) {
					h.logger.Warn("boot announce receive failed", "window", window, "error", err)
				}
				break
			}
			if Classify(frame.Payload).Kind != MessageBootAnnounce {
				if h.OnFrame != nil {
					h.OnFrame(ctx, frame)
				}
				continue
			}

			h.transition(HandshakeAcknowledging)
			if err := RespondBoot(ctx, h.endpoint, frame.Sender, h.cfg.GraceDelay, h.Sleep); err != nil {
				return h.fail(window, err)
			}
			h.transition(HandshakeDone)
			h.logger.Info("boot handshake answered", "satellite", frame.Sender, "window", window)
			return HandshakeResult{State: HandshakeDone, Attempts: window, Peer: frame.Sender}
		}
	}

	return h.fail(h.cfg.MaxAttempts, ErrHandshakeExhausted)
}

// RespondBoot waits grace and sends a single BootAck to peer.
func RespondBoot(ctx context.Context, s Sender, peer domain.Address, grace time.Duration, sleep func(context.Context, time.Duration) bool) error {
	if sleep == nil {
		sleep = sleepWithContext
	}
	if !sleep(ctx, grace) {
		return ctx.Err()
	}

	return s.Send(ctx, peer, []byte(TokenBootAck))
}

func (h *Handshake) fail(attempts int, err error) HandshakeResult {
	h.transition(HandshakeFailed)
	h.logger.Warn("boot handshake failed, continuing", "attempts", attempts, "error", err)

	return HandshakeResult{State: HandshakeFailed, Attempts: attempts, Err: err}
}

func (h *Handshake) transition(to HandshakeState) {
	from := h.state
	h.state = to
	if h.OnTransition != nil && from != to {
		h.OnTransition(from, to)
	}
}
