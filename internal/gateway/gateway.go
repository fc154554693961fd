// Package gateway runs the receiving side of the relay: it answers boot
// announcements and hands telemetry frames to the bridge.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/bridge"
	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/radio"
)

const (
	roleName             = "gateway"
	defaultListenWindow  = 5 * time.Second
	maxConsecutiveErrors = 5
)

// Radio is the module surface the gateway drives.
type Radio interface {
	radio.Endpoint
	radio.Commander
}

// FrameHandler consumes telemetry frames; bridge.Bridge implements it.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame radio.Frame) bridge.Outcome
}

type Config struct {
	Module       radio.ModuleSettings
	Handshake    radio.HandshakeConfig
	WaitForBoot  bool
	ListenWindow time.Duration
}

type Runner struct {
	cfg     Config
	radio   Radio
	handler FrameHandler
	bus     bus.MessageBus
	logger  *slog.Logger

	// Sleep waits out the boot ack grace delay; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) bool
}

func NewRunner(cfg Config, r Radio, handler FrameHandler, b bus.MessageBus, logger *slog.Logger) *Runner {
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = defaultListenWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		cfg:     cfg,
		radio:   r,
		handler: handler,
		bus:     b,
		logger:  logger,
	}
}

// Run configures the module, optionally waits for a boot announcement, then
// serves frames until ctx is done. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := radio.ConfigureModule(ctx, r.radio, r.cfg.Module, r.logger); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("gateway setup: %w", err)
	}

	if r.cfg.WaitForBoot {
		hs := radio.NewHandshake(r.radio, r.cfg.Handshake, r.logger)
		if r.Sleep != nil {
			hs.Sleep = r.Sleep
		}
		hs.OnFrame = r.Dispatch
		res := hs.AwaitBoot(ctx)
		r.publishHandshake(res.State, res.Attempts, res.Peer)
		if ctx.Err() != nil {
			return nil
		}
	}

	return r.Listen(ctx)
}

// Listen receives frames until ctx is done. Consecutive transport errors end
// the loop with an error.
func (r *Runner) Listen(ctx context.Context) error {
	r.logger.Info("gateway listening", "address", r.cfg.Module.Address)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := r.radio.Receive(ctx, r.cfg.ListenWindow)
		switch {
		case err == nil:
			failures = 0
			r.Dispatch(ctx, frame)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, radio.ErrReceiveTimeout):
			failures = 0
		default:
			failures++
			r.logger.Warn("gateway receive failed", "failures", failures, "error", err)
			if failures >= maxConsecutiveErrors {
				return fmt.Errorf("gateway receive: %w", err)
			}
		}
	}
}

// Dispatch routes one received frame. Late boot announcements are answered,
// stray acknowledgements ignored and everything else goes to the bridge.
func (r *Runner) Dispatch(ctx context.Context, frame radio.Frame) {
	switch radio.Classify(frame.Payload).Kind {
	case radio.MessageBootAnnounce:
		r.logger.Info("late boot announce", "satellite", frame.Sender)
		if err := radio.RespondBoot(ctx, r.radio, frame.Sender, r.cfg.Handshake.GraceDelay, r.Sleep); err != nil {
			r.logger.Warn("boot ack send failed", "satellite", frame.Sender, "error", err)
			r.publishHandshake(radio.HandshakeFailed, 1, frame.Sender)
			return
		}
		r.publishHandshake(radio.HandshakeDone, 1, frame.Sender)
	case radio.MessageBootAck, radio.MessageDataAck:
		r.logger.Debug("stray acknowledgement ignored", "sender", frame.Sender)
	default:
		r.handler.HandleFrame(ctx, frame)
	}
}

func (r *Runner) publishHandshake(state radio.HandshakeState, attempts int, peer domain.Address) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(connectors.TopicHandshake, connectors.HandshakeEvent{
		Role:     roleName,
		State:    state.String(),
		Attempts: attempts,
		Peer:     uint16(peer),
		At:       time.Now(),
	})
}
