// Package satellite runs the sensing side of the relay: collect a record,
// deliver it to the gateway with acknowledgement, sleep, repeat.
package satellite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/radio"
	"github.com/skobkin/berryweather/internal/telemetry"
)

const roleName = "satellite"

// Radio is the module surface the satellite drives.
type Radio interface {
	radio.Endpoint
	radio.Commander
}

type Config struct {
	Module           radio.ModuleSettings
	Gateway          domain.Address
	HandshakeEnabled bool
	Handshake        radio.HandshakeConfig
	Delivery         radio.DeliveryPolicy
	Interval         time.Duration
	RunOnce          bool
}

type Runner struct {
	cfg       Config
	radio     Radio
	collector telemetry.Collector
	bus       bus.MessageBus
	logger    *slog.Logger

	// Sleep waits between cycles; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) bool
}

func NewRunner(cfg Config, r Radio, collector telemetry.Collector, b bus.MessageBus, logger *slog.Logger) *Runner {
	if cfg.Delivery.AckToken == "" {
		cfg.Delivery.AckToken = radio.TokenDataAck
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		cfg:       cfg,
		radio:     r,
		collector: collector,
		bus:       b,
		logger:    logger,
		Sleep:     sleepContext,
	}
}

// Run configures the module, performs the boot handshake and then runs
// collection cycles until ctx is done, or once when RunOnce is set.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.cfg.Delivery.Validate(); err != nil {
		return fmt.Errorf("satellite delivery policy: %w", err)
	}
	if _, err := radio.ConfigureModule(ctx, r.radio, r.cfg.Module, r.logger); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("satellite setup: %w", err)
	}

	if r.cfg.HandshakeEnabled {
		hs := radio.NewHandshake(r.radio, r.cfg.Handshake, r.logger)
		res := hs.Announce(ctx, r.cfg.Gateway)
		r.publish(connectors.TopicHandshake, connectors.HandshakeEvent{
			Role:     roleName,
			State:    res.State.String(),
			Attempts: res.Attempts,
			Peer:     uint16(res.Peer),
			At:       time.Now(),
		})
		if ctx.Err() != nil {
			return nil
		}
	}

	for cycle := 1; ; cycle++ {
		res, err := r.Cycle(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			r.logger.Warn("telemetry cycle skipped", "cycle", cycle, "error", err)
		default:
			r.logger.Info("telemetry cycle finished", "cycle", cycle, "outcome", res.Outcome.String(), "attempts", res.Attempts)
		}
		if r.cfg.RunOnce {
			return nil
		}
		if !r.Sleep(ctx, r.cfg.Interval) {
			return nil
		}
	}
}

// Cycle collects one record and delivers it. Delivery exhaustion is a result,
// not an error.
func (r *Runner) Cycle(ctx context.Context) (radio.DeliveryResult, error) {
	rec, err := r.collector.Collect(ctx)
	if err != nil {
		return radio.DeliveryResult{}, fmt.Errorf("collect: %w", err)
	}
	payload, err := telemetry.Encode(rec, radio.MaxPayloadLen(r.cfg.Gateway))
	if err != nil {
		return radio.DeliveryResult{}, fmt.Errorf("encode: %w", err)
	}

	res, err := radio.SendWithAck(ctx, r.radio, r.cfg.Gateway, payload, r.cfg.Delivery, r.logger)
	if err != nil {
		return res, fmt.Errorf("deliver: %w", err)
	}
	r.publish(connectors.TopicDelivery, connectors.DeliveryEvent{
		Dest:     uint16(r.cfg.Gateway),
		Outcome:  res.Outcome.String(),
		Attempts: res.Attempts,
		At:       time.Now(),
	})

	return res, nil
}

func (r *Runner) publish(topic string, msg any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, msg)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
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
