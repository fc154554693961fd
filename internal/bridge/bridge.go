package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/radio"
)

// Publisher is the broker-side sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

type Config struct {
	StatePrefix       string
	DiscoveryPrefix   string
	AvailabilityTopic string
	ExtendedSensors   bool
	AckToken          string
}

type OutcomeKind int

const (
	OutcomePublished OutcomeKind = iota + 1
	OutcomeDiscarded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePublished:
		return domain.OutcomePublished
	case OutcomeDiscarded:
		return domain.OutcomeDiscarded
	default:
		return "unknown"
	}
}

type Reason string

const (
	ReasonInvalidJSON   Reason = "invalid_json"
	ReasonPublishFailed Reason = "publish_failed"
)

type Outcome struct {
	Kind   OutcomeKind
	Topic  string
	Reason Reason
}

func Published(topic string) Outcome {
	return Outcome{Kind: OutcomePublished, Topic: topic}
}

func Discarded(reason Reason) Outcome {
	return Outcome{Kind: OutcomeDiscarded, Reason: reason}
}

// Bridge turns received telemetry frames into broker publishes.
type Bridge struct {
	cfg      Config
	registry *domain.Registry
	ack      radio.Sender
	pub      Publisher
	bus      bus.MessageBus
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, registry *domain.Registry, ack radio.Sender, pub Publisher, b bus.MessageBus, logger *slog.Logger) *Bridge {
	if cfg.StatePrefix == "" {
		cfg.StatePrefix = DefaultStatePrefix
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.AckToken == "" {
		cfg.AckToken = radio.TokenDataAck
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:      cfg,
		registry: registry,
		ack:      ack,
		pub:      pub,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleFrame acknowledges the frame, validates the payload and publishes it
// verbatim to the sender's state topic. The ack is sent before validation and
// is never withdrawn.
func (b *Bridge) HandleFrame(ctx context.Context, frame radio.Frame) Outcome {
	if err := b.ack.Send(ctx, frame.Sender, []byte(b.cfg.AckToken)); err != nil {
		b.logger.Warn("data ack send failed", "sender", frame.Sender, "error", err)
	}

	deviceID := b.registry.DeviceID(frame.Sender)
	if !radio.IsJSONObject(frame.Payload) {
		b.logger.Warn("invalid telemetry json discarded", "sender", frame.Sender, "payload", string(frame.Payload))
		return b.report(frame, deviceID, Discarded(ReasonInvalidJSON))
	}

	topic := StateTopic(b.cfg.StatePrefix, deviceID)
	if _, known := b.registry.Lookup(frame.Sender); !known {
		b.logger.Info("telemetry from unknown satellite", "sender", frame.Sender, "topic", topic)
	}
	if err := b.pub.Publish(ctx, topic, frame.Payload, 0, false); err != nil {
		b.logger.Error("state publish failed", "topic", topic, "error", err)
		return b.report(frame, deviceID, Discarded(ReasonPublishFailed))
	}
	b.logger.Debug("telemetry published", "sender", frame.Sender, "topic", topic)

	outcome := b.report(frame, deviceID, Published(topic))
	b.publishEvent(connectors.TopicTelemetry, connectors.TelemetryEvent{
		Sender:   uint16(frame.Sender),
		DeviceID: deviceID,
		Topic:    topic,
		Payload:  frame.Payload,
		At:       b.now(),
	})

	return outcome
}

// PublishDiscovery publishes every retained discovery document. Failures are
// collected so one bad publish does not hide the remaining sensors.
func (b *Bridge) PublishDiscovery(ctx context.Context) error {
	messages, err := b.DiscoveryMessages()
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range messages {
		if err := b.pub.Publish(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retain); err != nil {
			errs = append(errs, fmt.Errorf("publish discovery %s: %w", msg.Topic, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	b.logger.Info("discovery published", "satellites", b.registry.Len(), "documents", len(messages))

	return nil
}

func (b *Bridge) report(frame radio.Frame, deviceID string, outcome Outcome) Outcome {
	b.publishEvent(connectors.TopicBridgeOutcome, connectors.BridgeEvent{
		Sender:   uint16(frame.Sender),
		DeviceID: deviceID,
		Topic:    outcome.Topic,
		Outcome:  outcome.Kind.String(),
		Reason:   string(outcome.Reason),
		Payload:  frame.Payload,
		RSSI:     frame.RSSI,
		SNR:      frame.SNR,
		At:       b.now(),
	})

	return outcome
}

func (b *Bridge) publishEvent(topic string, msg any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(topic, msg)
}
