package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/domain"
)

const (
	DefaultDeliveryAttempts = 25
	DefaultDeliveryTimeout  = 6 * time.Second
)

type DeliveryOutcome int

const (
	DeliveryAcked DeliveryOutcome = iota + 1
	DeliveryExhausted
)

func (o DeliveryOutcome) String() string {
	switch o {
	case DeliveryAcked:
		return "acked"
	case DeliveryExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

type DeliveryPolicy struct {
	AckToken       string
	MaxAttempts    int
	AttemptTimeout time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		AckToken:       TokenDataAck,
		MaxAttempts:    DefaultDeliveryAttempts,
		AttemptTimeout: DefaultDeliveryTimeout,
	}
}

func (p DeliveryPolicy) Validate() error {
	if p.AckToken == "" {
		return errors.New("ack token is required")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive: %d", p.MaxAttempts)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive: %s", p.AttemptTimeout)
	}
	return nil
}

type DeliveryResult struct {
	Outcome  DeliveryOutcome
	Attempts int
}

// SendWithAck sends payload to dest and waits for one frame per attempt. The
// same payload is resent until a frame matches the ack token or MaxAttempts
// sends went unanswered. Exhaustion is reported as an outcome, not an error;
// errors are reserved for unencodable payloads, bad policies and cancellation.
func SendWithAck(ctx context.Context, ep Endpoint, dest domain.Address, payload []byte, policy DeliveryPolicy, logger *slog.Logger) (DeliveryResult, error) {
	if err := policy.Validate(); err != nil {
		return DeliveryResult{}, fmt.Errorf("delivery policy: %w", err)
	}
	if _, err := EncodeSend(dest, payload); err != nil {
		return DeliveryResult{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return DeliveryResult{Attempts: attempt - 1}, err
		}

		if err := ep.Send(ctx, dest, payload); err != nil {
			if ctx.Err() != nil {
				return DeliveryResult{Attempts: attempt}, ctx.Err()
			}
			logger.Warn("data send failed", "dest", dest, "attempt", attempt, "error", err)
			continue
		}

		frame, err := ep.Receive(ctx, policy.AttemptTimeout)
		switch {
		case err == nil && MatchesToken(frame.Payload, policy.AckToken):
			logger.Debug("data acknowledged", "dest", dest, "attempt", attempt, "rssi", frame.RSSI, "snr", frame.SNR)
			return DeliveryResult{Outcome: DeliveryAcked, Attempts: attempt}, nil
		case err == nil:
			logger.Debug("non-ack frame while awaiting data ack", "sender", frame.Sender, "attempt", attempt)
		case errors.Is(err, ErrReceiveTimeout):
			logger.Debug("data ack timeout", "dest", dest, "attempt", attempt)
		case ctx.Err() != nil:
			return DeliveryResult{Attempts: attempt}, ctx.Err()
		default:
			logger.Warn("data ack receive failed", "attempt", attempt, "error", err)
		}
	}

	logger.Warn("data delivery exhausted, continuing", "dest", dest, "attempts", policy.MaxAttempts)
	return DeliveryResult{Outcome: DeliveryExhausted, Attempts: policy.MaxAttempts}, nil
}
