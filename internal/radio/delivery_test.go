package radio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(maxAttempts int) DeliveryPolicy {
	return DeliveryPolicy{AckToken: TokenDataAck, MaxAttempts: maxAttempts, AttemptTimeout: 10 * time.Millisecond}
}

func TestSendWithAck_AckedOnNthAttempt(t *testing.T) {
	for n := 1; n <= 5; n++ {
		steps := make([]receiveStep, 0, n)
		for i := 1; i < n; i++ {
			if i%2 == 0 {
				steps = append(steps, frameStep(1, "MM_ACK_BOOT"))
			} else {
				steps = append(steps, timeoutStep())
			}
		}
		steps = append(steps, frameStep(1, TokenDataAck))
		ep := &scriptedEndpoint{steps: steps}

		res, err := SendWithAck(context.Background(), ep, 1, []byte(`{"t":1}`), testPolicy(5), nil)
		if err != nil {
			t.Fatalf("n=%d: send with ack: %v", n, err)
		}
		if res.Outcome != DeliveryAcked {
			t.Fatalf("n=%d: expected acked, got %v", n, res.Outcome)
		}
		if res.Attempts != n {
			t.Fatalf("n=%d: expected %d attempts, got %d", n, n, res.Attempts)
		}
		sent := ep.sentFrames()
		if len(sent) != n {
			t.Fatalf("n=%d: expected %d sends, got %d", n, n, len(sent))
		}
		for _, s := range sent {
			if s.dest != 1 || s.payload != `{"t":1}` {
				t.Fatalf("n=%d: expected identical resend, got %+v", n, s)
			}
		}
	}
}

func TestSendWithAck_ExhaustedAfterExactlyMaxAttempts(t *testing.T) {
	ep := &scriptedEndpoint{steps: []receiveStep{frameStep(1, `{"h":50}`), frameStep(1, "hello")}}

	res, err := SendWithAck(context.Background(), ep, 1, []byte(`{"t":1}`), testPolicy(4), nil)
	if err != nil {
		t.Fatalf("send with ack: %v", err)
	}
	if res.Outcome != DeliveryExhausted {
		t.Fatalf("expected exhausted, got %v", res.Outcome)
	}
	if res.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", res.Attempts)
	}
	if got := len(ep.sentFrames()); got != 4 {
		t.Fatalf("expected exactly 4 sends, got %d", got)
	}
	if ep.receives != 4 {
		t.Fatalf("expected 4 receive windows, got %d", ep.receives)
	}
}

func TestSendWithAck_SubstringTokenAcks(t *testing.T) {
	ep := &scriptedEndpoint{steps: []receiveStep{frameStep(1, "ok:MM_ACK_DATA:7")}}

	res, err := SendWithAck(context.Background(), ep, 1, []byte("x"), testPolicy(3), nil)
	if err != nil {
		t.Fatalf("send with ack: %v", err)
	}
	if res.Outcome != DeliveryAcked || res.Attempts != 1 {
		t.Fatalf("expected acked on first attempt, got %+v", res)
	}
}

func TestSendWithAck_TelemetryMentioningTokenDoesNotAck(t *testing.T) {
	ep := &scriptedEndpoint{steps: []receiveStep{frameStep(2, `{"note":"MM_ACK_DATA"}`)}}

	res, err := SendWithAck(context.Background(), ep, 1, []byte("x"), testPolicy(1), nil)
	if err != nil {
		t.Fatalf("send with ack: %v", err)
	}
	if res.Outcome != DeliveryExhausted {
		t.Fatalf("expected exhausted, got %v", res.Outcome)
	}
}

func TestSendWithAck_SendFailureConsumesAttempt(t *testing.T) {
	ep := &scriptedEndpoint{
		steps:    []receiveStep{frameStep(1, TokenDataAck)},
		sendErrs: map[int]error{1: errors.New("serial write failed")},
	}

	res, err := SendWithAck(context.Background(), ep, 1, []byte("x"), testPolicy(3), nil)
	if err != nil {
		t.Fatalf("send with ack: %v", err)
	}
	if res.Outcome != DeliveryAcked || res.Attempts != 2 {
		t.Fatalf("expected ack on second attempt, got %+v", res)
	}
}

func TestSendWithAck_RejectsOversizedPayloadWithoutSending(t *testing.T) {
	ep := &scriptedEndpoint{}

	_, err := SendWithAck(context.Background(), ep, 1, bytes.Repeat([]byte("x"), MaxModulePayload+1), testPolicy(3), nil)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if len(ep.sentFrames()) != 0 {
		t.Fatalf("expected no sends")
	}
}

func TestSendWithAck_RejectsInvalidPolicy(t *testing.T) {
	_, err := SendWithAck(context.Background(), &scriptedEndpoint{}, 1, []byte("x"), DeliveryPolicy{}, nil)
	if err == nil {
		t.Fatalf("expected policy error")
	}
}

func TestSendWithAck_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SendWithAck(ctx, &scriptedEndpoint{}, 1, []byte("x"), testPolicy(3), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
