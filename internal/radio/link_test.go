package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

func TestLinkReceive_SkipsModuleRepliesAndMalformedFrames(t *testing.T) {
	tr := &fakeTransport{}
	tr.queue("+OK", "+RCV=abc,x,1,2", `+RCV=10,13,{"t":1,"a":2},-42,7`)
	b := bus.New(nil)
	defer b.Close()
	frames := b.Subscribe(connectors.TopicFrameIn)

	link := NewLink(nil, b, tr)
	frame, err := link.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if frame.Sender != 10 || string(frame.Payload) != `{"t":1,"a":2}` {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	select {
	case raw := <-frames:
		ev, ok := raw.(connectors.FrameEvent)
		if !ok {
			t.Fatalf("expected FrameEvent, got %T", raw)
		}
		if ev.Sender != 10 || ev.RSSI != -42 || ev.SNR != 7 {
			t.Fatalf("unexpected frame event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame event")
	}
}

func TestLinkReceive_TimesOut(t *testing.T) {
	link := NewLink(nil, nil, &fakeTransport{})
	if _, err := link.Receive(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrReceiveTimeout) {
		t.Fatalf("expected ErrReceiveTimeout, got %v", err)
	}
}

func TestLinkSend_WritesSendCommand(t *testing.T) {
	tr := &fakeTransport{}
	link := NewLink(nil, nil, tr)
	if err := link.Send(context.Background(), 1, []byte("MM_ACK_DATA")); err != nil {
		t.Fatalf("send: %v", err)
	}
	lines := tr.writtenLines()
	if len(lines) != 1 || lines[0] != "AT+SEND=1,11,MM_ACK_DATA" {
		t.Fatalf("unexpected written lines: %q", lines)
	}
}

func TestLinkCommand_ReturnsReplyAndModuleErrors(t *testing.T) {
	tr := &fakeTransport{respond: func(line string) []string {
		switch line {
		case "AT+VER?":
			return []string{"+RCV=4,2,hi,-70,3", "+VER=RYLR896_SIM"}
		case "AT+BAND=1":
			return []string{"+ERR=4"}
		default:
			return []string{"+OK"}
		}
	}}
	link := NewLink(nil, nil, tr)

	reply, err := link.Command(context.Background(), "AT+VER?", time.Second)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if reply != "+VER=RYLR896_SIM" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if _, err := link.Command(context.Background(), "AT+BAND=1", time.Second); !errors.Is(err, ErrModuleError) {
		t.Fatalf("expected ErrModuleError, got %v", err)
	}
}

func TestLinkConnect_RetriesThenSucceeds(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{errors.New("busy"), errors.New("busy")}}
	link := NewLink(nil, nil, tr)
	link.SetConnectPolicy(3, time.Millisecond)

	if err := link.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if tr.connects != 3 {
		t.Fatalf("expected 3 connect attempts, got %d", tr.connects)
	}
}

func TestLinkConnect_GivesUp(t *testing.T) {
	tr := &fakeTransport{connectErrs: []error{errors.New("absent"), errors.New("absent")}}
	link := NewLink(nil, nil, tr)
	link.SetConnectPolicy(2, time.Millisecond)

	if err := link.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if tr.connects != 2 {
		t.Fatalf("expected 2 connect attempts, got %d", tr.connects)
	}
}
