package radio

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/transport"
)

type sentFrame struct {
	dest    domain.Address
	payload string
}

type receiveStep struct {
	frame Frame
	err   error
}

func frameStep(sender domain.Address, payload string) receiveStep {
	return receiveStep{frame: Frame{Sender: sender, Payload: []byte(payload), RSSI: -60, SNR: 8}}
}

func timeoutStep() receiveStep {
	return receiveStep{err: ErrReceiveTimeout}
}

// scriptedEndpoint answers Receive calls from a fixed script and times out
// immediately once the script is exhausted.
type scriptedEndpoint struct {
	mu       sync.Mutex
	steps    []receiveStep
	sent     []sentFrame
	sendErrs map[int]error
	receives int
}

func (e *scriptedEndpoint) Send(_ context.Context, dest domain.Address, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sentFrame{dest: dest, payload: string(payload)})
	if err, ok := e.sendErrs[len(e.sent)]; ok {
		return err
	}
	return nil
}

func (e *scriptedEndpoint) Receive(ctx context.Context, _ time.Duration) (Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receives++
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(e.steps) == 0 {
		return Frame{}, ErrReceiveTimeout
	}
	step := e.steps[0]
	e.steps = e.steps[1:]

	return step.frame, step.err
}

func (e *scriptedEndpoint) sentFrames() []sentFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sentFrame(nil), e.sent...)
}

// fakeTransport is a line transport whose reads come from a queue. respond
// may queue module replies for every written line.
type fakeTransport struct {
	mu          sync.Mutex
	incoming    [][]byte
	written     []string
	respond     func(line string) []string
	connectErrs []error
	connects    int
	closed      bool
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) ReadLine(ctx context.Context, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.incoming) == 0 {
		return nil, transport.ErrReadTimeout
	}
	line := f.incoming[0]
	f.incoming = f.incoming[1:]

	return line, nil
}

func (f *fakeTransport) WriteLine(_ context.Context, line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := strings.TrimRight(string(line), "\r\n")
	f.written = append(f.written, text)
	if f.respond != nil {
		for _, reply := range f.respond(text) {
			f.incoming = append(f.incoming, []byte(reply))
		}
	}
	return nil
}

func (f *fakeTransport) queue(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.incoming = append(f.incoming, []byte(line))
	}
}

func (f *fakeTransport) writtenLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}
