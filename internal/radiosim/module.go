package radiosim

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/berryweather/internal/transport"
)

const inboxCapacity = 64

// Module is a simulated radio module. It implements transport.Transport.
type Module struct {
	air  *Air
	name string

	mu        sync.Mutex
	connected bool
	address   uint16
	networkID int
	inbox     chan string
	writes    []string
}

var _ transport.Transport = (*Module)(nil)

func newModule(air *Air, name string) *Module {
	return &Module{
		air:   air,
		name:  name,
		inbox: make(chan string, inboxCapacity),
	}
}

func (m *Module) Name() string {
	return "sim"
}

func (m *Module) StatusTarget() string {
	return m.name
}

func (m *Module) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.push("+READY")

	return nil
}

func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false

	return nil
}

// Address returns the address configured through AT+ADDRESS.
func (m *Module) Address() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Written returns every line written to the module, without terminators.
func (m *Module) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// Inject queues a raw line as if the module had printed it.
func (m *Module) Inject(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(line)
}

func (m *Module) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return nil, transport.ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line := <-m.inbox:
		return []byte(line), nil
	case <-timer.C:
		return nil, transport.ErrReadTimeout
	}
}

func (m *Module) WriteLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := strings.TrimRight(string(line), "\r\n")

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return transport.ErrNotConnected
	}
	m.writes = append(m.writes, cmd)
	reply, tx := m.execute(cmd)
	m.push(reply)
	sender, network := m.address, m.networkID
	m.mu.Unlock()

	if tx != nil {
		m.air.transmit(m, sender, network, tx.dest, tx.payload)
	}

	return nil
}

type transmission struct {
	dest    uint16
	payload []byte
}

// execute runs one AT command with m.mu held.
func (m *Module) execute(cmd string) (string, *transmission) {
	switch {
	case cmd == "AT":
		return "+OK", nil
	case cmd == "AT+VER?":
		return "+VER=RYLR896_SIM", nil
	case cmd == "AT+UID?":
		return "+UID=" + m.uid(), nil
	case cmd == "AT+ADDRESS?":
		return "+ADDRESS=" + strconv.Itoa(int(m.address)), nil
	case strings.HasPrefix(cmd, "AT+ADDRESS="):
		v, err := strconv.ParseUint(strings.TrimPrefix(cmd, "AT+ADDRESS="), 10, 16)
		if err != nil {
			return "+ERR=4", nil
		}
		m.address = uint16(v)
		return "+OK", nil
	case strings.HasPrefix(cmd, "AT+NETWORKID="):
		v, err := strconv.Atoi(strings.TrimPrefix(cmd, "AT+NETWORKID="))
		if err != nil || v < 0 || v > 16 {
			return "+ERR=4", nil
		}
		m.networkID = v
		return "+OK", nil
	case strings.HasPrefix(cmd, "AT+MODE="),
		strings.HasPrefix(cmd, "AT+BAND="),
		strings.HasPrefix(cmd, "AT+PARAMETER="):
		return "+OK", nil
	case strings.HasPrefix(cmd, "AT+SEND="):
		tx, err := parseSend(strings.TrimPrefix(cmd, "AT+SEND="))
		if err != nil {
			return "+ERR=5", nil
		}
		return "+OK", tx
	default:
		return "+ERR=1", nil
	}
}

func parseSend(args string) (*transmission, error) {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("send needs 3 fields")
	}
	dest, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("send dest: %w", err)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n != len(parts[2]) || n == 0 || n > 240 {
		return nil, fmt.Errorf("send length mismatch")
	}

	return &transmission{dest: uint16(dest), payload: []byte(parts[2])}, nil
}

func (m *Module) identity() (uint16, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address, m.networkID, m.connected && m.address != 0
}

func (m *Module) deliver(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.push(line)
}

// push queues a line with m.mu held. A full inbox drops the line like a UART overrun.
func (m *Module) push(line string) {
	select {
	case m.inbox <- line:
	default:
		m.air.logger.Warn("module inbox overrun", "module", m.name, "line", line)
	}
}

func (m *Module) uid() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.name))
	return fmt.Sprintf("%016X", h.Sum64())
}
