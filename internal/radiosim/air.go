// Package radiosim emulates RYLR896 modules sharing one LoRa channel.
package radiosim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

const broadcastAddress = 0

type AirConfig struct {
	// LossRate is the probability in [0,1] that a transmission is not heard.
	LossRate float64
	Seed     int64
	RSSI     int
	SNR      int
	Logger   *slog.Logger
}

// Air delivers AT+SEND transmissions to every attached module whose address
// and network id match.
type Air struct {
	mu       sync.Mutex
	modules  []*Module
	rng      *rand.Rand
	cfg      AirConfig
	dropNext int
	sent     int
	heard    int
	logger   *slog.Logger
}

func NewAir(cfg AirConfig) *Air {
	if cfg.RSSI == 0 {
		cfg.RSSI = -60
	}
	if cfg.SNR == 0 {
		cfg.SNR = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Air{
		rng:    rand.New(rand.NewSource(cfg.Seed)), // #nosec G404 -- simulated channel noise.
		cfg:    cfg,
		logger: logger.With("component", "radiosim"),
	}
}

// NewModule attaches a module to the air. Its address is set via AT+ADDRESS.
func (a *Air) NewModule(name string) *Module {
	m := newModule(a, name)
	a.mu.Lock()
	a.modules = append(a.modules, m)
	a.mu.Unlock()

	return m
}

// DropNext makes the next n transmissions vanish regardless of LossRate.
func (a *Air) DropNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropNext += n
}

func (a *Air) SetSignal(rssi, snr int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.RSSI = rssi
	a.cfg.SNR = snr
}

// Stats reports how many transmissions were sent and how many were heard by at least one module.
func (a *Air) Stats() (sent, heard int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent, a.heard
}

func (a *Air) transmit(from *Module, sender uint16, network int, dest uint16, payload []byte) {
	a.mu.Lock()
	a.sent++
	lost := false
	switch {
	case a.dropNext > 0:
		a.dropNext--
		lost = true
	case a.cfg.LossRate > 0 && a.rng.Float64() < a.cfg.LossRate:
		lost = true
	}
	if lost {
		a.mu.Unlock()
		a.logger.Debug("transmission lost", "from", sender, "dest", dest, "len", len(payload))
		return
	}
	line := fmt.Sprintf("+RCV=%d,%d,%s,%d,%d", sender, len(payload), payload, a.cfg.RSSI, a.cfg.SNR)
	targets := make([]*Module, 0, len(a.modules))
	for _, m := range a.modules {
		if m == from {
			continue
		}
		addr, net, ok := m.identity()
		if !ok || net != network {
			continue
		}
		if dest != broadcastAddress && dest != addr {
			continue
		}
		targets = append(targets, m)
	}
	if len(targets) > 0 {
		a.heard++
	}
	a.mu.Unlock()

	for _, m := range targets {
		m.deliver(line)
	}
}
