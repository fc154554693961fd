package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/berryweather/internal/config"
	"github.com/skobkin/berryweather/internal/platform"
	"github.com/skobkin/berryweather/internal/radiosim"
	"github.com/skobkin/berryweather/internal/transport"
)

// SimPortPrefix selects a simulated module, e.g. "sim:gateway".
const SimPortPrefix = "sim:"

// NewRadioTransport opens the configured serial port, or attaches a simulated
// module to air when the port uses SimPortPrefix.
func NewRadioTransport(cfg config.RadioConfig, air *radiosim.Air) (transport.Transport, error) {
	port := strings.TrimSpace(cfg.SerialPort)
	if name, ok := strings.CutPrefix(port, SimPortPrefix); ok {
		if air == nil {
			return nil, fmt.Errorf("simulated port %q needs a simulated air", port)
		}
		if name == "" {
			name = "module"
		}
		return air.NewModule(name), nil
	}
	if port == "" {
		return nil, fmt.Errorf("serial port is not configured")
	}

	return transport.NewSerialTransport(port, cfg.SerialBaud), nil
}

// LockRadioPort claims the configured serial port for this process.
// Simulated ports need no lock and return a nil lock.
func LockRadioPort(cfg config.RadioConfig, logger *slog.Logger) (platform.PortLock, error) {
	port := strings.TrimSpace(cfg.SerialPort)
	if strings.HasPrefix(port, SimPortPrefix) {
		return nil, nil
	}
	lock, err := platform.AcquirePortLock(Name, port)
	if errors.Is(err, platform.ErrPortLockUnsupported) {
		logger.Warn("serial port lock unavailable", "port", port, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return lock, nil
}
