package radio

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/berryweather/internal/domain"
)

const DefaultCommandTimeout = time.Second

// Commander issues one AT command and returns the module's reply line.
type Commander interface {
	Command(ctx context.Context, cmd string, timeout time.Duration) (string, error)
}

// ModuleSettings are applied to the radio at startup. Zero values leave the
// module's stored setting untouched, except Address which is required.
type ModuleSettings struct {
	Address    domain.Address
	NetworkID  int
	Band       int64
	Parameters string
	Timeout    time.Duration
}

type ModuleInfo struct {
	Version string
	UID     string
}

// ConfigureModule probes the module and applies the addressing settings.
func ConfigureModule(ctx context.Context, c Commander, s ModuleSettings, logger *slog.Logger) (ModuleInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !s.Address.Valid() {
		return ModuleInfo{}, fmt.Errorf("configure module: %w", ErrReservedAddress)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	if _, err := c.Command(ctx, "AT", timeout); err != nil {
		return ModuleInfo{}, fmt.Errorf("module not responding: %w", err)
	}

	var info ModuleInfo
	if reply, err := c.Command(ctx, "AT+VER?", timeout); err != nil {
		logger.Warn("read module version failed", "error", err)
	} else {
		info.Version = replyValue(reply, "+VER=")
	}
	if reply, err := c.Command(ctx, "AT+UID?", timeout); err != nil {
		logger.Warn("read module uid failed", "error", err)
	} else {
		info.UID = replyValue(reply, "+UID=")
	}
	if _, err := c.Command(ctx, "AT+MODE=0", timeout); err != nil {
		logger.Warn("set transceiver mode failed", "error", err)
	}

	required := []string{"AT+ADDRESS=" + s.Address.String()}
	if s.NetworkID > 0 {
		required = append(required, "AT+NETWORKID="+strconv.Itoa(s.NetworkID))
	}
	if s.Band > 0 {
		required = append(required, "AT+BAND="+strconv.FormatInt(s.Band, 10))
	}
	if p := strings.TrimSpace(s.Parameters); p != "" {
		required = append(required, "AT+PARAMETER="+p)
	}
	for _, cmd := range required {
		if _, err := c.Command(ctx, cmd, timeout); err != nil {
			return info, fmt.Errorf("configure module: %w", err)
		}
	}

	logger.Info("radio module configured", "address", s.Address, "version", info.Version, "uid", info.UID)
	return info, nil
}

func replyValue(reply, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(reply, prefix))
}
