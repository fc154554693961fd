// Package platform holds OS specific helpers for the relay processes.
package platform

import (
	"errors"
	"strings"
)

// ErrPortInUse indicates another relay process already drives the serial port.
var ErrPortInUse = errors.New("serial port already in use by another relay")

// ErrPortLockUnsupported indicates the current platform has no lock backend implementation.
var ErrPortLockUnsupported = errors.New("port lock unsupported")

// PortLock represents an acquired serial port ownership lock.
type PortLock interface {
	Release() error
}

// AcquirePortLock claims exclusive use of port for appID. The module is
// half-duplex, so two processes writing AT commands would corrupt both sessions.
func AcquirePortLock(appID, port string) (PortLock, error) {
	return acquirePortLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(strings.TrimPrefix(strings.TrimSpace(port), "/dev/"), "port"),
	)
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
