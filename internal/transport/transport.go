package transport

import (
	"context"
	"errors"
	"time"
)

// MaxLineLength is the longest line, terminator included, the radio module accepts.
const MaxLineLength = 256

var (
	ErrReadTimeout  = errors.New("read timeout")
	ErrNotConnected = errors.New("transport is not connected")
)

// Transport is a line-oriented, half-duplex link to a radio module.
// ReadLine returns ErrReadTimeout when no complete line arrives within timeout.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error)
	WriteLine(ctx context.Context, line []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
