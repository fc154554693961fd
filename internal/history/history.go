// Package history mirrors published telemetry into InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/telemetry"
)

const defaultWriteTimeout = 5 * time.Second

var ErrNoFields = errors.New("telemetry has no numeric fields")

// PointWriter is the subset of api.WriteAPIBlocking used by Writer.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Config struct {
	URL          string
	Token        string
	Org          string
	Bucket       string
	Measurement  string
	WriteTimeout time.Duration
}

// Writer turns TelemetryEvents into InfluxDB points.
type Writer struct {
	logger      *slog.Logger
	api         PointWriter
	measurement string
	timeout     time.Duration

	mu         sync.Mutex
	lastErr    error
	lastErrAt  time.Time
	written    int64
	closeCalls func()
}

// Open connects a blocking write API for cfg.
func Open(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	w := NewWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement, logger)
	if cfg.WriteTimeout > 0 {
		w.timeout = cfg.WriteTimeout
	}
	w.closeCalls = client.Close

	return w, nil
}

func NewWriter(api PointWriter, measurement string, logger *slog.Logger) *Writer {
	if measurement == "" {
		measurement = "weather"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		logger:      logger,
		api:         api,
		measurement: measurement,
		timeout:     defaultWriteTimeout,
	}
}

// Point builds the InfluxDB point for one published telemetry payload.
func (w *Writer) Point(ev connectors.TelemetryEvent) (*write.Point, error) {
	values, err := telemetry.Fields(ev.Payload)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoFields
	}
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	tags := map[string]string{
		"device_id": ev.DeviceID,
		"address":   strconv.FormatUint(uint64(ev.Sender), 10),
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	return influxdb2.NewPoint(w.measurement, tags, fields, at), nil
}

func (w *Writer) Write(ctx context.Context, ev connectors.TelemetryEvent) error {
	point, err := w.Point(ev)
	if err != nil {
		return fmt.Errorf("build point: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err = w.api.WritePoint(writeCtx, point)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.lastErr = err
		w.lastErrAt = time.Now()
		return fmt.Errorf("write point: %w", err)
	}
	w.written++

	return nil
}

// Start consumes telemetry events until ctx is done.
func (w *Writer) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(connectors.TopicTelemetry)
	go func() {
		defer b.Unsubscribe(sub, connectors.TopicTelemetry)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				ev, ok := raw.(connectors.TelemetryEvent)
				if !ok {
					continue
				}
				if err := w.Write(ctx, ev); err != nil {
					w.logger.Warn("history write failed", "device_id", ev.DeviceID, "error", err)
				}
			}
		}
	}()
}

// LastErrorAge reports how long ago the last write failed. It is very large
// when no write has failed yet.
func (w *Writer) LastErrorAge() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastErrAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(w.lastErrAt)
}

func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) Close() {
	if w.closeCalls != nil {
		w.closeCalls()
	}
}
