package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/logging"
)

type recordingAPI struct {
	mu     sync.Mutex
	points []*write.Point
	err    error
}

func (r *recordingAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.points = append(r.points, point...)
	return nil
}

func (r *recordingAPI) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

func TestWriterPointCarriesTagsAndNumericFields(t *testing.T) {
	w := NewWriter(&recordingAPI{}, "", logging.Discard())
	at := time.Unix(1_700_000_000, 0)

	point, err := w.Point(connectors.TelemetryEvent{
		Sender:   2,
		DeviceID: "berrystation_2",
		Payload:  []byte(`{"t":21.5,"h":40,"note":"ignored"}`),
		At:       at,
	})
	if err != nil {
		t.Fatalf("build point: %v", err)
	}

	line := write.PointToLineProtocol(point, time.Second)
	if !strings.HasPrefix(line, "weather,") {
		t.Fatalf("expected default measurement, got %q", line)
	}
	for _, want := range []string{"address=2", "device_id=berrystation_2", "t=21.5", "h=40"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in line protocol %q", want, line)
		}
	}
	if strings.Contains(line, "note") {
		t.Fatalf("non-numeric field leaked into point: %q", line)
	}
}

func TestWriterPointRejectsEmptyAndInvalidPayloads(t *testing.T) {
	w := NewWriter(&recordingAPI{}, "weather", logging.Discard())
	if _, err := w.Point(connectors.TelemetryEvent{Payload: []byte(`{"status":"ok"}`)}); !errors.Is(err, ErrNoFields) {
		t.Fatalf("expected ErrNoFields, got %v", err)
	}
	if _, err := w.Point(connectors.TelemetryEvent{Payload: []byte(`not json`)}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestWriterWriteTracksErrors(t *testing.T) {
	api := &recordingAPI{err: errors.New("influx down")}
	w := NewWriter(api, "weather", logging.Discard())
	ev := connectors.TelemetryEvent{Sender: 3, DeviceID: "berrystation_3", Payload: []byte(`{"t":1}`)}

	if age := w.LastErrorAge(); age < time.Hour {
		t.Fatalf("expected large error age before failures, got %v", age)
	}
	if err := w.Write(context.Background(), ev); err == nil {
		t.Fatalf("expected write error")
	}
	if age := w.LastErrorAge(); age > time.Minute {
		t.Fatalf("expected recent error age, got %v", age)
	}

	api.mu.Lock()
	api.err = nil
	api.mu.Unlock()
	if err := w.Write(context.Background(), ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Written() != 1 {
		t.Fatalf("expected 1 written point, got %d", w.Written())
	}
}

func TestWriterStartConsumesTelemetryEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(logging.Discard())
	defer b.Close()
	api := &recordingAPI{}
	w := NewWriter(api, "weather", logging.Discard())
	w.Start(ctx, b)

	b.Publish(connectors.TopicTelemetry, connectors.TelemetryEvent{Sender: 2, DeviceID: "berrystation_2", Payload: []byte(`{"p":1013.2}`)})
	b.Publish(connectors.TopicTelemetry, "unrelated")

	deadline := time.Now().Add(2 * time.Second)
	for api.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if api.count() != 1 {
		t.Fatalf("expected 1 point, got %d", api.count())
	}
}

func TestOpenRequiresOrgAndBucket(t *testing.T) {
	if _, err := Open(Config{URL: "http://influx:8086"}, logging.Discard()); err == nil {
		t.Fatalf("expected incomplete config error")
	}
}
