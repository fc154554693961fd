package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"sync"
	"time"
)

// Collector reads the current sensor values.
type Collector interface {
	Collect(ctx context.Context) (Record, error)
}

// Baseline is the centre of the simulated random walk.
type Baseline struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
	UV          float64
}

func DefaultBaseline() Baseline {
	return Baseline{Temperature: 21, Humidity: 55, Pressure: 1013.25, UV: 2}
}

// SimulatedCollector produces plausible drifting readings for bench setups.
type SimulatedCollector struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	current Baseline
}

func NewSimulatedCollector(base Baseline, seed int64) *SimulatedCollector {
	return &SimulatedCollector{
		rnd:     rand.New(rand.NewSource(seed)),
		current: base,
	}
}

func (c *SimulatedCollector) Collect(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Temperature = clamp(c.current.Temperature+c.drift(0.3), -40, 60)
	c.current.Humidity = clamp(c.current.Humidity+c.drift(1.5), 0, 100)
	c.current.Pressure = clamp(c.current.Pressure+c.drift(0.4), 870, 1085)
	c.current.UV = clamp(c.current.UV+c.drift(0.2), 0, 15)

	return Record{
		Temperature: Value(c.current.Temperature),
		Humidity:    Value(c.current.Humidity),
		Pressure:    Value(c.current.Pressure),
		UV:          Value(c.current.UV),
	}, nil
}

func (c *SimulatedCollector) drift(scale float64) float64 {
	return (c.rnd.Float64()*2 - 1) * scale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CommandCollector runs an external program that prints one JSON record.
type CommandCollector struct {
	Command []string
	Timeout time.Duration
}

func (c CommandCollector) Collect(ctx context.Context) (Record, error) {
	if len(c.Command) == 0 {
		return Record{}, errors.New("collector command is empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, c.Command[0], c.Command[1:]...) // #nosec G204 -- command comes from the operator's config.
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Record{}, fmt.Errorf("run collector %q: %w: %s", c.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("parse collector output: %w", err)
	}

	return rec, nil
}
