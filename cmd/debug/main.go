package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/berryweather/internal/app"
	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/config"
	"github.com/skobkin/berryweather/internal/connectors"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/logging"
	"github.com/skobkin/berryweather/internal/radio"
	"github.com/skobkin/berryweather/internal/radiosim"
	"github.com/skobkin/berryweather/internal/transport"
)

const (
	receiveWindow       = time.Second
	commandTimeout      = 2 * time.Second
	maxLinePreviewLen   = 96
	simulatedSatellite  = 2
	simulatedListenTime = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (default: user config dir)")
	list := flag.Bool("list", false, "list serial ports and exit")
	port := flag.String("port", "", "serial port override, \"sim:<name>\" for a simulated module")
	baud := flag.Int("baud", 0, "serial baud rate override")
	send := flag.String("send", "", "AT command to execute, or payload to transmit to -dest")
	dest := flag.String("dest", "1", "destination address for a -send payload")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	simulate := flag.Bool("simulate", false, "run a simulated gateway and satellite pair and log the exchange")
	verbose := flag.Bool("v", false, "log at debug level")
	flag.Parse()

	if *list {
		return listPorts(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePathsFor(*configPath)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if p := strings.TrimSpace(*port); p != "" {
		cfg.Radio.SerialPort = p
	}
	if *baud > 0 {
		cfg.Radio.SerialBaud = *baud
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	if *verbose {
		if err := logMgr.SetLevel("debug"); err != nil {
			return err
		}
	}
	logger := logMgr.Logger("cli")
	logger.Info("starting berryweather debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	if *simulate {
		return runSimulation(ctx, logMgr, logger, *listenFor)
	}

	if strings.TrimSpace(cfg.Radio.SerialPort) == "" {
		return fmt.Errorf("missing serial port: set -port or save radio.serial_port in config")
	}

	lock, err := app.LockRadioPort(cfg.Radio, logger)
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Release() }()
	}

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	tr, err := app.NewRadioTransport(cfg.Radio, nil)
	if err != nil {
		return fmt.Errorf("initialize transport: %w", err)
	}
	link := radio.NewLink(logMgr.Logger("radio"), b, tr)
	defer func() { _ = link.Close() }()

	watch(ctx, b, logger)

	logger.Info("connecting", "target", radioTarget(cfg.Radio))
	if err := link.Connect(ctx); err != nil {
		return fmt.Errorf("connect radio: %w", err)
	}

	if s := strings.TrimSpace(*send); s != "" {
		if err := sendOnce(ctx, link, logger, s, *dest); err != nil {
			return err
		}
	}

	listenCtx := ctx
	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		var cancel context.CancelFunc
		listenCtx, cancel = context.WithTimeout(ctx, *listenFor)
		defer cancel()
	} else {
		logger.Info("listening until interrupt")
	}

	return listen(listenCtx, link, logger)
}

func listPorts(w *os.File) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		_, _ = fmt.Fprintln(w, p)
	}

	return nil
}

func sendOnce(ctx context.Context, link *radio.Link, logger *slog.Logger, input, rawDest string) error {
	if isATCommand(input) {
		reply, err := link.Command(ctx, input, commandTimeout)
		if err != nil {
			return fmt.Errorf("execute command: %w", err)
		}
		logger.Info("command reply", "command", input, "reply", reply)
		return nil
	}

	dest, err := domain.ParseAddress(rawDest)
	if err != nil {
		return fmt.Errorf("parse -dest: %w", err)
	}
	if err := link.Send(ctx, dest, []byte(input)); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	logger.Info("payload sent", "dest", dest, "len", len(input))

	return nil
}

// listen drains the module; frames are reported through the bus watcher.
func listen(ctx context.Context, link *radio.Link, logger *slog.Logger) error {
	var frames int
	for {
		_, err := link.Receive(ctx, receiveWindow)
		switch {
		case err == nil:
			frames++
		case ctx.Err() != nil:
			logger.Info("listen summary", "frames", frames)
			return nil
		case errors.Is(err, radio.ErrReceiveTimeout):
		default:
			return err
		}
	}
}

// runSimulation wires a gateway and a run-once satellite onto one simulated
// air and logs what the gateway would publish.
func runSimulation(ctx context.Context, logMgr *logging.Manager, logger *slog.Logger, listenFor time.Duration) error {
	if listenFor <= 0 {
		listenFor = simulatedListenTime
	}
	ctx, cancel := context.WithTimeout(ctx, listenFor)
	defer cancel()

	dir, err := os.MkdirTemp("", "berryweather-sim-")
	if err != nil {
		return fmt.Errorf("create simulation dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	air := radiosim.NewAir(radiosim.AirConfig{Logger: logMgr.Logger("air")})

	gwCfg := config.Default()
	gwCfg.Role = config.RoleGateway
	gwCfg.Radio.SerialPort = app.SimPortPrefix + "gateway"
	gwCfg.Gateway.KnownSatellites = []config.KnownSatelliteConfig{
		{Address: simulatedSatellite, DeviceID: "simulated", Name: "Simulated"},
	}
	gw, err := app.Initialize(ctx, app.Options{
		ConfigPath: filepath.Join(dir, "gateway", app.ConfigFilename),
		Config:     &gwCfg,
		Air:        air,
		Publisher:  logPublisher{logger: logMgr.Logger("publish")},
		LogManager: logMgr,
	})
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}
	defer func() { _ = gw.Close() }()
	watch(ctx, gw.Bus, logger.With("role", config.RoleGateway))

	satCfg := config.Default()
	satCfg.Role = config.RoleSatellite
	satCfg.Radio.SerialPort = app.SimPortPrefix + "satellite"
	satCfg.Radio.Address = simulatedSatellite
	satCfg.Satellite.RunOnce = true
	sat, err := app.Initialize(ctx, app.Options{
		ConfigPath: filepath.Join(dir, "satellite", app.ConfigFilename),
		Config:     &satCfg,
		Air:        air,
		LogManager: logMgr,
	})
	if err != nil {
		return fmt.Errorf("initialize satellite: %w", err)
	}
	defer func() { _ = sat.Close() }()
	watch(ctx, sat.Bus, logger.With("role", config.RoleSatellite))

	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.Run() }()

	if err := sat.Run(); err != nil {
		return fmt.Errorf("run satellite: %w", err)
	}
	sent, heard := air.Stats()
	logger.Info("satellite cycle finished", "transmissions", sent, "receptions", heard)

	gw.Stop()
	return <-gwDone
}

type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	p.logger.Info("publish", "topic", topic, "qos", qos, "retain", retain, "payload", previewLine(string(payload)))
	return nil
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	connSub := b.Subscribe(connectors.TopicConnStatus)
	rawInSub := b.Subscribe(connectors.TopicRawLineIn)
	rawOutSub := b.Subscribe(connectors.TopicRawLineOut)
	frameSub := b.Subscribe(connectors.TopicFrameIn)
	handshakeSub := b.Subscribe(connectors.TopicHandshake)
	deliverySub := b.Subscribe(connectors.TopicDelivery)
	bridgeSub := b.Subscribe(connectors.TopicBridgeOutcome)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(connSub, connectors.TopicConnStatus)
				b.Unsubscribe(rawInSub, connectors.TopicRawLineIn)
				b.Unsubscribe(rawOutSub, connectors.TopicRawLineOut)
				b.Unsubscribe(frameSub, connectors.TopicFrameIn)
				b.Unsubscribe(handshakeSub, connectors.TopicHandshake)
				b.Unsubscribe(deliverySub, connectors.TopicDelivery)
				b.Unsubscribe(bridgeSub, connectors.TopicBridgeOutcome)
				return
			case raw := <-connSub:
				if status, ok := raw.(connectors.ConnStatus); ok {
					logger.Info("conn", "state", status.State, "transport", status.TransportName, "target", status.Target, "error", status.Err)
				}
			case raw := <-rawOutSub:
				if line, ok := raw.(connectors.RawLine); ok {
					logger.Info("raw-out", "len", line.Len, "line", previewLine(line.Text))
				}
			case raw := <-rawInSub:
				if line, ok := raw.(connectors.RawLine); ok {
					logger.Info("raw-in", "len", line.Len, "line", previewLine(line.Text))
				}
			case raw := <-frameSub:
				if frame, ok := raw.(connectors.FrameEvent); ok {
					logger.Info("frame", "sender", frame.Sender, "rssi", frame.RSSI, "snr", frame.SNR, "payload", previewLine(string(frame.Payload)))
				}
			case raw := <-handshakeSub:
				if ev, ok := raw.(connectors.HandshakeEvent); ok {
					logger.Info("handshake", "role", ev.Role, "state", ev.State, "attempts", ev.Attempts, "peer", ev.Peer)
				}
			case raw := <-deliverySub:
				if ev, ok := raw.(connectors.DeliveryEvent); ok {
					logger.Info("delivery", "dest", ev.Dest, "outcome", ev.Outcome, "attempts", ev.Attempts)
				}
			case raw := <-bridgeSub:
				if ev, ok := raw.(connectors.BridgeEvent); ok {
					logger.Info("bridge", "sender", ev.Sender, "device", ev.DeviceID, "outcome", ev.Outcome, "reason", ev.Reason, "topic", ev.Topic)
				}
			}
		}
	}()
}

func radioTarget(cfg config.RadioConfig) string {
	port := strings.TrimSpace(cfg.SerialPort)
	if strings.HasPrefix(port, app.SimPortPrefix) || cfg.SerialBaud <= 0 {
		return port
	}

	return fmt.Sprintf("%s@%d", port, cfg.SerialBaud)
}

func isATCommand(input string) bool {
	upper := strings.ToUpper(strings.TrimSpace(input))
	return upper == "AT" || strings.HasPrefix(upper, "AT+")
}

func previewLine(line string) string {
	line = strings.TrimSpace(line)
	if len(line) <= maxLinePreviewLen {
		return line
	}
	return line[:maxLinePreviewLen] + "..."
}
