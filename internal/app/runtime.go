package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/berryweather/internal/bridge"
	"github.com/skobkin/berryweather/internal/broker"
	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/config"
	"github.com/skobkin/berryweather/internal/domain"
	"github.com/skobkin/berryweather/internal/gateway"
	"github.com/skobkin/berryweather/internal/history"
	"github.com/skobkin/berryweather/internal/logging"
	"github.com/skobkin/berryweather/internal/metrics"
	"github.com/skobkin/berryweather/internal/persistence"
	"github.com/skobkin/berryweather/internal/platform"
	"github.com/skobkin/berryweather/internal/radio"
	"github.com/skobkin/berryweather/internal/radiosim"
	"github.com/skobkin/berryweather/internal/satellite"
	"github.com/skobkin/berryweather/internal/telemetry"
)

// Options adjust Initialize for commands and tests.
type Options struct {
	// ConfigPath overrides the default config location.
	ConfigPath string
	// Config skips loading the config file when set.
	Config *config.AppConfig
	// Role forces the runtime role when set; commands are role specific.
	Role config.Role
	// Air backs "sim:" serial ports.
	Air *radiosim.Air
	// Publisher replaces the MQTT broker as the gateway's publish sink.
	Publisher bridge.Publisher
	// LogManager is shared instead of creating one per runtime.
	LogManager *logging.Manager
	// Env looks up secret overrides; nil means the process environment.
	Env func(string) (string, bool)
}

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	ownsLogs   bool
	Bus        *bus.PubSubBus
	Metrics    *metrics.Metrics
	Link       *radio.Link

	// Gateway role only.
	Registry      *domain.Registry
	DB            *sql.DB
	SatelliteRepo *persistence.SatelliteRepo
	FrameRepo     *persistence.FrameRepo
	WriterQueue   *persistence.WriterQueue
	StatusStore   *domain.StatusStore
	Broker        *broker.Client
	Bridge        *bridge.Bridge
	History       *history.Writer

	publisher    bridge.Publisher
	portLock     platform.PortLock
	conns        *connStatusTracker
	writerCancel context.CancelFunc
	logger       *slog.Logger
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePathsFor(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	var cfg config.AppConfig
	if opts.Config != nil {
		cfg = *opts.Config
		cfg.FillMissingDefaults()
	} else if cfg, err = config.Load(paths.ConfigFile); err != nil {
		return nil, err
	}
	if opts.Role != "" {
		cfg.Role = opts.Role
	}
	cfg.ApplyEnv(opts.Env)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", paths.ConfigFile, err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:       ctx,
		cancel:    cancel,
		Paths:     paths,
		Config:    cfg,
		publisher: opts.Publisher,
		conns:     newConnStatusTracker(),
	}

	logMgr := opts.LogManager
	if logMgr == nil {
		logMgr = logging.NewManager()
		if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
			_ = logMgr.Close()
			cancel()
			return nil, fmt.Errorf("configure logging: %w", err)
		}
		rt.ownsLogs = true
	}
	rt.LogManager = logMgr
	rt.logger = logMgr.Logger(string(cfg.Role))
	rt.logger.Info("starting berryweather runtime", "role", cfg.Role, "version", BuildVersion(), "build_date", BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	rt.conns.start(ctx, b)
	rt.Metrics = metrics.New()
	rt.Metrics.Start(ctx, b)

	if rt.portLock, err = LockRadioPort(cfg.Radio, rt.logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	tr, err := NewRadioTransport(cfg.Radio, opts.Air)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Link = radio.NewLink(logMgr.Logger("radio"), b, tr)
	rt.Link.SetConnectPolicy(cfg.Radio.ConnectAttempts, 0)

	if cfg.Role == config.RoleGateway {
		if err := rt.initGateway(); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

func (r *Runtime) initGateway() error {
	known := make([]domain.KnownSatellite, 0, len(r.Config.Gateway.KnownSatellites))
	for _, sat := range r.Config.Gateway.KnownSatellites {
		known = append(known, domain.KnownSatellite{
			Address:  domain.Address(sat.Address),
			DeviceID: sat.DeviceID,
			Name:     sat.Name,
		})
	}
	registry, err := domain.NewRegistry(known)
	if err != nil {
		return fmt.Errorf("known satellites: %w", err)
	}
	r.Registry = registry
	r.StatusStore = domain.NewStatusStore(registry)

	if r.Config.Storage.Enabled {
		db, err := persistence.Open(r.Ctx, r.Paths.DBFile)
		if err != nil {
			return err
		}
		r.DB = db
		r.SatelliteRepo = persistence.NewSatelliteRepo(db)
		r.FrameRepo = persistence.NewFrameRepo(db)
		restored, err := domain.RestoreStatuses(r.Ctx, r.StatusStore, r.SatelliteRepo)
		if err != nil {
			return err
		}
		r.logger.Info("satellite statuses restored", "count", restored)

		// The writer outlives r.Ctx so Close can flush pending writes.
		writerCtx, writerCancel := context.WithCancel(context.WithoutCancel(r.Ctx))
		r.writerCancel = writerCancel
		r.WriterQueue = persistence.NewWriterQueue(r.LogManager.Logger("persistence"), writerQueueCapacity)
		r.WriterQueue.Start(writerCtx)
		domain.StartPersistenceProjection(r.Ctx, r.Bus, r.WriterQueue, r.StatusStore, r.SatelliteRepo, r.FrameRepo)
		retention := time.Duration(r.Config.Storage.RetentionDays) * 24 * time.Hour
		persistence.StartFrameRetention(r.Ctx, r.LogManager.Logger("persistence"), r.FrameRepo, retention, retentionSweepPeriod, nil)
	}
	r.StatusStore.Start(r.Ctx, r.Bus)

	if r.publisher == nil {
		bc := r.Config.Broker
		r.Broker = broker.New(broker.Config{
			URL:               bc.URL,
			Username:          bc.Username,
			Password:          bc.Password,
			ClientID:          bc.ClientID,
			ConnectRetries:    uint64(bc.ConnectRetries),
			PublishTimeout:    config.Millis(bc.PublishTimeoutMS),
			AvailabilityTopic: bc.AvailabilityTopic,
			BreakerFailures:   uint32(bc.BreakerFailures),
			BreakerOpenFor:    config.Millis(bc.BreakerOpenMS),
		}, r.LogManager.Logger("broker"), r.Bus)
		r.publisher = r.Broker
	}

	r.Bridge = bridge.New(bridge.Config{
		StatePrefix:       r.Config.Gateway.StatePrefix,
		DiscoveryPrefix:   r.Config.Gateway.DiscoveryPrefix,
		AvailabilityTopic: r.availabilityTopic(),
		ExtendedSensors:   r.Config.Gateway.ExtendedSensors,
	}, registry, r.Link, r.publisher, r.Bus, r.LogManager.Logger("bridge"))

	if r.Config.History.Enabled() {
		hc := r.Config.History
		writer, err := history.Open(history.Config{
			URL:         hc.InfluxURL,
			Token:       hc.InfluxToken,
			Org:         hc.Org,
			Bucket:      hc.Bucket,
			Measurement: hc.Measurement,
		}, r.LogManager.Logger("history"))
		if err != nil {
			return fmt.Errorf("initialize history: %w", err)
		}
		r.History = writer
		writer.Start(r.Ctx, r.Bus)
	}

	return nil
}

// availabilityTopic is only advertised in discovery when the broker sets the LWT.
func (r *Runtime) availabilityTopic() string {
	if r.Broker == nil {
		return ""
	}
	return r.Config.Broker.AvailabilityTopic
}

// Run drives the configured role until the runtime context is cancelled.
func (r *Runtime) Run() error {
	if addr := r.Config.Metrics.ListenAddr; addr != "" {
		handler := metrics.NewHandler(r.Metrics.Registry, r.readinessChecks())
		go func() {
			if err := metrics.Serve(r.Ctx, addr, handler, r.LogManager.Logger("metrics")); err != nil {
				r.logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	if err := r.Link.Connect(r.Ctx); err != nil {
		if r.Ctx.Err() != nil {
			return nil
		}
		return err
	}

	switch r.Config.Role {
	case config.RoleGateway:
		return r.runGateway()
	case config.RoleSatellite:
		return r.runSatellite()
	default:
		return fmt.Errorf("unknown role: %s", r.Config.Role)
	}
}

func (r *Runtime) runGateway() error {
	if r.Broker != nil {
		r.Broker.OnReconnect(func(ctx context.Context) {
			if err := r.Bridge.PublishDiscovery(ctx); err != nil {
				r.logger.Warn("discovery republish failed", "error", err)
			}
		})
		if err := r.Broker.Connect(r.Ctx); err != nil {
			if r.Ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	if err := r.Bridge.PublishDiscovery(r.Ctx); err != nil {
		r.logger.Warn("discovery publish failed", "error", err)
	}

	hc := r.Config.Handshake
	runner := gateway.NewRunner(gateway.Config{
		Module:      r.moduleSettings(),
		WaitForBoot: hc.Enabled,
		Handshake: radio.HandshakeConfig{
			MaxAttempts:    hc.MaxAttempts,
			AttemptTimeout: config.Millis(hc.AttemptTimeoutMS),
			GraceDelay:     config.Millis(hc.GraceDelayMS),
		},
		ListenWindow: config.Millis(r.Config.Gateway.ListenWindowMS),
	}, r.Link, r.Bridge, r.Bus, r.LogManager.Logger("gateway"))

	return runner.Run(r.Ctx)
}

func (r *Runtime) runSatellite() error {
	collector, err := newCollector(r.Config.Satellite.Collector)
	if err != nil {
		return err
	}
	sc, hc, dc := r.Config.Satellite, r.Config.Handshake, r.Config.Delivery
	runner := satellite.NewRunner(satellite.Config{
		Module:           r.moduleSettings(),
		Gateway:          domain.Address(sc.GatewayAddress),
		HandshakeEnabled: hc.Enabled,
		Handshake: radio.HandshakeConfig{
			MaxAttempts:    hc.MaxAttempts,
			AttemptTimeout: config.Millis(hc.AttemptTimeoutMS),
		},
		Delivery: radio.DeliveryPolicy{
			AckToken:       radio.TokenDataAck,
			MaxAttempts:    dc.MaxAttempts,
			AttemptTimeout: config.Millis(dc.AttemptTimeoutMS),
		},
		Interval: config.Millis(sc.IntervalMS),
		RunOnce:  sc.RunOnce,
	}, r.Link, collector, r.Bus, r.LogManager.Logger("satellite"))

	return runner.Run(r.Ctx)
}

func (r *Runtime) moduleSettings() radio.ModuleSettings {
	rc := r.Config.Radio
	return radio.ModuleSettings{
		Address:    domain.Address(rc.Address),
		NetworkID:  rc.NetworkID,
		Band:       rc.Band,
		Parameters: rc.Parameters,
		Timeout:    config.Millis(rc.CommandTimeoutMS),
	}
}

func (r *Runtime) readinessChecks() map[string]metrics.Check {
	radioName := r.Link.TransportName()
	checks := map[string]metrics.Check{
		"radio": func(context.Context) error {
			if !r.conns.connected(radioName) {
				return errors.New("radio link is not connected")
			}
			return nil
		},
	}
	if r.Broker != nil {
		checks["broker"] = func(context.Context) error {
			if !r.Broker.Connected() {
				return broker.ErrNotConnected
			}
			return nil
		}
	}
	if r.History != nil {
		checks["history"] = historyCheck(r.History)
	}

	return checks
}

// historyErrorWindow is how long a failed InfluxDB write keeps readiness down.
const historyErrorWindow = time.Minute

func historyCheck(w *history.Writer) metrics.Check {
	return func(context.Context) error {
		if age := w.LastErrorAge(); age < historyErrorWindow {
			return fmt.Errorf("history write failed %s ago (%d points written)", age.Round(time.Second), w.Written())
		}
		return nil
	}
}

func newCollector(cfg config.CollectorConfig) (telemetry.Collector, error) {
	switch cfg.Kind {
	case config.CollectorSimulated:
		return telemetry.NewSimulatedCollector(telemetry.DefaultBaseline(), cfg.Seed), nil
	case config.CollectorCommand:
		return telemetry.CommandCollector{Command: cfg.Command, Timeout: config.Millis(cfg.TimeoutMS)}, nil
	default:
		return nil, fmt.Errorf("unknown collector kind: %s", cfg.Kind)
	}
}

// ClearDatabase flushes pending writes, empties the gateway store and resets
// the in-memory satellite statuses.
func (r *Runtime) ClearDatabase(ctx context.Context) error {
	if r.DB == nil {
		return errors.New("database is not initialized")
	}
	if r.WriterQueue != nil {
		if err := r.WriterQueue.Flush(ctx); err != nil {
			return fmt.Errorf("flush pending writes: %w", err)
		}
	}

	stats, err := persistence.ClearDatabase(ctx, r.DB)
	if err != nil {
		return err
	}
	if r.StatusStore != nil {
		r.StatusStore.Reset()
	}
	r.logger.Info("database cleared", "frames", stats.Frames, "satellites", stats.Satellites)

	return nil
}

// Stop cancels the runtime context; Run returns shortly after.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runtime) Close() error {
	if r.WriterQueue != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.WriterQueue.Flush(flushCtx); err != nil {
			slog.Warn("pending db writes dropped on shutdown", "error", err)
		}
		cancel()
	}
	if r.writerCancel != nil {
		r.writerCancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Broker != nil {
		r.Broker.Close()
	}
	if r.Link != nil {
		_ = r.Link.Close()
	}
	if r.portLock != nil {
		if err := r.portLock.Release(); err != nil {
			slog.Warn("release serial port lock", "error", err)
		}
	}
	if r.History != nil {
		r.History.Close()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil && r.ownsLogs {
		_ = r.LogManager.Close()
	}
	return nil
}
