package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	transportName       = "mqtt"
	disconnectQuiesceMS = 250
)

var (
	ErrTimeout      = errors.New("broker operation timed out")
	ErrNotConnected = errors.New("broker is not connected")
)

type Config struct {
	URL               string
	Username          string
	Password          string
	ClientID          string
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	ConnectRetries    uint64
	PublishTimeout    time.Duration
	AvailabilityTopic string
	BreakerFailures   uint32
	BreakerOpenFor    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "berryweather-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = 5
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

// Client is the gateway's publish sink. Connect blocks until the broker
// session is up; Publish goes through a circuit breaker so an unreachable
// broker fails fast instead of stalling the radio loop.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	bus     bus.MessageBus
	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker

	connects  atomic.Int64
	mu        sync.Mutex
	baseCtx   context.Context
	reconnect func(ctx context.Context)

	retryBackOff func() backoff.BackOff
}

func New(cfg Config, logger *slog.Logger, b bus.MessageBus) *Client {
	return newWithFactory(cfg, logger, b, mqtt.NewClient)
}

func newWithFactory(cfg Config, logger *slog.Logger, b bus.MessageBus, factory func(*mqtt.ClientOptions) mqtt.Client) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger.With("broker", cfg.URL, "client_id", cfg.ClientID),
		bus:     b,
		baseCtx: context.Background(),
		retryBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 15 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("publish circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	c.client = factory(c.options())

	return c
}

func (c *Client) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.URL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)
	if c.cfg.AvailabilityTopic != "" {
		opts.SetWill(c.cfg.AvailabilityTopic, PayloadOffline, 1, true)
	}
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("broker connection lost", "error", err)
		c.publishConnStatus(connectors.ConnectionStateReconnecting, err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.logger.Info("reconnecting to broker")
	})

	return opts
}

// OnReconnect registers fn to run after every reconnect, but not after the
// initial Connect.
func (c *Client) OnReconnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = fn
}

// Connect establishes the session, retrying with exponential backoff.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("broker url is empty")
	}
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	attempt := 0
	op := func() error {
		attempt++
		c.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		err := waitToken(ctx, c.client.Connect(), c.cfg.ConnectTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("broker connect failed", "attempt", attempt, "error", err)
			c.publishConnStatus(connectors.ConnectionStateReconnecting, err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.retryBackOff(), c.cfg.ConnectRetries-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.publishConnStatus(connectors.ConnectionStateDisconnected, err)
		return fmt.Errorf("connect to broker %s: %w", c.cfg.URL, err)
	}
	c.logger.Info("connected to broker", "attempts", attempt)

	return nil
}

func (c *Client) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends payload and waits for the broker acknowledgement required by qos.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, waitToken(ctx, c.client.Publish(topic, qos, retain, payload), c.cfg.PublishTimeout)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	return nil
}

// Close marks the gateway offline and disconnects.
func (c *Client) Close() {
	if c.client.IsConnectionOpen() && c.cfg.AvailabilityTopic != "" {
		token := c.client.Publish(c.cfg.AvailabilityTopic, 1, true, PayloadOffline)
		if !token.WaitTimeout(time.Second) {
			c.logger.Warn("offline availability publish timed out")
		}
	}
	c.client.Disconnect(disconnectQuiesceMS)
	c.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
}

func (c *Client) handleConnect(_ mqtt.Client) {
	n := c.connects.Add(1)
	c.publishConnStatus(connectors.ConnectionStateConnected, nil)

	c.mu.Lock()
	ctx := c.baseCtx
	reconnect := c.reconnect
	c.mu.Unlock()

	// Handlers run on paho's goroutine and must not block on tokens.
	go func() {
		if c.cfg.AvailabilityTopic != "" {
			if err := c.Publish(ctx, c.cfg.AvailabilityTopic, []byte(PayloadOnline), 1, true); err != nil {
				c.logger.Warn("online availability publish failed", "error", err)
			}
		}
		if n > 1 && reconnect != nil {
			c.logger.Info("broker reconnected", "connects", n)
			reconnect(ctx)
		}
	}()
}

func (c *Client) publishConnStatus(state connectors.ConnectionState, err error) {
	if c.bus == nil {
		return
	}
	status := connectors.ConnStatus{
		State:         state,
		TransportName: transportName,
		Target:        c.cfg.URL,
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.bus.Publish(connectors.TopicConnStatus, status)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
