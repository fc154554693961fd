// Package metrics exports relay counters to Prometheus.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skobkin/berryweather/internal/bus"
	"github.com/skobkin/berryweather/internal/connectors"
)

const namespace = "berryweather"

type Metrics struct {
	Registry *prometheus.Registry

	framesReceived   *prometheus.CounterVec
	bridgeOutcomes   *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryAttempts prometheus.Histogram
	handshakes       *prometheus.CounterVec
	rssi             *prometheus.GaugeVec
	snr              *prometheus.GaugeVec
	connectionUp     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded radio frames by sender address.",
		}, []string{"sender"}),
		bridgeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_outcomes_total",
			Help:      "Telemetry frames published or discarded by the gateway.",
		}, []string{"outcome", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Acknowledged delivery runs by outcome.",
		}, []string{"outcome"}),
		deliveryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempts",
			Help:      "Transmissions spent per delivery run.",
			Buckets:   []float64{1, 2, 3, 5, 10, 15, 20, 25},
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Finished boot handshakes by role and terminal state.",
		}, []string{"role", "state"}),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_rssi_dbm",
			Help:      "RSSI of the last frame from a sender.",
		}, []string{"sender"}),
		snr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_snr_db",
			Help:      "SNR of the last frame from a sender.",
		}, []string{"sender"}),
		connectionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 when the named connection is established.",
		}, []string{"transport"}),
	}

	m.Registry.MustRegister(
		m.framesReceived,
		m.bridgeOutcomes,
		m.deliveries,
		m.deliveryAttempts,
		m.handshakes,
		m.rssi,
		m.snr,
		m.connectionUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe applies one bus event to the collectors. Unknown events are ignored.
func (m *Metrics) Observe(msg any) {
	switch ev := msg.(type) {
	case connectors.FrameEvent:
		sender := strconv.FormatUint(uint64(ev.Sender), 10)
		m.framesReceived.WithLabelValues(sender).Inc()
		m.rssi.WithLabelValues(sender).Set(float64(ev.RSSI))
		m.snr.WithLabelValues(sender).Set(float64(ev.SNR))
	case connectors.BridgeEvent:
		m.bridgeOutcomes.WithLabelValues(ev.Outcome, ev.Reason).Inc()
	case connectors.DeliveryEvent:
		m.deliveries.WithLabelValues(ev.Outcome).Inc()
		m.deliveryAttempts.Observe(float64(ev.Attempts))
	case connectors.HandshakeEvent:
		m.handshakes.WithLabelValues(ev.Role, ev.State).Inc()
	case connectors.ConnStatus:
		up := 0.0
		if ev.State == connectors.ConnectionStateConnected {
			up = 1
		}
		m.connectionUp.WithLabelValues(ev.TransportName).Set(up)
	}
}

// Start feeds bus events into the collectors until ctx is done.
func (m *Metrics) Start(ctx context.Context, b bus.MessageBus) {
	topics := []string{
		connectors.TopicFrameIn,
		connectors.TopicBridgeOutcome,
		connectors.TopicDelivery,
		connectors.TopicHandshake,
		connectors.TopicConnStatus,
	}
	for _, topic := range topics {
		sub := b.Subscribe(topic)
		go func(topic string, sub bus.Subscription) {
			defer b.Unsubscribe(sub, topic)
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-sub:
					if !ok {
						return
					}
					m.Observe(raw)
				}
			}
		}(topic, sub)
	}
}
