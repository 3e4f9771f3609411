package mqtt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics are the Prometheus series exported for one process's
// MQTT clients. Metric names follow the broker's mqtt_* convention this
// runtime was adapted from, narrowed to what a client observes about its
// own connection rather than what a broker observes about its fleet.
type clientMetrics struct {
	Uptime            prometheus.Counter
	Connected         prometheus.Gauge
	ReconnectTotal    prometheus.Counter
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter
	InFlightMessages  prometheus.Gauge
}

var metrics = clientMetrics{
	Uptime:            prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_uptime_seconds", Help: "Seconds since the client process started"}),
	Connected:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_client_connected", Help: "1 if the client currently holds an open session, 0 otherwise"}),
	ReconnectTotal:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_reconnects_total", Help: "Total number of reconnect attempts made"}),
	PacketReceived:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_received_packets_total", Help: "Total control packets received"}),
	ByteReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_received_bytes_total", Help: "Total bytes received"}),
	PacketSent:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_sent_packets_total", Help: "Total control packets sent"}),
	ByteSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_client_sent_bytes_total", Help: "Total bytes sent"}),
	InFlightMessages:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_client_inflight_messages", Help: "QoS 1/2 exchanges currently awaiting acknowledgement"}),
}

func (m *clientMetrics) register() {
	prometheus.MustRegister(m.Uptime, m.Connected, m.ReconnectTotal, m.PacketReceived, m.ByteReceived, m.PacketSent, m.ByteSent, m.InFlightMessages)
}

func (m *clientMetrics) refreshUptime(done <-chan struct{}) {
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				m.Uptime.Inc()
			case <-done:
				return
			}
		}
	}()
}
