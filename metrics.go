package mphost

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the bot's Prometheus collectors.
type Metrics struct {
	Lines          *prometheus.CounterVec
	Events         *prometheus.CounterVec
	Commands       *prometheus.CounterVec
	Violations     *prometheus.CounterVec
	SentLines      prometheus.Counter
	Reconnects     prometheus.Counter
	ConnectedRooms prometheus.Gauge
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Lines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mphost_lines_total",
			Help: "Inbound IRC lines by classification.",
		}, []string{"kind"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mphost_events_total",
			Help: "Parsed referee notifications by type.",
		}, []string{"event"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mphost_commands_total",
			Help: "Player chat commands by name.",
		}, []string{"command"}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mphost_violations_total",
			Help: "Rejected beatmap picks by violation tag.",
		}, []string{"tag"}),
		SentLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "mphost_sent_lines_total",
			Help: "Outbound chat and control lines.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "mphost_reconnects_total",
			Help: "Transport reconnects after a dropped connection.",
		}),
		ConnectedRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mphost_connected_rooms",
			Help: "Rooms currently joined.",
		}),
	}
}

// countingConn counts outbound lines on their way to the transport.
type countingConn struct {
	Conn
	metrics *Metrics
}

func (c countingConn) Privmsg(target, body string) error {
	c.metrics.SentLines.Inc()
	return c.Conn.Privmsg(target, body)
}

func (c countingConn) Join(channel string) error {
	c.metrics.SentLines.Inc()
	return c.Conn.Join(channel)
}
