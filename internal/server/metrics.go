package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/nexus-chat-server/internal/notify"
)

// Frame rejection reasons.
const (
	rejectMalformed     = "malformed"
	rejectUnknown       = "unknown"
	rejectRateLimited   = "rate_limited"
	rejectNotIdentified = "not_identified"
)

const (
	pushResultSent    = "sent"
	pushResultRemoved = "removed"
	pushResultFailed  = "failed"
	pushResultSkipped = "skipped"
)

type metrics struct {
	connections          prometheus.Gauge
	messages             prometheus.Counter
	broadcastFailures    prometheus.Counter
	framesRejected       *prometheus.CounterVec
	livenessTerminations prometheus.Counter
	pushNotifications    *prometheus.CounterVec
}

// newMetrics registers the hub collectors on reg. activeUsers, when set,
// backs the nexus_active_users gauge.
func newMetrics(reg prometheus.Registerer, activeUsers func() float64) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_connections",
			Help: "Number of open WebSocket connections.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_messages_total",
			Help: "Chat messages appended to the log.",
		}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_broadcast_failures_total",
			Help: "Broadcast sends that failed or timed out.",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_frames_rejected_total",
			Help: "Inbound frames dropped, by reason.",
		}, []string{"reason"}),
		livenessTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_liveness_terminations_total",
			Help: "Connections closed for missing a ping round.",
		}),
		pushNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_push_notifications_total",
			Help: "Push notification outcomes, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.connections,
		m.messages,
		m.broadcastFailures,
		m.framesRejected,
		m.livenessTerminations,
		m.pushNotifications,
	)
	if activeUsers != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nexus_active_users",
			Help: "Users with at least one connection in the foreground.",
		}, activeUsers))
	}
	return m
}

func (m *metrics) observePush(r notify.Report) {
	m.pushNotifications.WithLabelValues(pushResultSent).Add(float64(r.Sent))
	m.pushNotifications.WithLabelValues(pushResultRemoved).Add(float64(r.Removed))
	m.pushNotifications.WithLabelValues(pushResultFailed).Add(float64(r.Failed))
	m.pushNotifications.WithLabelValues(pushResultSkipped).Add(float64(r.Skipped))
}
