package metrics

import "github.com/prometheus/client_golang/prometheus"

// MailQueueMetrics holds Prometheus metrics for the durable email fallback queue.
type MailQueueMetrics struct {
	Enqueued   prometheus.Counter
	Sent       prometheus.Counter
	Failed     prometheus.Counter
	Attempts   prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewMailQueueMetrics creates and registers mail queue metrics on the given registry.
func NewMailQueueMetrics(reg prometheus.Registerer) *MailQueueMetrics {
	m := &MailQueueMetrics{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "enqueued_total",
			Help:      "Total emails enqueued for durable delivery.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "sent_total",
			Help:      "Total emails delivered.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "failed_total",
			Help:      "Total emails that exhausted their retry budget.",
		}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "attempts_total",
			Help:      "Total delivery attempts, including retries.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailqueue",
			Name:      "depth",
			Help:      "Items currently waiting in the queue.",
		}),
	}

	reg.MustRegister(m.Enqueued, m.Sent, m.Failed, m.Attempts, m.QueueDepth)
	return m
}
