package auth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink is an ActivitySink that counts session events.
//
// Metric naming follows Prometheus conventions:
//   - console_session_ prefix for all metrics
//   - _total suffix for counters
type MetricsSink struct {
	// Events counts every activity event by type and outcome.
	Events *prometheus.CounterVec

	// LoginRetries counts the stale security token retries performed.
	LoginRetries prometheus.Counter

	// Authenticated is 1 while the session holds a user.
	Authenticated prometheus.Gauge
}

var _ ActivitySink = (*MetricsSink)(nil)

// NewMetricsSink creates the collectors and registers them with reg
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_session_events_total",
				Help: "Total session events by type and outcome.",
			},
			[]string{"event", "outcome"},
		),
		LoginRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_session_login_retries_total",
			Help: "Total login attempts resubmitted after a stale security token.",
		}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_session_authenticated",
			Help: "Whether the console session currently holds an identity.",
		}),
	}

	if reg == nil {
		return s, nil
	}

	for _, c := range []prometheus.Collector{s.Events, s.LoginRetries, s.Authenticated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *MetricsSink) Record(_ context.Context, event ActivityEvent) error {
	s.Events.WithLabelValues(string(event.EventType), event.Outcome).Inc()

	switch event.EventType {
	case ActivityEventLoginRetry:
		s.LoginRetries.Inc()
	case ActivityEventLoginSuccess:
		s.Authenticated.Set(1)
	case ActivityEventLogout, ActivityEventLoginFailure:
		s.Authenticated.Set(0)
	case ActivityEventBootstrapResolved:
		if event.UserID != "" || event.Email != "" {
			s.Authenticated.Set(1)
		} else {
			s.Authenticated.Set(0)
		}
	}

	return nil
}
