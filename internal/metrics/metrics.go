package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	appointmentsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "appointments_written_total",
			Help:      "Count of appointment writes by action.",
		},
		[]string{"action"},
	)

	overlapRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "overlap_rejected_total",
			Help:      "Count of create/edit attempts rejected for overlapping an existing booking.",
		},
	)

	preconditionViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "schedule_precondition_violations_total",
			Help:      "Count of day schedules that could not be computed from stored appointments.",
		},
	)

	dayCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "day_cache_total",
			Help:      "Day cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "salonbook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code class.",
		},
		[]string{"route", "code"},
	)

	scheduleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "salonbook",
			Name:      "day_schedule_seconds",
			Help:      "Time spent building a day schedule, storage included.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			appointmentsWritten,
			overlapRejected,
			preconditionViolations,
			dayCache,
			httpRequests,
			scheduleDuration,
		)
	})
}

func IncAppointmentWritten(action string) {
	appointmentsWritten.WithLabelValues(action).Inc()
}

func IncOverlapRejected() {
	overlapRejected.Inc()
}

func IncPreconditionViolation() {
	preconditionViolations.Inc()
}

func IncDayCache(hit bool) {
	if hit {
		dayCache.WithLabelValues("hit").Inc()
		return
	}
	dayCache.WithLabelValues("miss").Inc()
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func ObserveSchedule(start time.Time) {
	scheduleDuration.Observe(time.Since(start).Seconds())
}
