package services

import "github.com/prometheus/client_golang/prometheus"

var (
	streakActivitiesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_activities_recorded_total",
			Help: "Activities recorded by the streak engine",
		},
		[]string{"activity", "action"},
	)
	streakRecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_record_failures_total",
			Help: "Failed RecordActivity calls by reason",
		},
		[]string{"reason"},
	)
	streakRecordDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streak_record_duration_seconds",
			Help:    "RecordActivity latency including lock wait and retries",
			Buckets: prometheus.DefBuckets,
		},
	)
	streakStatusCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_status_cache_total",
			Help: "Status cache lookups by result",
		},
		[]string{"result"},
	)
)

// RegisterStreakMetrics registers the engine metrics. Call this from main.go
func RegisterStreakMetrics(reg prometheus.Registerer) {
	reg.MustRegister(streakActivitiesRecorded)
	reg.MustRegister(streakRecordFailures)
	reg.MustRegister(streakRecordDuration)
	reg.MustRegister(streakStatusCache)
}
