package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanDuration tracks the latency of the scan pipeline
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "stampcard_scan_duration_seconds",
			Help: "Duration of scan requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"status"}, // success or the error kind
	)

	// StampsAwarded counts stamps granted by scans, including bonus periods
	StampsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stampcard_stamps_awarded_total",
		Help: "Stamps awarded by scans",
	})

	// Redemptions counts completed reward cycles
	Redemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stampcard_redemptions_total",
		Help: "Rewards redeemed",
	})

	// ReferralBonuses counts first-stamp transitions that paid referral bonuses
	ReferralBonuses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stampcard_referral_bonuses_total",
		Help: "Referral bonus pairs awarded",
	})

	// CaptureAttempts counts camera start attempts per profile
	CaptureAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stampcard_capture_attempts_total",
			Help: "Camera start attempts by capability profile and result",
		},
		[]string{"profile", "result"},
	)

	// DroppedDecodes counts decodes dropped while another was resolving
	DroppedDecodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stampcard_capture_dropped_decodes_total",
		Help: "Decoded payloads dropped by the re-entrancy guard",
	})

	// StatsCacheLookups counts stats cache hits and misses
	StatsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stampcard_stats_cache_lookups_total",
			Help: "Business stats cache lookups by result",
		},
		[]string{"result"}, // hit, miss or error
	)
)

// RecordScanDuration records the duration of a scan request
func RecordScanDuration(status string, duration float64) {
	ScanDuration.WithLabelValues(status).Observe(duration)
}

// RecordStampsAwarded adds awarded stamps
func RecordStampsAwarded(n int) {
	StampsAwarded.Add(float64(n))
}

// RecordRedemption counts a redemption
func RecordRedemption() {
	Redemptions.Inc()
}

// RecordReferralBonus counts a referral bonus pair
func RecordReferralBonus() {
	ReferralBonuses.Inc()
}

// RecordCaptureAttempt counts a camera start attempt
func RecordCaptureAttempt(profile, result string) {
	CaptureAttempts.WithLabelValues(profile, result).Inc()
}

// RecordDroppedDecode counts a decode dropped by the re-entrancy guard
func RecordDroppedDecode() {
	DroppedDecodes.Inc()
}

// RecordStatsCacheLookup counts a stats cache lookup
func RecordStatsCacheLookup(result string) {
	StatsCacheLookups.WithLabelValues(result).Inc()
}
