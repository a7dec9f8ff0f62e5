// Package metrics provides Prometheus metrics for the credential pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquisitionsTotal counts successful pool acquisitions per credential.
	AcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tg_parse_pool_acquisitions_total",
		Help: "Total successful credential acquisitions",
	}, []string{"credential"})

	// ExhaustionsTotal counts acquisitions that failed because no credential
	// was available.
	ExhaustionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_parse_pool_exhaustions_total",
		Help: "Total acquisitions rejected with no available credential",
	})

	// ReportedFailuresTotal counts failures reported back to the pool.
	ReportedFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tg_parse_pool_reported_failures_total",
		Help: "Total backend failures reported per credential",
	}, []string{"credential"})

	// CooldownsTotal counts credentials placed in cooldown.
	CooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_parse_pool_cooldowns_total",
		Help: "Total times a credential entered cooldown",
	})

	// RecoveriesTotal counts credentials restored from cooldown.
	RecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_parse_pool_recoveries_total",
		Help: "Total times a credential recovered from cooldown",
	})

	// DialFailuresTotal counts credentials whose session never came up.
	DialFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_parse_pool_dial_failures_total",
		Help: "Total credentials that failed session establishment",
	})

	// CredentialsTotal tracks the configured credential count.
	CredentialsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tg_parse_pool_credentials_total",
		Help: "Number of configured credentials",
	})

	// CredentialsAvailable tracks currently available credentials.
	CredentialsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tg_parse_pool_credentials_available",
		Help: "Number of currently available credentials",
	})

	// APIRequestsTotal counts Bot API calls by method and outcome.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tg_parse_api_requests_total",
		Help: "Total Bot API requests",
	}, []string{"method", "status"})

	// APIRequestDuration tracks Bot API call duration in seconds.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tg_parse_api_request_duration_seconds",
		Help:    "Bot API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// FloodWaitsTotal counts rate-limit responses from the Bot API.
	FloodWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tg_parse_api_flood_waits_total",
		Help: "Total flood-wait (429) responses from the Bot API",
	})
)
