package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerobin_paste_deleted_total",
			Help: "no. of pastes deleted",
		},
		[]string{"reason"},
	)
	CommentCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_comment_created_total",
		Help: "no. of comments posted",
	})
	FloodRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_flood_rejected_total",
		Help: "no. of posts rejected by the anti-flood check",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zerobin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerobin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zerobin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	EncryptionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerobin_encryption_operations_total",
			Help: "no. of at-rest seal/open operations",
		},
		[]string{"operation"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zerobin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

// Deletion reasons.
const (
	ReasonBurn    = "burn"
	ReasonExpired = "expired"
	ReasonToken   = "token"
)
