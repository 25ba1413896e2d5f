package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_bearer_authentications_total",
			Help: "Count of bearer authentication attempts by outcome",
		},
		[]string{"result"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_bearer_provider_requests_total",
			Help: "Count of identity provider requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keycloak_bearer_provider_request_seconds",
		Help:    "Identity provider request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	KeyCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_bearer_key_cache_lookups_total",
			Help: "Count of legacy signing key cache lookups by result",
		},
		[]string{"result"},
	)

	UsersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keycloak_bearer_users_created_total",
		Help: "Count of local users created on first authentication",
	})
)

// Collectors lists every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{AuthResults, ProviderRequests, ProviderLatency, KeyCacheLookups, UsersCreated}
}

// Register adds the collectors to reg. Already registered collectors are
// tolerated so the call is safe to repeat.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProvider records one identity provider round trip. A zero code means
// the request never produced a response.
func ObserveProvider(endpoint string, code int, took time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	ProviderRequests.WithLabelValues(endpoint, label).Inc()
	ProviderLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}
