package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hub", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hub", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	APIKeyAuthentications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hub", Name: "api_key_authentications_total", Help: "API key authentication attempts by result (success, rejected)."},
		[]string{"result"},
	)
	UserCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hub", Name: "user_cache_lookups_total", Help: "User cache lookups by cache name and result (hit, miss, error)."},
		[]string{"cache", "result"},
	)
	IdPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "hub", Name: "idp_requests_total", Help: "Keycloak admin API calls by operation and result."},
		[]string{"operation", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(APIKeyAuthentications)
	reg.MustRegister(UserCacheLookups)
	reg.MustRegister(IdPRequests)
}
