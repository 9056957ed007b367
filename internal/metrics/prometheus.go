package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	FlowsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_login_flows_started_total",
		Help: "Total number of login flows started.",
	})
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_logins_success_total",
		Help: "Total number of login flows that finished with credentials.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_logins_failure_total",
		Help: "Total number of rejected or aborted login attempts.",
	})
	UsersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_users_created_total",
		Help: "Total number of users created from resolved credentials.",
	})
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_access_tokens_issued_total",
		Help: "Total number of access tokens issued.",
	})
	TokensExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hubauth_access_tokens_expired_total",
		Help: "Total number of access tokens evicted after their lifetime.",
	})
)

// Register registers the package metrics plus an active-flows gauge fed by
// activeFlows. It should be called once at application startup.
func Register(reg prometheus.Registerer, activeFlows func() float64) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics")
		return
	}

	collectors := []prometheus.Collector{
		FlowsStartedTotal,
		LoginSuccessTotal,
		LoginFailureTotal,
		UsersCreatedTotal,
		TokensIssuedTotal,
		TokensExpiredTotal,
	}
	if activeFlows != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "hubauth_login_flows_active",
			Help: "Login flows currently waiting for user input.",
		}, activeFlows))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Prometheus metrics registered")
}
