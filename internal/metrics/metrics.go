package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal    prometheus.Counter
	GitHubRequests  prometheus.Counter
	GitHubFailures  prometheus.Counter
	ActionsEnqueued prometheus.Counter
	ActionsLogged   prometheus.Counter
	ActionsDropped  prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			GitHubRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "github_requests_total",
				Help:      "Total calls issued to the GitHub API",
			}),
			GitHubFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "github_failures_total",
				Help:      "Total GitHub API calls that failed or timed out",
			}),
			ActionsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "actions_enqueued_total",
				Help:      "Total action-history entries enqueued to the stream",
			}),
			ActionsLogged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "actions_logged_total",
				Help:      "Total action-history entries persisted",
			}),
			ActionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "gitrover",
				Name:      "actions_dropped_total",
				Help:      "Total action-history entries dropped after retries",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.GitHubRequests,
			global.GitHubFailures,
			global.ActionsEnqueued,
			global.ActionsLogged,
			global.ActionsDropped,
		)
	})
	return global
}
