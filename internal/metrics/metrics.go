package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	votesTotal          *prometheus.CounterVec
	optionVotesTotal    *prometheus.CounterVec
	persistRetriesTotal prometheus.Counter
	moderationTotal     *prometheus.CounterVec
	pushDeliveriesTotal *prometheus.CounterVec
	voteEventsTotal     *prometheus.CounterVec
	registerOnce        sync.Once
)

// Register initializes Prometheus metrics on the default registry.
func Register() {
	registerOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed by the board API.",
		}, []string{"method", "path", "status"})
		votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "votes_total",
			Help:      "Vote attempts by outcome.",
		}, []string{"outcome"})
		optionVotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "option_votes_total",
			Help:      "Accepted votes by selection mode.",
		}, []string{"mode"})
		persistRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "persist_retries_total",
			Help:      "Poll writes retried after a conflict or timeout.",
		})
		moderationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "moderation_verdicts_total",
			Help:      "Moderation verdicts by outcome.",
		}, []string{"outcome"})
		pushDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "push_deliveries_total",
			Help:      "Push notification deliveries by result.",
		}, []string{"result"})
		voteEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postboard",
			Name:      "vote_events_processed_total",
			Help:      "Vote events drained by the stats worker, by selection mode.",
		}, []string{"mode"})
	})
}

// IncRequest increments the http_requests_total counter with the given labels.
func IncRequest(method, path string, status int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func IncVote(outcome string) {
	if votesTotal == nil {
		return
	}
	votesTotal.WithLabelValues(outcome).Inc()
}

func IncOptionVotes(mode string, n int) {
	if optionVotesTotal == nil {
		return
	}
	optionVotesTotal.WithLabelValues(mode).Add(float64(n))
}

func IncPersistRetry() {
	if persistRetriesTotal == nil {
		return
	}
	persistRetriesTotal.Inc()
}

func IncModeration(outcome string) {
	if moderationTotal == nil {
		return
	}
	moderationTotal.WithLabelValues(outcome).Inc()
}

func IncPushDelivery(result string) {
	if pushDeliveriesTotal == nil {
		return
	}
	pushDeliveriesTotal.WithLabelValues(result).Inc()
}

func IncVoteEvent(mode string) {
	if voteEventsTotal == nil {
		return
	}
	voteEventsTotal.WithLabelValues(mode).Inc()
}
