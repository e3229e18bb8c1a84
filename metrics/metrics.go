package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PlayersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gameserver_players_connected",
			Help: "Players currently connected to this server",
		},
	)

	MatchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameserver_match_results_total",
			Help: "Terminal matchmaking outcomes",
		},
		[]string{"result"}, // Success|TicketCreationError|TicketRetrievalError|MatchAssignmentError|TicketCancellationError
	)

	BackfillOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameserver_backfill_ops_total",
			Help: "Backfill ticket operations issued to the matchmaker",
		},
		[]string{"op"}, // create|update|approve|delete
	)

	AllocationWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gameserver_allocation_wait_seconds",
			Help:    "Time spent waiting for the allocation payload",
			Buckets: prometheus.DefBuckets,
		},
	)

	LobbyHeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hostlobby_heartbeats_total",
			Help: "Heartbeat pings sent for the hosted lobby record",
		},
	)
)

func init() {
	prometheus.MustRegister(PlayersConnected)
	prometheus.MustRegister(MatchResultsTotal)
	prometheus.MustRegister(BackfillOpsTotal)
	prometheus.MustRegister(AllocationWaitDuration)
	prometheus.MustRegister(LobbyHeartbeatsTotal)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
