package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "machinemap_tile_refresh_total",
		Help: "Tile cache refreshes by outcome (cache, network, truncated, failed, discarded, too_large, invalid)",
	}, []string{"outcome"})
	EvictedTilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "machinemap_tile_evicted_total",
		Help: "Total tiles evicted by the tile cap",
	})
	CoordinatorDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "machinemap_coordinator_decisions_total",
		Help: "Fetch coordinator decisions (immediate, debounced, forced, skipped)",
	}, []string{"decision"})
	GeodataRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "machinemap_geodata_requests_total",
		Help: "Total geodata service calls",
	}, []string{"backend"})
	GeodataFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "machinemap_geodata_fail_total",
		Help: "Total geodata service failures",
	}, []string{"backend"})
	GeodataDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "machinemap_geodata_duration_ms",
		Help:    "Geodata service call duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"backend"})
	GeodataPointsReturned = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "machinemap_geodata_points_returned",
		Help:    "Points returned per geodata call",
		Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
	}, []string{"backend"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "machinemap_active_sessions",
		Help: "Map sessions currently held in memory",
	})
)

func init() {
	prometheus.MustRegister(RefreshTotal)
	prometheus.MustRegister(EvictedTilesTotal)
	prometheus.MustRegister(CoordinatorDecisionsTotal)
	prometheus.MustRegister(GeodataRequestsTotal)
	prometheus.MustRegister(GeodataFailTotal)
	prometheus.MustRegister(GeodataDurationMs)
	prometheus.MustRegister(GeodataPointsReturned)
	prometheus.MustRegister(ActiveSessions)
}

// Handler /metrics に登録済みの指標を公開する
func Handler() http.Handler { return promhttp.Handler() }
