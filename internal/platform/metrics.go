package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const statusFailed = "failed"

var tracer = otel.Tracer("falsifier/internal/platform")

var (
	activeCampaigns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "falsifier_campaigns_active",
		Help: "Campaigns currently running",
	})

	campaignsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "falsifier_campaigns_total",
		Help: "Finished campaigns by stop reason or failure",
	}, []string{"status"})

	falsifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "falsifier_counterexamples_total",
		Help: "Rounds whose score fell below the falsification threshold",
	}, []string{"scenario"})

	roundsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "falsifier_rounds_collected_total",
		Help: "Round records collected per worker",
	}, []string{"worker"})
)
