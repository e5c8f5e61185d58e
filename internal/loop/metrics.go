package loop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const (
	variantSequential = "sequential"
	variantLockstep   = "lockstep"

	outcomeSimulated = "simulated"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

var tracer = otel.Tracer("falsifier/internal/loop")

var (
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "falsifier_loop_rounds_total",
		Help: "Rounds completed by loop variant and outcome",
	}, []string{"variant", "outcome"})

	drawsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "falsifier_loop_draws_total",
		Help: "Samples drawn from the sampler by loop variant",
	}, []string{"variant"})

	simulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "falsifier_simulation_duration_seconds",
		Help:    "Wall time of one simulate-once call",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"simulator"})
)
