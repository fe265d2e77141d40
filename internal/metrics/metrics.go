// Package metrics holds the prometheus collectors updated while curves are
// built. Collectors live on a private registry; the CLI can dump it to a
// node_exporter textfile at the end of a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	CurvesBuilt      *prometheus.CounterVec
	CurveFailures    *prometheus.CounterVec
	ClassifierTrials prometheus.Counter
	CurveSeconds     prometheus.Histogram
	Verdicts         *prometheus.CounterVec
	WorksVectorized  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CurvesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unmasking",
			Name:      "curves_built_total",
			Help:      "Degradation curves built, by comparison kind.",
		}, []string{"kind"}),
		CurveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unmasking",
			Name:      "curve_failures_total",
			Help:      "Degradation curves that failed to build, by comparison kind.",
		}, []string{"kind"}),
		ClassifierTrials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unmasking",
			Name:      "classifier_trials_total",
			Help:      "Classifier train/evaluate rounds run by the curve engine.",
		}),
		CurveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "unmasking",
			Name:      "curve_build_seconds",
			Help:      "Wall time to assemble a problem and build its curve.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unmasking",
			Name:      "verdicts_total",
			Help:      "Verification verdicts, by outcome.",
		}, []string{"outcome"}),
		WorksVectorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unmasking",
			Name:      "works_vectorized_total",
			Help:      "Works segmented and vectorized.",
		}),
	}
	reg.MustRegister(m.CurvesBuilt, m.CurveFailures, m.ClassifierTrials, m.CurveSeconds, m.Verdicts, m.WorksVectorized)
	return m
}

// WriteTextfile dumps the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
