/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// Error kinds used as label values
const (
	KindLookup     = "lookup"
	KindValidation = "validation"
	KindOverride   = "override"
	KindWiring     = "wiring"
	KindOther      = "other"
)

var (
	synthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hasura_stack_synth_total",
		Help: "Total number of graph assemblies",
	}, []string{"result"})

	synthDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hasura_stack_synth_duration_seconds",
		Help:    "Duration of graph assembly",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	synthErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hasura_stack_synth_errors_total",
		Help: "Graph assembly failures by error kind",
	}, []string{"kind"})

	graphNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hasura_stack_graph_nodes",
		Help: "Number of nodes in the last assembled graph by resource type",
	}, []string{"type"})

	overridesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hasura_stack_overrides_applied_total",
		Help: "Total number of raw overrides applied to graph nodes",
	})
)

func init() {
	// Register with controller-runtime's registry
	metrics.Registry.MustRegister(
		synthTotal,
		synthDuration,
		synthErrors,
		graphNodes,
		overridesApplied,
	)
}

// RecordSynth records a graph assembly attempt.
// err is nil on success.
func RecordSynth(err error, durationSeconds float64) {
	synthDuration.Observe(durationSeconds)
	if err != nil {
		synthTotal.WithLabelValues("failure").Inc()
		synthErrors.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	synthTotal.WithLabelValues("success").Inc()
}

// RecordGraph records node counts and overrides for a finalized graph
func RecordGraph(g *graph.Graph) {
	graphNodes.Reset()
	for typ, count := range g.CountByType() {
		graphNodes.WithLabelValues(typ).Set(float64(count))
	}
	overridesApplied.Add(float64(len(g.Overrides)))
}

// ErrorKind classifies an assembly error
func ErrorKind(err error) string {
	var (
		lookupErr     *network.LookupError
		validationErr *graph.ValidationError
		overrideErr   *graph.OverrideTargetMissingError
		wiringErr     *graph.WiringError
	)
	switch {
	case errors.As(err, &lookupErr):
		return KindLookup
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &overrideErr):
		return KindOverride
	case errors.As(err, &wiringErr):
		return KindWiring
	default:
		return KindOther
	}
}

// WriteTextfile writes all registered metrics in the Prometheus text format,
// for collection by a node exporter textfile collector
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, metrics.Registry)
}
