/*
Copyright 2024 The Numaproj Authors.

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelPipeline = "pipeline"
	LabelStage    = "stage"
	LabelKind     = "kind"
	LabelReason   = "reason"
	LabelVersion  = "version"
	LabelPlatform = "platform"
)

const (
	ReasonOutOfOrder = "out_of_order"
	ReasonInvariant  = "invariant"
	ReasonDispose    = "dispose"
	ReasonDownstream = "downstream"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A metric with a constant value '1', labeled by chronoflow binary version and platform",
	}, []string{LabelVersion, LabelPlatform})
)

// Stage metrics
var (
	// RowsIn counts the visible data rows a stage consumed.
	RowsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stage",
		Name:      "rows_in_total",
		Help:      "Total number of data rows consumed",
	}, []string{LabelPipeline, LabelStage})

	// RowsOut counts the rows, including progress rows, a stage emitted.
	RowsOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stage",
		Name:      "rows_out_total",
		Help:      "Total number of rows emitted",
	}, []string{LabelPipeline, LabelStage})

	// BatchesOut counts the sealed batches a stage handed downstream.
	BatchesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stage",
		Name:      "batches_out_total",
		Help:      "Total number of batches emitted",
	}, []string{LabelPipeline, LabelStage})

	// HeldKeys is the number of keys a window stage currently keeps state for.
	HeldKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "window",
		Name:      "held_keys",
		Help:      "Number of keys with held aggregate or session state",
	}, []string{LabelPipeline, LabelStage, LabelKind})

	// Watermark is the last progress time a stage emitted.
	Watermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "stage",
		Name:      "watermark",
		Help:      "Last punctuation or low watermark emitted",
	}, []string{LabelPipeline, LabelStage})

	// FatalErrors counts the errors that terminated a stage.
	FatalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stage",
		Name:      "fatal_errors_total",
		Help:      "Total number of errors that terminated a stage",
	}, []string{LabelPipeline, LabelStage, LabelReason})

	// PoolOutstanding is the number of pooled columns a pipeline has not returned.
	PoolOutstanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "pool",
		Name:      "outstanding_columns",
		Help:      "Number of pooled columns handed out and not yet returned",
	}, []string{LabelPipeline})
)
