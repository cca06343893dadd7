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

package operator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// EmitterState is the checkpointed part of an Emitter.
type EmitterState struct {
	LastSync  int64 `json:"lastSync"`
	Watermark int64 `json:"watermark"`
}

// Emitter fills pooled output batches and hands them downstream. It enforces the ordering of the
// stream it produces: on a plain stream data rows are non-decreasing in sync time and never below
// the last punctuation; on a partitioned stream data rows are never below the last low watermark.
type Emitter[K, V any] struct {
	base       *Base
	pool       *batch.Pool[K, V]
	downstream Observer[K, V]
	out        *batch.Batch[K, V]

	lastSync  int64
	watermark int64

	rowsOut    prometheus.Counter
	batchesOut prometheus.Counter
	wmGauge    prometheus.Gauge
}

var _ Output[string, int] = (*Emitter[string, int])(nil)

// NewEmitter returns an emitter writing batches from pool to downstream on behalf of base.
func NewEmitter[K, V any](base *Base, pool *batch.Pool[K, V], downstream Observer[K, V]) *Emitter[K, V] {
	labels := []string{base.Opts.Pipeline, base.Opts.Name}
	return &Emitter[K, V]{
		base:       base,
		pool:       pool,
		downstream: downstream,
		lastSync:   temporal.MinSyncTime,
		watermark:  temporal.MinSyncTime,
		rowsOut:    metrics.RowsOut.WithLabelValues(labels...),
		batchesOut: metrics.BatchesOut.WithLabelValues(labels...),
		wmGauge:    metrics.Watermark.WithLabelValues(labels...),
	}
}

// Watermark returns the last punctuation or low watermark emitted.
func (e *Emitter[K, V]) Watermark() int64 {
	return e.watermark
}

// Downstream returns the observer the emitter writes to.
func (e *Emitter[K, V]) Downstream() Observer[K, V] {
	return e.downstream
}

func (e *Emitter[K, V]) check(syncTime int64) error {
	if syncTime < e.watermark {
		return e.base.OutOfOrder(syncTime, e.watermark, "output row is below the emitted watermark")
	}
	if !e.base.Opts.Partitioned && syncTime < e.lastSync {
		return e.base.OutOfOrder(syncTime, e.lastSync, "output rows are not ordered by sync time")
	}
	return nil
}

func (e *Emitter[K, V]) batch() *batch.Batch[K, V] {
	if e.out == nil {
		e.out = e.pool.Get()
	}
	return e.out
}

func (e *Emitter[K, V]) added() error {
	e.rowsOut.Inc()
	if e.out.IsFull() {
		return e.Send()
	}
	return nil
}

// Emit appends a data row.
func (e *Emitter[K, V]) Emit(row batch.Row[K, V]) error {
	if err := e.check(row.SyncTime); err != nil {
		return err
	}
	e.lastSync = row.SyncTime
	e.batch().AddRow(row)
	return e.added()
}

// EmitPunctuation appends a stream-wide punctuation. Punctuations that do not advance the stream are
// dropped.
func (e *Emitter[K, V]) EmitPunctuation(t int64) error {
	var key K
	return e.EmitKeyedPunctuation(t, key, 0)
}

// EmitKeyedPunctuation appends a punctuation carrying a key. On a partitioned stream it is the
// progress of one partition and is passed through as is.
func (e *Emitter[K, V]) EmitKeyedPunctuation(t int64, key K, hash int32) error {
	if !e.base.Opts.Partitioned {
		// a punctuation below the last data row promises nothing more than the rows already do
		if t < e.lastSync {
			t = e.lastSync
		}
		if t <= e.watermark {
			return nil
		}
		e.watermark = t
		e.wmGauge.Set(float64(t))
	}
	e.batch().AddKeyedPunctuation(t, key, hash)
	return e.progressAdded()
}

// EmitLowWatermark appends a low watermark. On a plain stream it is written as a punctuation.
func (e *Emitter[K, V]) EmitLowWatermark(t int64) error {
	if !e.base.Opts.Partitioned {
		return e.EmitPunctuation(t)
	}
	if t <= e.watermark {
		return nil
	}
	e.watermark = t
	e.wmGauge.Set(float64(t))
	e.batch().AddLowWatermark(t)
	return e.progressAdded()
}

func (e *Emitter[K, V]) progressAdded() error {
	if e.base.Opts.FlushOnPunctuation {
		e.rowsOut.Inc()
		return e.Send()
	}
	return e.added()
}

// Forward hands b downstream by reference after any pending output. Its rows must satisfy the same
// ordering as emitted rows.
func (e *Emitter[K, V]) Forward(b *batch.Batch[K, V]) error {
	lastSync, watermark := e.lastSync, e.watermark
	rows := 0
	for i := 0; i < b.Count; i++ {
		kind, ok := b.Kind(i)
		if !ok {
			continue
		}
		t := b.SyncTime.Data[i]
		rows++
		switch kind {
		case temporal.Punctuation:
			if !e.base.Opts.Partitioned && t > watermark {
				watermark = t
			}
		case temporal.LowWatermark:
			if t > watermark {
				watermark = t
			}
		default:
			if t < watermark {
				b.Free()
				return e.base.OutOfOrder(t, watermark, "forwarded row is below the emitted watermark")
			}
			if !e.base.Opts.Partitioned {
				if t < lastSync {
					b.Free()
					return e.base.OutOfOrder(t, lastSync, "forwarded rows are not ordered by sync time")
				}
				lastSync = t
			}
		}
	}
	if err := e.Send(); err != nil {
		b.Free()
		return err
	}
	e.lastSync, e.watermark = lastSync, watermark
	e.wmGauge.Set(float64(watermark))
	e.rowsOut.Add(float64(rows))
	e.batchesOut.Inc()
	b.Seal()
	return e.downstream.OnNext(b)
}

// Pending reports whether rows are waiting in a partially filled batch.
func (e *Emitter[K, V]) Pending() bool {
	return e.out != nil && e.out.Count > 0
}

// Send hands the partially filled output batch downstream, if any.
func (e *Emitter[K, V]) Send() error {
	if e.out == nil {
		return nil
	}
	out := e.out
	e.out = nil
	if out.Count == 0 {
		out.Free()
		return nil
	}
	out.Seal()
	e.batchesOut.Inc()
	return e.downstream.OnNext(out)
}

// Flush sends pending output and flushes downstream.
func (e *Emitter[K, V]) Flush() error {
	if err := e.Send(); err != nil {
		return err
	}
	return e.downstream.Flush()
}

// Complete sends pending output and completes downstream.
func (e *Emitter[K, V]) Complete() error {
	if err := e.Send(); err != nil {
		return err
	}
	return e.downstream.OnCompleted()
}

// Dispose drops pending output.
func (e *Emitter[K, V]) Dispose() {
	e.out.Free()
	e.out = nil
}

// Checkpoint writes the ordering state. Output must have been flushed.
func (e *Emitter[K, V]) Checkpoint(enc checkpoint.Encoder) error {
	if e.Pending() {
		return e.base.Invariant("checkpoint requires flushed output")
	}
	return enc.Encode(EmitterState{LastSync: e.lastSync, Watermark: e.watermark})
}

// Restore reads the ordering state written by Checkpoint.
func (e *Emitter[K, V]) Restore(dec checkpoint.Decoder) error {
	var s EmitterState
	if err := dec.Decode(&s); err != nil {
		return err
	}
	e.Dispose()
	e.lastSync, e.watermark = s.LastSync, s.Watermark
	return nil
}
