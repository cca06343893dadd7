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

package window

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// ProgressFunc maps the time a stage has reached to the punctuation it may forward.
type ProgressFunc func(t int64) int64

// Identity forwards punctuations unchanged.
func Identity(t int64) int64 { return t }

type operatorState struct {
	Now int64 `json:"now"`
}

// Operator drives a Windower over a plain stream.
type Operator[K, V, R any] struct {
	operator.Base
	windower Windower[K, V, R]
	emitter  *operator.Emitter[K, R]
	progress ProgressFunc
	now      int64
	held     prometheus.Gauge
}

var _ operator.Stage[string, int] = (*Operator[string, int, int])(nil)

// NewOperator returns a stage feeding w. kind labels the held keys metric.
func NewOperator[K, V, R any](ctx context.Context, kind string, w Windower[K, V, R], progress ProgressFunc, pool *batch.Pool[K, R], downstream operator.Observer[K, R], opts ...operator.Option) *Operator[K, V, R] {
	o := &Operator[K, V, R]{
		Base:     operator.NewBase(ctx, kind, opts...),
		windower: w,
		progress: progress,
		now:      temporal.MinSyncTime,
	}
	o.emitter = operator.NewEmitter(&o.Base, pool, downstream)
	o.held = metrics.HeldKeys.WithLabelValues(o.Opts.Pipeline, o.Opts.Name, kind)
	return o
}

func (o *Operator[K, V, R]) reach(t int64) error {
	if t <= o.now {
		return nil
	}
	o.now = t
	return o.windower.Reach(t, o.emitter)
}

func (o *Operator[K, V, R]) OnNext(b *batch.Batch[K, V]) error {
	defer b.Free()
	if err := o.Err(); err != nil {
		return err
	}
	for i := 0; i < b.Count; i++ {
		kind, ok := b.Kind(i)
		if !ok {
			continue
		}
		t := b.SyncTime.Data[i]
		switch kind {
		case temporal.Punctuation, temporal.LowWatermark:
			if t < o.now {
				continue
			}
			if err := o.reach(t); err != nil {
				return o.Fail(err)
			}
			if err := o.emitter.EmitKeyedPunctuation(o.progress(t), b.Key.Data[i], b.Hash.Data[i]); err != nil {
				return o.Fail(err)
			}
		case temporal.StartEdge, temporal.EndEdge:
			o.RowsIn.Inc()
			if t < o.now {
				return o.Fail(o.OutOfOrder(t, o.now, "input row is below the time already reached"))
			}
			if err := o.reach(t); err != nil {
				return o.Fail(err)
			}
			if err := o.windower.Insert(b.Row(i), o.emitter); err != nil {
				return o.Fail(err)
			}
		}
	}
	o.held.Set(float64(o.windower.Held()))
	return nil
}

func (o *Operator[K, V, R]) OnCompleted() error {
	if err := o.Err(); err != nil {
		return err
	}
	if err := o.reach(temporal.InfinitySyncTime); err != nil {
		return o.Fail(err)
	}
	if err := o.emitter.EmitPunctuation(temporal.InfinitySyncTime); err != nil {
		return o.Fail(err)
	}
	o.held.Set(float64(o.windower.Held()))
	o.Log.Debugw("Window completed", "held", o.windower.Held())
	return o.Fail(o.emitter.Complete())
}

func (o *Operator[K, V, R]) Flush() error {
	if err := o.Err(); err != nil {
		return err
	}
	return o.Fail(o.emitter.Flush())
}

func (o *Operator[K, V, R]) Dispose() error {
	if !o.MarkDisposed() {
		return nil
	}
	o.emitter.Dispose()
	o.held.Set(0)
	return o.DisposeFailed(o.windower.Dispose())
}

func (o *Operator[K, V, R]) Checkpoint(enc checkpoint.Encoder) error {
	if err := o.Err(); err != nil {
		return err
	}
	if err := enc.Encode(operatorState{Now: o.now}); err != nil {
		return err
	}
	if err := o.emitter.Checkpoint(enc); err != nil {
		return err
	}
	return o.windower.Checkpoint(enc)
}

func (o *Operator[K, V, R]) Restore(dec checkpoint.Decoder) error {
	var st operatorState
	if err := dec.Decode(&st); err != nil {
		return err
	}
	if err := o.emitter.Restore(dec); err != nil {
		return err
	}
	if err := o.windower.Restore(dec); err != nil {
		return err
	}
	o.now = st.Now
	o.held.Set(float64(o.windower.Held()))
	return nil
}
