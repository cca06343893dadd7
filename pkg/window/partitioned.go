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
	"go.uber.org/multierr"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Partitioner extracts the partition of a row key.
type Partitioner[K, P any] struct {
	PartitionOf func(key K) P
	Comparer    keys.Comparer[P]
}

// KeyPartitioner uses the row key as the partition.
func KeyPartitioner[K any](comparer keys.Comparer[K]) Partitioner[K, K] {
	return Partitioner[K, K]{
		PartitionOf: func(key K) K { return key },
		Comparer:    comparer,
	}
}

type partitionEntry[K, V, R any] struct {
	windower Windower[K, V, R]
	now      int64
}

type partitionedState struct {
	LowWatermark int64 `json:"lowWatermark"`
	Partitions   int   `json:"partitions"`
}

type partitionHeader[P any] struct {
	Key  P     `json:"key"`
	Hash int32 `json:"hash"`
	Now  int64 `json:"now"`
}

// PartitionedOperator drives one Windower per partition of a partitioned stream. Rows of different
// partitions interleave; each partition is ordered on its own and all of them are bounded below by
// the low watermark. A low watermark reaches every partition, and partitions left without held state
// are evicted.
type PartitionedOperator[K, V, R, P any] struct {
	operator.Base
	factory      Factory[K, V, R]
	partitioner  Partitioner[K, P]
	partitions   *slotmap.Map[P, *partitionEntry[K, V, R]]
	emitter      *operator.Emitter[K, R]
	progress     ProgressFunc
	lowWatermark int64
	held         prometheus.Gauge
}

var _ operator.Stage[string, int] = (*PartitionedOperator[string, int, int, string])(nil)

// NewPartitionedOperator returns a stage creating a Windower with factory for every partition.
func NewPartitionedOperator[K, V, R, P any](ctx context.Context, kind string, factory Factory[K, V, R], partitioner Partitioner[K, P], progress ProgressFunc, pool *batch.Pool[K, R], downstream operator.Observer[K, R], opts ...operator.Option) *PartitionedOperator[K, V, R, P] {
	opts = append(opts, operator.WithPartitioned(true))
	o := &PartitionedOperator[K, V, R, P]{
		Base:         operator.NewBase(ctx, kind, opts...),
		factory:      factory,
		partitioner:  partitioner,
		partitions:   slotmap.New[P, *partitionEntry[K, V, R]](partitioner.Comparer),
		progress:     progress,
		lowWatermark: temporal.MinSyncTime,
	}
	o.emitter = operator.NewEmitter(&o.Base, pool, downstream)
	o.held = metrics.HeldKeys.WithLabelValues(o.Opts.Pipeline, o.Opts.Name, kind)
	return o
}

// Partitions returns the number of partitions with held state.
func (o *PartitionedOperator[K, V, R, P]) Partitions() int {
	return o.partitions.Len()
}

func (o *PartitionedOperator[K, V, R, P]) reach(p *partitionEntry[K, V, R], t int64) error {
	if t <= p.now {
		return nil
	}
	p.now = t
	return p.windower.Reach(t, o.emitter)
}

// advance moves every partition to the low watermark t and evicts the idle ones.
func (o *PartitionedOperator[K, V, R, P]) advance(t int64) error {
	var err error
	o.partitions.Iterate(func(i int, _ P, p *partitionEntry[K, V, R]) bool {
		if err = o.reach(p, t); err != nil {
			return false
		}
		if p.windower.Empty() {
			o.partitions.Remove(i)
			if err = p.windower.Dispose(); err != nil {
				return false
			}
		}
		return true
	})
	return err
}

func (o *PartitionedOperator[K, V, R, P]) OnNext(b *batch.Batch[K, V]) error {
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
		case temporal.LowWatermark:
			if t <= o.lowWatermark {
				continue
			}
			o.lowWatermark = t
			if err := o.advance(t); err != nil {
				return o.Fail(err)
			}
			if err := o.emitter.EmitLowWatermark(o.progress(t)); err != nil {
				return o.Fail(err)
			}
		case temporal.Punctuation:
			if t <= o.lowWatermark {
				continue
			}
			key := b.Key.Data[i]
			part := o.partitioner.PartitionOf(key)
			if j, ok := o.partitions.Lookup(part, o.partitioner.Comparer.Hash(part)); ok {
				p := o.partitions.Value(j)
				if t < p.now {
					continue
				}
				if err := o.reach(p, t); err != nil {
					return o.Fail(err)
				}
			}
			if err := o.emitter.EmitKeyedPunctuation(o.progress(t), key, b.Hash.Data[i]); err != nil {
				return o.Fail(err)
			}
		case temporal.StartEdge, temporal.EndEdge:
			o.RowsIn.Inc()
			if t < o.lowWatermark {
				return o.Fail(o.OutOfOrder(t, o.lowWatermark, "input row is below the low watermark"))
			}
			part := o.partitioner.PartitionOf(b.Key.Data[i])
			j, _ := o.partitions.GetOrInsert(part, o.partitioner.Comparer.Hash(part), func() *partitionEntry[K, V, R] {
				return &partitionEntry[K, V, R]{windower: o.factory(), now: o.lowWatermark}
			})
			p := o.partitions.Value(j)
			if t < p.now {
				return o.Fail(o.OutOfOrder(t, p.now, "input row is below the time its partition reached"))
			}
			if err := o.reach(p, t); err != nil {
				return o.Fail(err)
			}
			if err := p.windower.Insert(b.Row(i), o.emitter); err != nil {
				return o.Fail(err)
			}
		}
	}
	o.updateHeld()
	return nil
}

func (o *PartitionedOperator[K, V, R, P]) updateHeld() {
	n := 0
	o.partitions.Iterate(func(_ int, _ P, p *partitionEntry[K, V, R]) bool {
		n += p.windower.Held()
		return true
	})
	o.held.Set(float64(n))
}

func (o *PartitionedOperator[K, V, R, P]) OnCompleted() error {
	if err := o.Err(); err != nil {
		return err
	}
	o.lowWatermark = temporal.InfinitySyncTime
	if err := o.advance(temporal.InfinitySyncTime); err != nil {
		return o.Fail(err)
	}
	if err := o.emitter.EmitLowWatermark(temporal.InfinitySyncTime); err != nil {
		return o.Fail(err)
	}
	o.updateHeld()
	return o.Fail(o.emitter.Complete())
}

func (o *PartitionedOperator[K, V, R, P]) Flush() error {
	if err := o.Err(); err != nil {
		return err
	}
	return o.Fail(o.emitter.Flush())
}

func (o *PartitionedOperator[K, V, R, P]) Dispose() error {
	if !o.MarkDisposed() {
		return nil
	}
	o.emitter.Dispose()
	var errs error
	o.partitions.Iterate(func(_ int, _ P, p *partitionEntry[K, V, R]) bool {
		errs = multierr.Append(errs, p.windower.Dispose())
		return true
	})
	o.partitions.Clear()
	o.held.Set(0)
	return o.DisposeFailed(errs)
}

func (o *PartitionedOperator[K, V, R, P]) Checkpoint(enc checkpoint.Encoder) error {
	if err := o.Err(); err != nil {
		return err
	}
	if err := enc.Encode(partitionedState{LowWatermark: o.lowWatermark, Partitions: o.partitions.Len()}); err != nil {
		return err
	}
	if err := o.emitter.Checkpoint(enc); err != nil {
		return err
	}
	var err error
	o.partitions.Iterate(func(i int, key P, p *partitionEntry[K, V, R]) bool {
		if err = enc.Encode(partitionHeader[P]{Key: key, Hash: o.partitions.Hash(i), Now: p.now}); err != nil {
			return false
		}
		err = p.windower.Checkpoint(enc)
		return err == nil
	})
	return err
}

func (o *PartitionedOperator[K, V, R, P]) Restore(dec checkpoint.Decoder) error {
	var st partitionedState
	if err := dec.Decode(&st); err != nil {
		return err
	}
	if err := o.emitter.Restore(dec); err != nil {
		return err
	}
	o.partitions.Clear()
	for n := 0; n < st.Partitions; n++ {
		var h partitionHeader[P]
		if err := dec.Decode(&h); err != nil {
			return err
		}
		w := o.factory()
		if err := w.Restore(dec); err != nil {
			return err
		}
		o.partitions.Insert(h.Key, h.Hash, &partitionEntry[K, V, R]{windower: w, now: h.Now})
	}
	o.lowWatermark = st.LowWatermark
	o.updateHeld()
	return nil
}
