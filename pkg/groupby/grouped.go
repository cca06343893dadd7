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

package groupby

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

type groupedState struct {
	Now int64 `json:"now"`
}

// GroupedWindow groups an append-only stream by selector, aggregates each group as a snapshot
// window and projects the results back to the outer key with result. It produces the same rows as a
// nested grouping followed by a StartEdge window and an Ungroup without materialising the
// intermediate streams.
type GroupedWindow[O, V, I, S, R, R2 any] struct {
	operator.Base
	selector func(payload V) I
	inner    keys.Comparer[I]
	result   func(inner I, r R) R2
	snapshot *window.Snapshot[keys.Compound[O, I], V, S, R]
	emitter  *operator.Emitter[O, R2]
	project  operator.Output[keys.Compound[O, I], R]
	now      int64
}

var _ operator.Stage[string, int] = (*GroupedWindow[string, int, int, int, int, int])(nil)

// NewGroupedWindow returns a fused grouped window. outer compares the keys of the input stream.
func NewGroupedWindow[O, V, I, S, R, R2 any](ctx context.Context, outer keys.Comparer[O], selector func(payload V) I, inner keys.Comparer[I], agg aggregate.Aggregate[V, S, R], result func(inner I, r R) R2, pool *batch.Pool[O, R2], downstream operator.Observer[O, R2], opts ...operator.Option) *GroupedWindow[O, V, I, S, R, R2] {
	g := &GroupedWindow[O, V, I, S, R, R2]{
		Base:     operator.NewBase(ctx, "grouped-window", opts...),
		selector: selector,
		inner:    inner,
		result:   result,
		snapshot: window.NewSnapshot[keys.Compound[O, I], V, S, R](agg, keys.NewCompoundComparer(outer, inner)),
		now:      temporal.MinSyncTime,
	}
	g.emitter = operator.NewEmitter(&g.Base, pool, downstream)
	g.project = operator.OutputFunc[keys.Compound[O, I], R](func(row batch.Row[keys.Compound[O, I], R]) error {
		return g.emitter.Emit(batch.Row[O, R2]{
			SyncTime:  row.SyncTime,
			OtherTime: row.OtherTime,
			Key:       row.Key.Outer,
			Payload:   g.result(row.Key.Inner, row.Payload),
			Hash:      keys.Combine(row.Hash, g.inner.Hash(row.Key.Inner)),
		})
	})
	return g
}

// Held returns the number of groups with held state.
func (g *GroupedWindow[O, V, I, S, R, R2]) Held() int {
	return g.snapshot.Len()
}

func (g *GroupedWindow[O, V, I, S, R, R2]) reach(t int64) error {
	if t <= g.now {
		return nil
	}
	g.now = t
	return g.snapshot.Advance(t, g.project)
}

func (g *GroupedWindow[O, V, I, S, R, R2]) OnNext(b *batch.Batch[O, V]) error {
	defer b.Free()
	if err := g.Err(); err != nil {
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
			if t < g.now {
				continue
			}
			if err := g.reach(t); err != nil {
				return g.Fail(err)
			}
			if err := g.emitter.EmitKeyedPunctuation(t, b.Key.Data[i], b.Hash.Data[i]); err != nil {
				return g.Fail(err)
			}
		default:
			g.RowsIn.Inc()
			if b.OtherTime.Data[i] != temporal.InfinitySyncTime {
				return g.Fail(g.Invariant("grouped window accepts open start edges only"))
			}
			if t < g.now {
				return g.Fail(g.OutOfOrder(t, g.now, "input row is below the time already reached"))
			}
			if err := g.reach(t); err != nil {
				return g.Fail(err)
			}
			payload := b.Payload.Data[i]
			in := g.selector(payload)
			key := keys.Compound[O, I]{Outer: b.Key.Data[i], Inner: in}
			g.snapshot.Accumulate(key, keys.Combine(b.Hash.Data[i], g.inner.Hash(in)), payload)
		}
	}
	return nil
}

func (g *GroupedWindow[O, V, I, S, R, R2]) OnCompleted() error {
	if err := g.Err(); err != nil {
		return err
	}
	if err := g.reach(temporal.InfinitySyncTime); err != nil {
		return g.Fail(err)
	}
	if err := g.emitter.EmitPunctuation(temporal.InfinitySyncTime); err != nil {
		return g.Fail(err)
	}
	return g.Fail(g.emitter.Complete())
}

func (g *GroupedWindow[O, V, I, S, R, R2]) Flush() error {
	if err := g.Err(); err != nil {
		return err
	}
	return g.Fail(g.emitter.Flush())
}

func (g *GroupedWindow[O, V, I, S, R, R2]) Dispose() error {
	if !g.MarkDisposed() {
		return nil
	}
	g.emitter.Dispose()
	return g.DisposeFailed(g.snapshot.Dispose())
}

func (g *GroupedWindow[O, V, I, S, R, R2]) Checkpoint(enc checkpoint.Encoder) error {
	if err := g.Err(); err != nil {
		return err
	}
	if err := enc.Encode(groupedState{Now: g.now}); err != nil {
		return err
	}
	if err := g.emitter.Checkpoint(enc); err != nil {
		return err
	}
	return g.snapshot.Checkpoint(enc)
}

func (g *GroupedWindow[O, V, I, S, R, R2]) Restore(dec checkpoint.Decoder) error {
	var st groupedState
	if err := dec.Decode(&st); err != nil {
		return err
	}
	if err := g.emitter.Restore(dec); err != nil {
		return err
	}
	if err := g.snapshot.Restore(dec); err != nil {
		return err
	}
	g.now = st.Now
	return nil
}
