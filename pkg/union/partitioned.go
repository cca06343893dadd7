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

package union

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

// partition holds the rows of one partition that could not be merged yet.
type partition[K, V any] struct {
	queues [2][]batch.Row[K, V]
	// seen is the latest time each side delivered for the partition
	seen     [2]int64
	punct    [2]int64
	reported [2]bool
	emitted  int64
	key      K
	hash     int32
}

func newPartition[K, V any]() *partition[K, V] {
	return &partition[K, V]{
		seen:    [2]int64{temporal.MinSyncTime, temporal.MinSyncTime},
		punct:   [2]int64{temporal.MinSyncTime, temporal.MinSyncTime},
		emitted: temporal.MinSyncTime,
	}
}

func (p *partition[K, V]) idle(lowWatermark int64) bool {
	return len(p.queues[Left]) == 0 && len(p.queues[Right]) == 0 &&
		p.seen[Left] <= lowWatermark && p.seen[Right] <= lowWatermark
}

// PartitionedUnion merges two partitioned streams. Rows are queued per partition and side, and a
// partition is merged on its own; low watermarks are tracked per side and the output carries the
// smaller of the two.
type PartitionedUnion[K, V, P any] struct {
	operator.Base
	partitioner   window.Partitioner[K, P]
	partitions    *slotmap.Map[P, *partition[K, V]]
	lowWatermarks [2]int64
	completed     [2]bool
	emitter       *operator.Emitter[K, V]
}

var _ operator.BinaryStage[string, int] = (*PartitionedUnion[string, int, string])(nil)

// NewPartitioned returns a PartitionedUnion writing to downstream.
func NewPartitioned[K, V, P any](ctx context.Context, partitioner window.Partitioner[K, P], pool *batch.Pool[K, V], downstream operator.Observer[K, V], opts ...operator.Option) *PartitionedUnion[K, V, P] {
	opts = append(opts, operator.WithPartitioned(true))
	u := &PartitionedUnion[K, V, P]{
		Base:          operator.NewBase(ctx, "union-partitioned", opts...),
		partitioner:   partitioner,
		partitions:    slotmap.New[P, *partition[K, V]](partitioner.Comparer),
		lowWatermarks: [2]int64{temporal.MinSyncTime, temporal.MinSyncTime},
	}
	u.emitter = operator.NewEmitter(&u.Base, pool, downstream)
	return u
}

// Partitions returns the number of partitions with pending state.
func (u *PartitionedUnion[K, V, P]) Partitions() int {
	return u.partitions.Len()
}

func (u *PartitionedUnion[K, V, P]) Left() operator.Observer[K, V] {
	return &partitionedObserver[K, V, P]{u: u, side: Left}
}

func (u *PartitionedUnion[K, V, P]) Right() operator.Observer[K, V] {
	return &partitionedObserver[K, V, P]{u: u, side: Right}
}

func (u *PartitionedUnion[K, V, P]) ProcessLeftBatch(b *batch.Batch[K, V]) error {
	return u.process(Left, b)
}

func (u *PartitionedUnion[K, V, P]) ProcessRightBatch(b *batch.Batch[K, V]) error {
	return u.process(Right, b)
}

func (u *PartitionedUnion[K, V, P]) ProcessBothBatches(left, right *batch.Batch[K, V]) error {
	if err := u.process(Left, left); err != nil {
		right.Free()
		return err
	}
	return u.process(Right, right)
}

func (u *PartitionedUnion[K, V, P]) lookup(key K) *partition[K, V] {
	part := u.partitioner.PartitionOf(key)
	i, _ := u.partitions.GetOrInsert(part, u.partitioner.Comparer.Hash(part), newPartition[K, V])
	return u.partitions.Value(i)
}

func (u *PartitionedUnion[K, V, P]) process(side Side, b *batch.Batch[K, V]) error {
	defer b.Free()
	if err := u.Err(); err != nil {
		return err
	}
	if u.completed[side] {
		return nil
	}
	for i := b.Iter; i < b.Count; i++ {
		kind, ok := b.Kind(i)
		if !ok {
			continue
		}
		t := b.SyncTime.Data[i]
		switch kind {
		case temporal.LowWatermark:
			if err := u.lowWatermark(side, t); err != nil {
				return u.Fail(err)
			}
		case temporal.Punctuation:
			if t <= u.lowWatermarks[side] {
				continue
			}
			p := u.lookup(b.Key.Data[i])
			p.seen[side] = max(p.seen[side], t)
			p.punct[side] = max(p.punct[side], t)
			p.reported[side] = true
			p.key, p.hash = b.Key.Data[i], b.Hash.Data[i]
			if err := u.merge(p); err != nil {
				return u.Fail(err)
			}
		default:
			u.RowsIn.Inc()
			if t < u.lowWatermarks[side] {
				return u.Fail(u.OutOfOrder(t, u.lowWatermarks[side], "input row is below the low watermark of its side"))
			}
			p := u.lookup(b.Key.Data[i])
			if t < p.seen[side] {
				return u.Fail(u.OutOfOrder(t, p.seen[side], "input row is below the time its partition reached"))
			}
			p.seen[side] = t
			p.queues[side] = append(p.queues[side], b.Row(i))
			if err := u.merge(p); err != nil {
				return u.Fail(err)
			}
		}
	}
	return nil
}

func (u *PartitionedUnion[K, V, P]) bound(p *partition[K, V], side Side) int64 {
	return max(p.seen[side], u.lowWatermarks[side])
}

// merge emits the rows of p that no longer wait on the other side, then the combined punctuation.
func (u *PartitionedUnion[K, V, P]) merge(p *partition[K, V]) error {
	for {
		l, r := p.queues[Left], p.queues[Right]
		var side Side
		switch {
		case len(l) > 0 && len(r) > 0:
			side = Right
			if l[0].SyncTime <= r[0].SyncTime {
				side = Left
			}
		case len(l) > 0 && l[0].SyncTime <= u.bound(p, Right):
			side = Left
		case len(r) > 0 && r[0].SyncTime < u.bound(p, Left):
			side = Right
		default:
			return u.punctuate(p)
		}
		row := p.queues[side][0]
		p.queues[side] = p.queues[side][1:]
		if len(p.queues[side]) == 0 {
			p.queues[side] = nil
		}
		if err := u.emitter.Emit(row); err != nil {
			return err
		}
	}
}

func (u *PartitionedUnion[K, V, P]) punctuate(p *partition[K, V]) error {
	if !p.reported[Left] || !p.reported[Right] {
		return nil
	}
	t := min(p.punct[Left], p.punct[Right])
	if t <= p.emitted {
		return nil
	}
	p.emitted = t
	return u.emitter.EmitKeyedPunctuation(t, p.key, p.hash)
}

// lowWatermark raises the low watermark of side, merges every partition and evicts the idle ones.
func (u *PartitionedUnion[K, V, P]) lowWatermark(side Side, t int64) error {
	if t <= u.lowWatermarks[side] {
		return nil
	}
	u.lowWatermarks[side] = t
	out := min(u.lowWatermarks[Left], u.lowWatermarks[Right])
	var err error
	u.partitions.Iterate(func(i int, _ P, p *partition[K, V]) bool {
		if err = u.merge(p); err != nil {
			return false
		}
		if p.idle(out) {
			u.partitions.Remove(i)
		}
		return true
	})
	if err != nil {
		return err
	}
	return u.emitter.EmitLowWatermark(out)
}

func (u *PartitionedUnion[K, V, P]) complete(side Side) error {
	if err := u.Err(); err != nil {
		return err
	}
	if u.completed[side] {
		return nil
	}
	if err := u.lowWatermark(side, temporal.InfinitySyncTime); err != nil {
		return u.Fail(err)
	}
	u.completed[side] = true
	if !u.completed[side.other()] {
		return nil
	}
	u.Log.Debugw("Both inputs completed")
	return u.Fail(u.emitter.Complete())
}

func (u *PartitionedUnion[K, V, P]) Flush() error {
	if err := u.Err(); err != nil {
		return err
	}
	return u.Fail(u.emitter.Flush())
}

func (u *PartitionedUnion[K, V, P]) Dispose() error {
	if !u.MarkDisposed() {
		return nil
	}
	u.emitter.Dispose()
	u.partitions.Clear()
	return nil
}

type partitionedUnionState struct {
	LowWatermarks [2]int64 `json:"lowWatermarks"`
	Completed     [2]bool  `json:"completed"`
	Partitions    int      `json:"partitions"`
}

type partitionState[K, V, P any] struct {
	Partition P                 `json:"partition"`
	Hash      int32             `json:"hash"`
	Left      []batch.Row[K, V] `json:"left"`
	Right     []batch.Row[K, V] `json:"right"`
	Seen      [2]int64          `json:"seen"`
	Punct     [2]int64          `json:"punct"`
	Reported  [2]bool           `json:"reported"`
	Emitted   int64             `json:"emitted"`
	Key       K                 `json:"key"`
	KeyHash   int32             `json:"keyHash"`
}

func (u *PartitionedUnion[K, V, P]) Checkpoint(enc checkpoint.Encoder) error {
	if err := u.Err(); err != nil {
		return err
	}
	st := partitionedUnionState{LowWatermarks: u.lowWatermarks, Completed: u.completed, Partitions: u.partitions.Len()}
	if err := enc.Encode(st); err != nil {
		return err
	}
	if err := u.emitter.Checkpoint(enc); err != nil {
		return err
	}
	var err error
	u.partitions.Iterate(func(i int, part P, p *partition[K, V]) bool {
		err = enc.Encode(partitionState[K, V, P]{
			Partition: part,
			Hash:      u.partitions.Hash(i),
			Left:      p.queues[Left],
			Right:     p.queues[Right],
			Seen:      p.seen,
			Punct:     p.punct,
			Reported:  p.reported,
			Emitted:   p.emitted,
			Key:       p.key,
			KeyHash:   p.hash,
		})
		return err == nil
	})
	return err
}

func (u *PartitionedUnion[K, V, P]) Restore(dec checkpoint.Decoder) error {
	var st partitionedUnionState
	if err := dec.Decode(&st); err != nil {
		return err
	}
	if err := u.emitter.Restore(dec); err != nil {
		return err
	}
	u.partitions.Clear()
	for n := 0; n < st.Partitions; n++ {
		var ps partitionState[K, V, P]
		if err := dec.Decode(&ps); err != nil {
			return err
		}
		u.partitions.Insert(ps.Partition, ps.Hash, &partition[K, V]{
			queues:   [2][]batch.Row[K, V]{ps.Left, ps.Right},
			seen:     ps.Seen,
			punct:    ps.Punct,
			reported: ps.Reported,
			emitted:  ps.Emitted,
			key:      ps.Key,
			hash:     ps.KeyHash,
		})
	}
	u.lowWatermarks, u.completed = st.LowWatermarks, st.Completed
	return nil
}

type partitionedObserver[K, V, P any] struct {
	u    *PartitionedUnion[K, V, P]
	side Side
}

func (o *partitionedObserver[K, V, P]) OnNext(b *batch.Batch[K, V]) error {
	return o.u.process(o.side, b)
}

func (o *partitionedObserver[K, V, P]) OnCompleted() error {
	return o.u.complete(o.side)
}

func (o *partitionedObserver[K, V, P]) Flush() error {
	return o.u.Flush()
}
