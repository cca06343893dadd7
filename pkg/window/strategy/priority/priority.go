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

// Package priority implements the general snapshot window, used when nothing is known about the
// lifetimes of the input. Rows keep the lifetime they arrive with: open start edges stay until an
// end edge retracts them, and intervals are queued by end time in a min-heap so the next expiry is
// found regardless of batch boundaries.
package priority

import (
	"container/heap"
	"fmt"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

type item[K, V any] struct {
	Row batch.Row[K, V] `json:"row"`
	// Seq breaks ties between intervals ending at the same time.
	Seq uint64 `json:"seq"`
}

type expiryHeap[K, V any] []*item[K, V]

func (h expiryHeap[K, V]) Len() int { return len(h) }

func (h expiryHeap[K, V]) Less(i, j int) bool {
	if h[i].Row.OtherTime != h[j].Row.OtherTime {
		return h[i].Row.OtherTime < h[j].Row.OtherTime
	}
	return h[i].Seq < h[j].Seq
}

func (h expiryHeap[K, V]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap[K, V]) Push(x any) { *h = append(*h, x.(*item[K, V])) }

func (h *expiryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Windower is the PriorityQueue window.
type Windower[K, V, S, R any] struct {
	snapshot *window.Snapshot[K, V, S, R]
	pending  expiryHeap[K, V]
	seq      uint64
	// open counts the open start edges per key and start time.
	open *slotmap.Map[keys.Compound[K, int64], int]
}

var _ window.Windower[string, int, int] = (*Windower[string, int, int, int])(nil)

// New returns an empty PriorityQueue window.
func New[K, V, S, R any](agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Windower[K, V, S, R] {
	return &Windower[K, V, S, R]{
		snapshot: window.NewSnapshot[K, V, S, R](agg, comparer),
		open:     slotmap.New[keys.Compound[K, int64], int](keys.NewCompoundComparer[K, int64](comparer, keys.Int64{})),
	}
}

func openHash(hash int32, start int64) int32 {
	return keys.Combine(hash, keys.Int64{}.Hash(start))
}

func (w *Windower[K, V, S, R]) Reach(t int64, out operator.Output[K, R]) error {
	for len(w.pending) > 0 && w.pending[0].Row.OtherTime <= t {
		it := heap.Pop(&w.pending).(*item[K, V])
		if err := w.snapshot.Advance(it.Row.OtherTime, out); err != nil {
			return err
		}
		w.snapshot.Deaccumulate(it.Row.Key, it.Row.Hash, it.Row.Payload)
	}
	return w.snapshot.Advance(t, out)
}

func (w *Windower[K, V, S, R]) Insert(row batch.Row[K, V], _ operator.Output[K, R]) error {
	switch row.Kind() {
	case temporal.StartEdge:
		w.snapshot.Accumulate(row.Key, row.Hash, row.Payload)
		if row.OtherTime == temporal.InfinitySyncTime {
			i, _ := w.open.GetOrInsert(keys.Compound[K, int64]{Outer: row.Key, Inner: row.SyncTime}, openHash(row.Hash, row.SyncTime), func() int { return 0 })
			w.open.Set(i, w.open.Value(i)+1)
			return nil
		}
		w.seq++
		heap.Push(&w.pending, &item[K, V]{Row: row, Seq: w.seq})
	case temporal.EndEdge:
		i, ok := w.open.Lookup(keys.Compound[K, int64]{Outer: row.Key, Inner: row.OtherTime}, openHash(row.Hash, row.OtherTime))
		if !ok || !w.snapshot.Deaccumulate(row.Key, row.Hash, row.Payload) {
			return operator.InvariantErr{
				Stage:   window.PriorityQueue.String(),
				Message: fmt.Sprintf("end edge at %d for an interval starting at %d has no open start edge", row.SyncTime, row.OtherTime),
			}
		}
		if n := w.open.Value(i) - 1; n > 0 {
			w.open.Set(i, n)
		} else {
			w.open.Remove(i)
		}
	}
	return nil
}

func (w *Windower[K, V, S, R]) Empty() bool {
	return len(w.pending) == 0 && w.snapshot.Len() == 0
}

func (w *Windower[K, V, S, R]) Held() int {
	return w.snapshot.Len()
}

func (w *Windower[K, V, S, R]) Dispose() error {
	w.pending = nil
	w.open.Clear()
	return w.snapshot.Dispose()
}

type openEdges[K any] struct {
	Key   K     `json:"key"`
	Hash  int32 `json:"hash"`
	Start int64 `json:"start"`
	Count int   `json:"count"`
}

type state[K, V any] struct {
	Seq     uint64         `json:"seq"`
	Pending []*item[K, V]  `json:"pending"`
	Open    []openEdges[K] `json:"open"`
}

func (w *Windower[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	if err := w.snapshot.Checkpoint(enc); err != nil {
		return err
	}
	st := state[K, V]{Seq: w.seq, Pending: w.pending}
	w.open.Iterate(func(i int, key keys.Compound[K, int64], count int) bool {
		st.Open = append(st.Open, openEdges[K]{Key: key.Outer, Hash: w.open.Hash(i), Start: key.Inner, Count: count})
		return true
	})
	return enc.Encode(st)
}

func (w *Windower[K, V, S, R]) Restore(dec checkpoint.Decoder) error {
	if err := w.snapshot.Restore(dec); err != nil {
		return err
	}
	var st state[K, V]
	if err := dec.Decode(&st); err != nil {
		return err
	}
	w.seq = st.Seq
	w.pending = st.Pending
	heap.Init(&w.pending)
	w.open.Clear()
	for _, e := range st.Open {
		w.open.Insert(keys.Compound[K, int64]{Outer: e.Key, Inner: e.Start}, e.Hash, e.Count)
	}
	return nil
}
