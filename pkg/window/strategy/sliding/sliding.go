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

// Package sliding implements the sliding snapshot window. Every start edge contributes to its key's
// aggregate for size time units after it arrives; an explicit end edge retracts it sooner. Rows are
// buffered in arrival order, which is also their expiry order, until they expire or are retracted.
package sliding

import (
	"container/list"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

type item[K, V any] struct {
	Row    batch.Row[K, V] `json:"row"`
	Expiry int64           `json:"expiry"`
}

// Windower is the Sliding window.
type Windower[K, V, S, R any] struct {
	size     int64
	comparer keys.Comparer[K]
	snapshot *window.Snapshot[K, V, S, R]
	// active rows, front expires first
	active *list.List
}

var _ window.Windower[string, int, int] = (*Windower[string, int, int, int])(nil)

// New returns an empty Sliding window of the given size.
func New[K, V, S, R any](size int64, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Windower[K, V, S, R] {
	return &Windower[K, V, S, R]{
		size:     size,
		comparer: comparer,
		snapshot: window.NewSnapshot[K, V, S, R](agg, comparer),
		active:   list.New(),
	}
}

func (w *Windower[K, V, S, R]) Reach(t int64, out operator.Output[K, R]) error {
	for e := w.active.Front(); e != nil; e = w.active.Front() {
		it := e.Value.(*item[K, V])
		if it.Expiry > t {
			break
		}
		if err := w.snapshot.Advance(it.Expiry, out); err != nil {
			return err
		}
		w.snapshot.Deaccumulate(it.Row.Key, it.Row.Hash, it.Row.Payload)
		w.active.Remove(e)
	}
	return w.snapshot.Advance(t, out)
}

func (w *Windower[K, V, S, R]) Insert(row batch.Row[K, V], _ operator.Output[K, R]) error {
	switch row.Kind() {
	case temporal.StartEdge:
		w.snapshot.Accumulate(row.Key, row.Hash, row.Payload)
		w.active.PushBack(&item[K, V]{Row: row, Expiry: temporal.SaturatingAdd(row.SyncTime, w.size)})
	case temporal.EndEdge:
		for e := w.active.Front(); e != nil; e = e.Next() {
			it := e.Value.(*item[K, V])
			if it.Row.SyncTime == row.OtherTime && it.Row.Hash == row.Hash && w.comparer.Equals(it.Row.Key, row.Key) {
				w.snapshot.Deaccumulate(it.Row.Key, it.Row.Hash, it.Row.Payload)
				w.active.Remove(e)
				break
			}
		}
		// no match means the row already expired
	}
	return nil
}

func (w *Windower[K, V, S, R]) Empty() bool {
	return w.active.Len() == 0 && w.snapshot.Len() == 0
}

func (w *Windower[K, V, S, R]) Held() int {
	return w.snapshot.Len()
}

func (w *Windower[K, V, S, R]) Dispose() error {
	w.active.Init()
	return w.snapshot.Dispose()
}

func (w *Windower[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	if err := w.snapshot.Checkpoint(enc); err != nil {
		return err
	}
	items := make([]*item[K, V], 0, w.active.Len())
	for e := w.active.Front(); e != nil; e = e.Next() {
		items = append(items, e.Value.(*item[K, V]))
	}
	return enc.Encode(items)
}

func (w *Windower[K, V, S, R]) Restore(dec checkpoint.Decoder) error {
	if err := w.snapshot.Restore(dec); err != nil {
		return err
	}
	var items []*item[K, V]
	if err := dec.Decode(&items); err != nil {
		return err
	}
	w.active.Init()
	for _, it := range items {
		w.active.PushBack(it)
	}
	return nil
}
