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

// Package tumbling implements fixed, non overlapping windows. Rows are treated as points at their
// sync time. A window [start, start+size) is emitted as one closed interval per key once time reaches
// its end, and its aggregates are dropped.
package tumbling

import (
	"go.uber.org/multierr"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

// Windower is the Tumbling window.
type Windower[K, V, S, R any] struct {
	size   int64
	agg    aggregate.Aggregate[V, S, R]
	states *slotmap.Map[K, S]
	// open reports whether the window starting at start holds data.
	open  bool
	start int64
}

var _ window.Windower[string, int, int] = (*Windower[string, int, int, int])(nil)

// New returns an empty Tumbling window of the given size.
func New[K, V, S, R any](size int64, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Windower[K, V, S, R] {
	return &Windower[K, V, S, R]{
		size:   size,
		agg:    agg,
		states: slotmap.New[K, S](comparer),
	}
}

func (w *Windower[K, V, S, R]) Reach(t int64, out operator.Output[K, R]) error {
	end := temporal.SaturatingAdd(w.start, w.size)
	if !w.open || t < end {
		return nil
	}
	var errs error
	var err error
	w.states.Iterate(func(i int, key K, state S) bool {
		err = out.Emit(batch.Row[K, R]{
			SyncTime:  w.start,
			OtherTime: end,
			Key:       key,
			Payload:   w.agg.ComputeResult(state),
			Hash:      w.states.Hash(i),
		})
		errs = multierr.Append(errs, aggregate.DisposeState(state))
		return err == nil
	})
	if err != nil {
		return err
	}
	w.states.Clear()
	w.open = false
	return errs
}

func (w *Windower[K, V, S, R]) Insert(row batch.Row[K, V], _ operator.Output[K, R]) error {
	if row.Kind() != temporal.StartEdge {
		// a point was already counted at its start edge
		return nil
	}
	if !w.open {
		w.open = true
		w.start = temporal.AlignDown(row.SyncTime, w.size)
	}
	i, _ := w.states.GetOrInsert(row.Key, row.Hash, w.agg.InitialState)
	w.states.Set(i, w.agg.Accumulate(w.states.Value(i), row.SyncTime, row.Payload))
	return nil
}

func (w *Windower[K, V, S, R]) Empty() bool {
	return !w.open
}

func (w *Windower[K, V, S, R]) Held() int {
	return w.states.Len()
}

func (w *Windower[K, V, S, R]) Dispose() error {
	var errs error
	w.states.Iterate(func(_ int, _ K, state S) bool {
		errs = multierr.Append(errs, aggregate.DisposeState(state))
		return true
	})
	w.states.Clear()
	w.open = false
	return errs
}

type entry[K, S any] struct {
	Key   K     `json:"key"`
	Hash  int32 `json:"hash"`
	State S     `json:"state"`
}

type state[K, S any] struct {
	Open    bool          `json:"open"`
	Start   int64         `json:"start"`
	Entries []entry[K, S] `json:"entries"`
}

func (w *Windower[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	st := state[K, S]{Open: w.open, Start: w.start}
	w.states.Iterate(func(i int, key K, s S) bool {
		st.Entries = append(st.Entries, entry[K, S]{Key: key, Hash: w.states.Hash(i), State: s})
		return true
	})
	return enc.Encode(st)
}

func (w *Windower[K, V, S, R]) Restore(dec checkpoint.Decoder) error {
	var st state[K, S]
	if err := dec.Decode(&st); err != nil {
		return err
	}
	w.states.Clear()
	for _, e := range st.Entries {
		w.states.Insert(e.Key, e.Hash, e.State)
	}
	w.open, w.start = st.Open, st.Start
	return nil
}
