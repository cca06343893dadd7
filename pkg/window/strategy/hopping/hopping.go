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

// Package hopping implements fixed windows that overlap: a window of the given size starts every hop.
// Rows are treated as points at their sync time and folded into every window that contains them.
// Each key holds a ring of ceil(size/hop)+1 accumulators indexed by the window start, which is enough
// for all the windows a point can fall in plus the one being emitted.
package hopping

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

type ring[S any] struct {
	starts []int64
	states []S
	used   []bool
	count  int
}

// Windower is the Hopping window.
type Windower[K, V, S, R any] struct {
	size   int64
	hop    int64
	slots  int
	agg    aggregate.Aggregate[V, S, R]
	states *slotmap.Map[K, *ring[S]]
	// windows low..high, stepping by hop, may hold data
	open bool
	low  int64
	high int64
}

var _ window.Windower[string, int, int] = (*Windower[string, int, int, int])(nil)

// New returns an empty Hopping window. hop must be positive and smaller than size.
func New[K, V, S, R any](size, hop int64, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Windower[K, V, S, R] {
	return &Windower[K, V, S, R]{
		size:   size,
		hop:    hop,
		slots:  int((size+hop-1)/hop) + 1,
		agg:    agg,
		states: slotmap.New[K, *ring[S]](comparer),
	}
}

func (w *Windower[K, V, S, R]) newRing() *ring[S] {
	return &ring[S]{
		starts: make([]int64, w.slots),
		states: make([]S, w.slots),
		used:   make([]bool, w.slots),
	}
}

func (w *Windower[K, V, S, R]) slot(start int64) int {
	return int(temporal.FloorMod(temporal.FloorDiv(start, w.hop), int64(w.slots)))
}

// firstWindow returns the start of the oldest window containing t.
func (w *Windower[K, V, S, R]) firstWindow(t int64) int64 {
	start := temporal.AlignDown(t, w.hop)
	for start-w.hop+w.size > t {
		start -= w.hop
	}
	return start
}

func (w *Windower[K, V, S, R]) Reach(t int64, out operator.Output[K, R]) error {
	if !w.open {
		return nil
	}
	var errs error
	start := w.low
	for ; start <= w.high; start += w.hop {
		end := temporal.SaturatingAdd(start, w.size)
		if end > t {
			break
		}
		idx := w.slot(start)
		var err error
		w.states.Iterate(func(i int, key K, r *ring[S]) bool {
			if !r.used[idx] || r.starts[idx] != start {
				return true
			}
			err = out.Emit(batch.Row[K, R]{
				SyncTime:  start,
				OtherTime: end,
				Key:       key,
				Payload:   w.agg.ComputeResult(r.states[idx]),
				Hash:      w.states.Hash(i),
			})
			errs = multierr.Append(errs, aggregate.DisposeState(r.states[idx]))
			var zero S
			r.states[idx], r.used[idx] = zero, false
			r.count--
			if r.count == 0 {
				w.states.Remove(i)
			}
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	w.low = start
	if w.low > w.high {
		w.open = false
	}
	return errs
}

func (w *Windower[K, V, S, R]) Insert(row batch.Row[K, V], _ operator.Output[K, R]) error {
	if row.Kind() != temporal.StartEdge {
		return nil
	}
	t := row.SyncTime
	first, last := w.firstWindow(t), temporal.AlignDown(t, w.hop)
	if !w.open {
		w.open, w.low, w.high = true, first, last
	} else if last > w.high {
		w.high = last
	}
	i, _ := w.states.GetOrInsert(row.Key, row.Hash, w.newRing)
	r := w.states.Value(i)
	for start := first; start <= last; start += w.hop {
		idx := w.slot(start)
		if !r.used[idx] {
			r.starts[idx], r.states[idx], r.used[idx] = start, w.agg.InitialState(), true
			r.count++
		}
		r.states[idx] = w.agg.Accumulate(r.states[idx], t, row.Payload)
	}
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
	w.states.Iterate(func(_ int, _ K, r *ring[S]) bool {
		for idx, used := range r.used {
			if used {
				errs = multierr.Append(errs, aggregate.DisposeState(r.states[idx]))
			}
		}
		return true
	})
	w.states.Clear()
	w.open = false
	return errs
}

type slotState[S any] struct {
	Start int64 `json:"start"`
	State S     `json:"state"`
}

type entry[K, S any] struct {
	Key     K              `json:"key"`
	Hash    int32          `json:"hash"`
	Windows []slotState[S] `json:"windows"`
}

type state[K, S any] struct {
	Open    bool          `json:"open"`
	Low     int64         `json:"low"`
	High    int64         `json:"high"`
	Entries []entry[K, S] `json:"entries"`
}

func (w *Windower[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	st := state[K, S]{Open: w.open, Low: w.low, High: w.high}
	w.states.Iterate(func(i int, key K, r *ring[S]) bool {
		e := entry[K, S]{Key: key, Hash: w.states.Hash(i)}
		for idx, used := range r.used {
			if used {
				e.Windows = append(e.Windows, slotState[S]{Start: r.starts[idx], State: r.states[idx]})
			}
		}
		st.Entries = append(st.Entries, e)
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
		r := w.newRing()
		for _, win := range e.Windows {
			idx := w.slot(win.Start)
			r.starts[idx], r.states[idx], r.used[idx] = win.Start, win.State, true
			r.count++
		}
		w.states.Insert(e.Key, e.Hash, r)
	}
	w.open, w.low, w.high = st.Open, st.Low, st.High
	return nil
}
