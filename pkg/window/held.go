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
	"go.uber.org/multierr"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// HeldState is the aggregate held for one key.
type HeldState[S, R any] struct {
	State S `json:"state"`
	// ActiveCount is the number of rows currently folded into State.
	ActiveCount int64 `json:"activeCount"`
	// LastStart and LastResult describe the open start edge emitted for the key, if HasOutput.
	LastStart  int64 `json:"lastStart"`
	LastResult R     `json:"lastResult"`
	HasOutput  bool  `json:"hasOutput"`

	dirty bool
}

// Snapshot keeps one aggregate per key and turns it into intervals. All changes happen at the held
// timestamp; once time moves past it, every key that changed emits an end edge closing its previous
// result and a start edge opening the new one. A key whose active count dropped to zero is evicted
// and its state disposed.
type Snapshot[K, V, S, R any] struct {
	agg     aggregate.Aggregate[V, S, R]
	states  *slotmap.Map[K, *HeldState[S, R]]
	dirty   []int
	time    int64
	current int
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot[K, V, S, R any](agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Snapshot[K, V, S, R] {
	return &Snapshot[K, V, S, R]{
		agg:     agg,
		states:  slotmap.New[K, *HeldState[S, R]](comparer),
		time:    temporal.MinSyncTime,
		current: -1,
	}
}

// Time returns the held timestamp.
func (s *Snapshot[K, V, S, R]) Time() int64 {
	return s.time
}

// Len returns the number of keys with held state.
func (s *Snapshot[K, V, S, R]) Len() int {
	return s.states.Len()
}

// Advance moves the held timestamp to t, emitting the changes made at an earlier timestamp.
func (s *Snapshot[K, V, S, R]) Advance(t int64, out operator.Output[K, R]) error {
	if t <= s.time {
		return nil
	}
	err := s.Flush(out)
	s.time = t
	return err
}

func (s *Snapshot[K, V, S, R]) lookup(key K, hash int32) (int, bool) {
	// rows of one key tend to arrive together, check the last touched key first
	if s.states.Live(s.current) && s.states.Hash(s.current) == hash && s.states.Comparer().Equals(s.states.Key(s.current), key) {
		return s.current, true
	}
	i, ok := s.states.Lookup(key, hash)
	if ok {
		s.current = i
	}
	return i, ok
}

func (s *Snapshot[K, V, S, R]) touch(i int) *HeldState[S, R] {
	st := s.states.Value(i)
	if !st.dirty {
		st.dirty = true
		s.dirty = append(s.dirty, i)
	}
	return st
}

// Accumulate folds payload into the aggregate of key at the held timestamp.
func (s *Snapshot[K, V, S, R]) Accumulate(key K, hash int32, payload V) {
	i, ok := s.lookup(key, hash)
	if !ok {
		i = s.states.Insert(key, hash, &HeldState[S, R]{State: s.agg.InitialState()})
		s.current = i
	}
	st := s.touch(i)
	st.State = s.agg.Accumulate(st.State, s.time, payload)
	st.ActiveCount++
}

// Deaccumulate retracts payload from the aggregate of key. It returns false if the key holds nothing.
func (s *Snapshot[K, V, S, R]) Deaccumulate(key K, hash int32, payload V) bool {
	i, ok := s.lookup(key, hash)
	if !ok {
		return false
	}
	st := s.touch(i)
	st.State = s.agg.Deaccumulate(st.State, s.time, payload)
	st.ActiveCount--
	return true
}

// Flush emits the changes made at the held timestamp.
func (s *Snapshot[K, V, S, R]) Flush(out operator.Output[K, R]) error {
	var errs error
	for _, i := range s.dirty {
		st := s.states.Value(i)
		st.dirty = false
		key, hash := s.states.Key(i), s.states.Hash(i)
		if st.HasOutput {
			if err := out.Emit(batch.Row[K, R]{SyncTime: s.time, OtherTime: st.LastStart, Key: key, Payload: st.LastResult, Hash: hash}); err != nil {
				return err
			}
		}
		if st.ActiveCount > 0 {
			r := s.agg.ComputeResult(st.State)
			if err := out.Emit(batch.Row[K, R]{SyncTime: s.time, OtherTime: temporal.InfinitySyncTime, Key: key, Payload: r, Hash: hash}); err != nil {
				return err
			}
			st.LastStart, st.LastResult, st.HasOutput = s.time, r, true
			continue
		}
		s.states.Remove(i)
		errs = multierr.Append(errs, aggregate.DisposeState(st.State))
	}
	s.dirty = s.dirty[:0]
	return errs
}

// Dispose drops every held aggregate.
func (s *Snapshot[K, V, S, R]) Dispose() error {
	var errs error
	s.states.Iterate(func(_ int, _ K, st *HeldState[S, R]) bool {
		errs = multierr.Append(errs, aggregate.DisposeState(st.State))
		return true
	})
	s.states.Clear()
	s.dirty = nil
	s.current = -1
	return errs
}

type snapshotEntry[K, S, R any] struct {
	Key  K               `json:"key"`
	Hash int32           `json:"hash"`
	Held HeldState[S, R] `json:"held"`
}

type snapshotState[K, S, R any] struct {
	Time    int64                    `json:"time"`
	Entries []snapshotEntry[K, S, R] `json:"entries"`
	// Dirty holds positions into Entries, in the order the keys changed.
	Dirty []int `json:"dirty"`
}

func (s *Snapshot[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	st := snapshotState[K, S, R]{Time: s.time, Entries: make([]snapshotEntry[K, S, R], 0, s.states.Len())}
	pos := make(map[int]int, s.states.Len())
	s.states.Iterate(func(i int, key K, held *HeldState[S, R]) bool {
		pos[i] = len(st.Entries)
		st.Entries = append(st.Entries, snapshotEntry[K, S, R]{Key: key, Hash: s.states.Hash(i), Held: *held})
		return true
	})
	for _, i := range s.dirty {
		st.Dirty = append(st.Dirty, pos[i])
	}
	return enc.Encode(st)
}

func (s *Snapshot[K, V, S, R]) Restore(dec checkpoint.Decoder) error {
	var st snapshotState[K, S, R]
	if err := dec.Decode(&st); err != nil {
		return err
	}
	s.states.Clear()
	s.time = st.Time
	s.current = -1
	slots := make([]int, len(st.Entries))
	for n, e := range st.Entries {
		held := e.Held
		slots[n] = s.states.Insert(e.Key, e.Hash, &held)
	}
	s.dirty = s.dirty[:0]
	for _, n := range st.Dirty {
		s.touch(slots[n])
	}
	return nil
}
