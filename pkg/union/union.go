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

// Package union merges two streams of the same type into one stream ordered by sync time.
//
// Each side tracks a bound: the sync time below which it will not deliver any more rows. A row
// may leave the merge once it is not later than the next row, or the bound, of the other side; the
// left side wins ties. Punctuations are combined: the output punctuation is the smaller of the
// latest punctuations of both sides, emitted once both have reported one.
package union

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Side names one input of a union.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

func (s Side) other() Side {
	return 1 - s
}

type input[K, V any] struct {
	queue []*batch.Batch[K, V]
	// bound is the largest sync time received, rows still to come are not earlier
	bound     int64
	cti       int64
	reported  bool
	completed bool
}

func newInput[K, V any]() *input[K, V] {
	return &input[K, V]{bound: temporal.MinSyncTime, cti: temporal.MinSyncTime}
}

// head returns the batch at the front of the queue positioned on its next row, dropping consumed
// batches and skipping filtered rows.
func (in *input[K, V]) head() (*batch.Batch[K, V], bool) {
	for len(in.queue) > 0 {
		b := in.queue[0]
		for ; b.Iter < b.Count; b.Iter++ {
			if _, ok := b.Kind(b.Iter); ok {
				return b, true
			}
		}
		b.Free()
		in.queue[0] = nil
		in.queue = in.queue[1:]
	}
	return nil, false
}

func (in *input[K, V]) pop() *batch.Batch[K, V] {
	b := in.queue[0]
	in.queue[0] = nil
	in.queue = in.queue[1:]
	return b
}

func (in *input[K, V]) free() {
	for _, b := range in.queue {
		b.Free()
	}
	in.queue = nil
}

// Union is the ordered merge of two plain streams.
type Union[K, V any] struct {
	operator.Base
	inputs  [2]*input[K, V]
	pool    *batch.Pool[K, V]
	emitter *operator.Emitter[K, V]
}

var _ operator.BinaryStage[string, int] = (*Union[string, int])(nil)

// New returns a Union writing to downstream. pool is used for rows that are merged one at a time.
func New[K, V any](ctx context.Context, pool *batch.Pool[K, V], downstream operator.Observer[K, V], opts ...operator.Option) *Union[K, V] {
	u := &Union[K, V]{
		Base:   operator.NewBase(ctx, "union", opts...),
		inputs: [2]*input[K, V]{newInput[K, V](), newInput[K, V]()},
		pool:   pool,
	}
	u.emitter = operator.NewEmitter(&u.Base, pool, downstream)
	return u
}

// Left returns the observer of the left input.
func (u *Union[K, V]) Left() operator.Observer[K, V] {
	return &sideObserver[K, V]{u: u, side: Left}
}

// Right returns the observer of the right input.
func (u *Union[K, V]) Right() operator.Observer[K, V] {
	return &sideObserver[K, V]{u: u, side: Right}
}

func (u *Union[K, V]) ProcessLeftBatch(b *batch.Batch[K, V]) error {
	return u.process(Left, b)
}

func (u *Union[K, V]) ProcessRightBatch(b *batch.Batch[K, V]) error {
	return u.process(Right, b)
}

func (u *Union[K, V]) ProcessBothBatches(left, right *batch.Batch[K, V]) error {
	if err := u.Err(); err != nil {
		left.Free()
		right.Free()
		return err
	}
	u.enqueue(Left, left)
	u.enqueue(Right, right)
	return u.Fail(u.merge())
}

func (u *Union[K, V]) process(side Side, b *batch.Batch[K, V]) error {
	if err := u.Err(); err != nil {
		b.Free()
		return err
	}
	u.enqueue(side, b)
	return u.Fail(u.merge())
}

func (u *Union[K, V]) enqueue(side Side, b *batch.Batch[K, V]) {
	in := u.inputs[side]
	if in.completed {
		b.Free()
		return
	}
	for i := b.Iter; i < b.Count; i++ {
		if _, ok := b.Kind(i); ok {
			u.RowsIn.Inc()
			in.bound = max(in.bound, b.SyncTime.Data[i])
		}
	}
	in.queue = append(in.queue, b)
}

// limit returns the time up to which side may emit, and whether rows at exactly that time may go.
func (u *Union[K, V]) limit(side Side) (int64, bool) {
	other := u.inputs[side.other()]
	if b, ok := other.head(); ok {
		return b.SyncTime.Data[b.Iter], side == Left
	}
	if other.completed {
		return temporal.InfinitySyncTime, true
	}
	return other.bound, side == Left
}

func allowed(t, limit int64, inclusive bool) bool {
	return t < limit || (inclusive && t == limit)
}

func (u *Union[K, V]) merge() error {
	for {
		progressed := false
		for _, side := range []Side{Left, Right} {
			n, err := u.drain(side)
			if err != nil {
				return err
			}
			progressed = progressed || n
		}
		if !progressed {
			return nil
		}
	}
}

// drain emits the rows of side that may leave the merge and reports whether it emitted any.
func (u *Union[K, V]) drain(side Side) (bool, error) {
	in := u.inputs[side]
	progressed := false
	for {
		b, ok := in.head()
		if !ok {
			return progressed, nil
		}
		limit, inclusive := u.limit(side)
		if b.Iter == 0 && !b.HasProgress() && allowed(b.LastSyncTime(), limit, inclusive) {
			if err := u.emitter.Forward(in.pop()); err != nil {
				return progressed, err
			}
			progressed = true
			continue
		}
		t := b.SyncTime.Data[b.Iter]
		if !allowed(t, limit, inclusive) {
			return progressed, nil
		}
		if b.IsData(b.Iter) {
			if err := u.emitter.Emit(b.Row(b.Iter)); err != nil {
				return progressed, err
			}
		} else if err := u.punctuate(side, t); err != nil {
			return progressed, err
		}
		b.Iter++
		progressed = true
	}
}

// punctuate records a punctuation of side and emits the combined one.
func (u *Union[K, V]) punctuate(side Side, t int64) error {
	in := u.inputs[side]
	in.cti = max(in.cti, t)
	in.reported = true
	l, r := u.inputs[Left], u.inputs[Right]
	if !l.reported || !r.reported {
		return nil
	}
	return u.emitter.EmitPunctuation(min(l.cti, r.cti))
}

func (u *Union[K, V]) complete(side Side) error {
	if err := u.Err(); err != nil {
		return err
	}
	in := u.inputs[side]
	if in.completed {
		return nil
	}
	if err := u.merge(); err != nil {
		return u.Fail(err)
	}
	in.completed = true
	in.bound = temporal.InfinitySyncTime
	if err := u.merge(); err != nil {
		return u.Fail(err)
	}
	if err := u.punctuate(side, temporal.InfinitySyncTime); err != nil {
		return u.Fail(err)
	}
	if !u.inputs[side.other()].completed {
		return nil
	}
	u.Log.Debugw("Both inputs completed")
	return u.Fail(u.emitter.Complete())
}

// Flush hands pending merged rows downstream.
func (u *Union[K, V]) Flush() error {
	if err := u.Err(); err != nil {
		return err
	}
	return u.Fail(u.emitter.Flush())
}

// Queued returns the number of batches waiting on each side.
func (u *Union[K, V]) Queued() (int, int) {
	return len(u.inputs[Left].queue), len(u.inputs[Right].queue)
}

func (u *Union[K, V]) Dispose() error {
	if !u.MarkDisposed() {
		return nil
	}
	for _, in := range u.inputs {
		in.free()
	}
	u.emitter.Dispose()
	return nil
}

type sideState[K, V any] struct {
	Rows      [][]batch.Row[K, V] `json:"rows"`
	Bound     int64               `json:"bound"`
	CTI       int64               `json:"cti"`
	Reported  bool                `json:"reported"`
	Completed bool                `json:"completed"`
}

func (u *Union[K, V]) Checkpoint(enc checkpoint.Encoder) error {
	if err := u.Err(); err != nil {
		return err
	}
	for _, in := range u.inputs {
		st := sideState[K, V]{Bound: in.bound, CTI: in.cti, Reported: in.reported, Completed: in.completed}
		for _, b := range in.queue {
			rows := make([]batch.Row[K, V], 0, b.Count-b.Iter)
			for i := b.Iter; i < b.Count; i++ {
				if _, ok := b.Kind(i); ok {
					rows = append(rows, b.Row(i))
				}
			}
			st.Rows = append(st.Rows, rows)
		}
		if err := enc.Encode(st); err != nil {
			return err
		}
	}
	return u.emitter.Checkpoint(enc)
}

func (u *Union[K, V]) Restore(dec checkpoint.Decoder) error {
	for _, in := range u.inputs {
		var st sideState[K, V]
		if err := dec.Decode(&st); err != nil {
			return err
		}
		in.free()
		for _, rows := range st.Rows {
			in.queue = append(in.queue, batch.FromRows(u.pool, rows)...)
		}
		in.bound, in.cti, in.reported, in.completed = st.Bound, st.CTI, st.Reported, st.Completed
	}
	return u.emitter.Restore(dec)
}

type sideObserver[K, V any] struct {
	u    *Union[K, V]
	side Side
}

func (s *sideObserver[K, V]) OnNext(b *batch.Batch[K, V]) error {
	return s.u.process(s.side, b)
}

func (s *sideObserver[K, V]) OnCompleted() error {
	return s.u.complete(s.side)
}

func (s *sideObserver[K, V]) Flush() error {
	return s.u.Flush()
}
