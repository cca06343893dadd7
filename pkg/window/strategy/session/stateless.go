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

package session

import (
	"context"
	"fmt"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

// ref locates an event inside a held batch.
type ref struct {
	Seq   int64 `json:"seq"`
	Index int   `json:"index"`
}

type heldBatch[K, V any] struct {
	b          *batch.Batch[K, V]
	unresolved int
	writable   bool
}

// Stateless is the session window that writes its output into the input batches. It holds every
// input batch until all the events in it have had their session closed, then sets each event's other
// time to its session's threshold and hands the batch on. Every event thus leaves as one interval
// rather than as a start edge and an end edge.
type Stateless[K, V any] struct {
	operator.Base
	sessions sessions[K, ref]
	pool     *batch.Pool[K, V]
	emitter  *operator.Emitter[K, V]
	held     []*heldBatch[K, V]
	// base is the sequence number of held[0]
	base int64
	now  int64
}

var _ operator.Stage[string, int] = (*Stateless[string, int])(nil)

// NewStateless returns a stateless session stage. pool is used when restoring held batches.
func NewStateless[K, V any](ctx context.Context, spec window.SessionSpec, comparer keys.Comparer[K], pool *batch.Pool[K, V], downstream operator.Observer[K, V], opts ...operator.Option) *Stateless[K, V] {
	s := &Stateless[K, V]{
		Base:     operator.NewBase(ctx, "stateless-session", opts...),
		sessions: newSessions[K, ref](spec, comparer),
		pool:     pool,
		now:      temporal.MinSyncTime,
	}
	s.emitter = operator.NewEmitter(&s.Base, pool, downstream)
	return s
}

// at returns the held batch holding r, or an InvariantErr if r points outside the held batches.
func (s *Stateless[K, V]) at(r ref) (*heldBatch[K, V], error) {
	n := r.Seq - s.base
	if n < 0 || n >= int64(len(s.held)) || r.Index < 0 || r.Index >= s.held[n].b.Count {
		return nil, s.Invariant(fmt.Sprintf("session event (%d, %d) is outside the held batches [%d, %d)", r.Seq, r.Index, s.base, s.base+int64(len(s.held))))
	}
	return s.held[n], nil
}

func (s *Stateless[K, V]) reach(t int64) error {
	if t <= s.now {
		return nil
	}
	s.now = t
	return s.sessions.expire(t, func(sess *Session[K, ref]) error {
		for _, r := range sess.Events {
			hb, err := s.at(r)
			if err != nil {
				return err
			}
			if !hb.writable {
				hb.b.OtherTime = hb.b.OtherTime.Writable()
				hb.writable = true
			}
			hb.b.OtherTime.Data[r.Index] = sess.Threshold
			hb.unresolved--
		}
		return nil
	})
}

// release forwards the held batches at the front whose events are all resolved.
func (s *Stateless[K, V]) release() error {
	for len(s.held) > 0 && s.held[0].unresolved == 0 {
		hb := s.held[0]
		s.held[0] = nil
		s.held = s.held[1:]
		s.base++
		if err := s.emitter.Forward(hb.b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stateless[K, V]) OnNext(b *batch.Batch[K, V]) error {
	if err := s.Err(); err != nil {
		b.Free()
		return err
	}
	seq := s.base + int64(len(s.held))
	hb := &heldBatch[K, V]{b: b}
	s.held = append(s.held, hb)
	for i := 0; i < b.Count; i++ {
		kind, ok := b.Kind(i)
		if !ok {
			continue
		}
		t := b.SyncTime.Data[i]
		switch kind {
		case temporal.Punctuation, temporal.LowWatermark:
			if err := s.reach(t); err != nil {
				return s.Fail(err)
			}
		case temporal.StartEdge:
			s.RowsIn.Inc()
			if t < s.now {
				return s.Fail(s.OutOfOrder(t, s.now, "input row is below the time already reached"))
			}
			if err := s.reach(t); err != nil {
				return s.Fail(err)
			}
			sess, _ := s.sessions.extend(b.Key.Data[i], b.Hash.Data[i], t)
			sess.Events = append(sess.Events, ref{Seq: seq, Index: i})
			hb.unresolved++
		default:
			s.RowsIn.Inc()
		}
	}
	return s.Fail(s.release())
}

func (s *Stateless[K, V]) OnCompleted() error {
	if err := s.Err(); err != nil {
		return err
	}
	if err := s.reach(temporal.InfinitySyncTime); err != nil {
		return s.Fail(err)
	}
	if err := s.release(); err != nil {
		return s.Fail(err)
	}
	if err := s.emitter.EmitPunctuation(temporal.InfinitySyncTime); err != nil {
		return s.Fail(err)
	}
	return s.Fail(s.emitter.Complete())
}

func (s *Stateless[K, V]) Flush() error {
	if err := s.Err(); err != nil {
		return err
	}
	return s.Fail(s.emitter.Flush())
}

// Held returns the number of batches waiting for their sessions to close.
func (s *Stateless[K, V]) Held() int {
	return len(s.held)
}

func (s *Stateless[K, V]) Dispose() error {
	if !s.MarkDisposed() {
		return nil
	}
	for _, hb := range s.held {
		hb.b.Free()
	}
	s.held = nil
	s.sessions.clear()
	s.emitter.Dispose()
	return nil
}

type statelessState[K, V any] struct {
	Now      int64               `json:"now"`
	Base     int64               `json:"base"`
	Batches  [][]batch.Row[K, V] `json:"batches"`
	Sessions []*Session[K, ref]  `json:"sessions"`
}

// Checkpoint writes the held batches compacted to their data and progress rows.
func (s *Stateless[K, V]) Checkpoint(enc checkpoint.Encoder) error {
	if err := s.Err(); err != nil {
		return err
	}
	st := statelessState[K, V]{Now: s.now, Base: s.base}
	moved := make([]map[int]int, len(s.held))
	for n, hb := range s.held {
		moved[n] = make(map[int]int, hb.b.Count)
		rows := make([]batch.Row[K, V], 0, hb.b.Count)
		for i := 0; i < hb.b.Count; i++ {
			if _, ok := hb.b.Kind(i); ok {
				moved[n][i] = len(rows)
				rows = append(rows, hb.b.Row(i))
			}
		}
		st.Batches = append(st.Batches, rows)
	}
	for _, sess := range s.sessions.ordered() {
		cp := *sess
		cp.Events = make([]ref, len(sess.Events))
		for j, r := range sess.Events {
			cp.Events[j] = ref{Seq: r.Seq, Index: moved[r.Seq-s.base][r.Index]}
		}
		st.Sessions = append(st.Sessions, &cp)
	}
	if err := enc.Encode(st); err != nil {
		return err
	}
	return s.emitter.Checkpoint(enc)
}

func (s *Stateless[K, V]) Restore(dec checkpoint.Decoder) error {
	var st statelessState[K, V]
	if err := dec.Decode(&st); err != nil {
		return err
	}
	if err := s.emitter.Restore(dec); err != nil {
		return err
	}
	for _, hb := range s.held {
		hb.b.Free()
	}
	s.held = s.held[:0]
	for _, rows := range st.Batches {
		if len(rows) > s.pool.Capacity() {
			return s.Invariant(fmt.Sprintf("held batch of %d rows exceeds the batch capacity %d", len(rows), s.pool.Capacity()))
		}
		var b *batch.Batch[K, V]
		if bs := batch.FromRows(s.pool, rows); len(bs) == 1 {
			b = bs[0]
		} else {
			b = s.pool.Get()
			b.Seal()
		}
		s.held = append(s.held, &heldBatch[K, V]{b: b})
	}
	s.base = st.Base
	for _, sess := range st.Sessions {
		for _, r := range sess.Events {
			hb, err := s.at(r)
			if err != nil {
				return err
			}
			hb.unresolved++
		}
	}
	s.sessions.restore(st.Sessions)
	s.now = st.Now
	return nil
}
