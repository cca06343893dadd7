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

// Package session implements session windows. A session of a key groups events that arrive within
// the timeout of each other, and is closed either timeout after its last event or at its hard cap,
// the end of the maximum duration epoch following its first event, whichever comes first.
//
// Events are emitted as open start edges when they arrive. When the session closes, every event in
// it gets an end edge at the session's threshold. Keys are kept in a list ordered by threshold, so
// the sessions to close next are always at its front.
package session

import (
	"container/list"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/shared/slotmap"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

// Session is the open session of one key, holding one E per event.
type Session[K, E any] struct {
	Key       K     `json:"key"`
	Hash      int32 `json:"hash"`
	Events    []E   `json:"events"`
	Last      int64 `json:"last"`
	HardCap   int64 `json:"hardCap"`
	Threshold int64 `json:"threshold"`

	elem *list.Element
}

// sessions keeps the open sessions ordered by threshold.
type sessions[K, E any] struct {
	spec  window.SessionSpec
	open  *slotmap.Map[K, *Session[K, E]]
	order *list.List
}

func newSessions[K, E any](spec window.SessionSpec, comparer keys.Comparer[K]) sessions[K, E] {
	return sessions[K, E]{
		spec:  spec,
		open:  slotmap.New[K, *Session[K, E]](comparer),
		order: list.New(),
	}
}

// extend adds an event at t to the session of key, opening it if needed.
func (s *sessions[K, E]) extend(key K, hash int32, t int64) (*Session[K, E], bool) {
	i, created := s.open.GetOrInsert(key, hash, func() *Session[K, E] {
		return &Session[K, E]{Key: key, Hash: hash, HardCap: s.spec.HardCap(t)}
	})
	sess := s.open.Value(i)
	sess.Last = t
	sess.Threshold = s.spec.Threshold(t, sess.HardCap)
	s.relink(sess)
	return sess, created
}

// relink moves sess to its place in the threshold order, walking from the tail where extended
// sessions usually belong.
func (s *sessions[K, E]) relink(sess *Session[K, E]) {
	if sess.elem != nil {
		s.order.Remove(sess.elem)
	}
	for e := s.order.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Session[K, E]).Threshold <= sess.Threshold {
			sess.elem = s.order.InsertAfter(sess, e)
			return
		}
	}
	sess.elem = s.order.PushFront(sess)
}

// expire removes and returns, in threshold order, the sessions whose threshold is at or before t.
func (s *sessions[K, E]) expire(t int64, fn func(sess *Session[K, E]) error) error {
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		sess := e.Value.(*Session[K, E])
		if sess.Threshold > t {
			return nil
		}
		s.order.Remove(e)
		sess.elem = nil
		if i, ok := s.open.Lookup(sess.Key, sess.Hash); ok {
			s.open.Remove(i)
		}
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *sessions[K, E]) len() int {
	return s.open.Len()
}

func (s *sessions[K, E]) clear() {
	s.open.Clear()
	s.order.Init()
}

// ordered returns the open sessions in threshold order.
func (s *sessions[K, E]) ordered() []*Session[K, E] {
	out := make([]*Session[K, E], 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Session[K, E]))
	}
	return out
}

// restore replaces the open sessions with saved, given in threshold order.
func (s *sessions[K, E]) restore(saved []*Session[K, E]) {
	s.clear()
	for _, sess := range saved {
		s.open.Insert(sess.Key, sess.Hash, sess)
		sess.elem = s.order.PushBack(sess)
	}
}

// Windower is the session window of a plain stream or of one partition.
type Windower[K, V any] struct {
	sessions sessions[K, batch.Row[K, V]]
}

var _ window.Windower[string, int, int] = (*Windower[string, int])(nil)

// New returns a session window. spec must be valid.
func New[K, V any](spec window.SessionSpec, comparer keys.Comparer[K]) *Windower[K, V] {
	return &Windower[K, V]{sessions: newSessions[K, batch.Row[K, V]](spec, comparer)}
}

func (w *Windower[K, V]) Reach(t int64, out operator.Output[K, V]) error {
	return w.sessions.expire(t, func(sess *Session[K, batch.Row[K, V]]) error {
		for _, ev := range sess.Events {
			if err := out.Emit(batch.Row[K, V]{
				SyncTime:  sess.Threshold,
				OtherTime: ev.SyncTime,
				Key:       ev.Key,
				Payload:   ev.Payload,
				Hash:      ev.Hash,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Windower[K, V]) Insert(row batch.Row[K, V], out operator.Output[K, V]) error {
	if row.Kind() != temporal.StartEdge {
		return nil
	}
	sess, _ := w.sessions.extend(row.Key, row.Hash, row.SyncTime)
	ev := batch.Row[K, V]{SyncTime: row.SyncTime, OtherTime: temporal.InfinitySyncTime, Key: row.Key, Payload: row.Payload, Hash: row.Hash}
	sess.Events = append(sess.Events, ev)
	return out.Emit(ev)
}

func (w *Windower[K, V]) Empty() bool {
	return w.sessions.len() == 0
}

func (w *Windower[K, V]) Held() int {
	return w.sessions.len()
}

func (w *Windower[K, V]) Dispose() error {
	w.sessions.clear()
	return nil
}

func (w *Windower[K, V]) Checkpoint(enc checkpoint.Encoder) error {
	return enc.Encode(w.sessions.ordered())
}

func (w *Windower[K, V]) Restore(dec checkpoint.Decoder) error {
	var saved []*Session[K, batch.Row[K, V]]
	if err := dec.Decode(&saved); err != nil {
		return err
	}
	w.sessions.restore(saved)
	return nil
}
