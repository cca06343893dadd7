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

// Package slotmap implements a keyed arena: values live in a growable slice of slots, removed slots
// are recycled through a free list and a hash index maps keys to slot indices. Callers may hold a
// slot index and revisit it later; the index stays valid until the slot is removed. Live slots are
// also linked in insertion order, so iteration does not depend on which free slots got reused.
package slotmap

import (
	"github.com/numaproj/chronoflow/pkg/shared/keys"
)

type slot[K, T any] struct {
	key   K
	hash  int32
	value T
	used  bool
	prev  int
	next  int
}

// Map is an arena of keyed slots. It is not safe for concurrent use.
type Map[K, T any] struct {
	comparer keys.Comparer[K]
	slots    []slot[K, T]
	free     []int
	index    map[int32][]int
	count    int
	head     int
	tail     int
}

// New returns an empty Map using comparer for key equality.
func New[K, T any](comparer keys.Comparer[K]) *Map[K, T] {
	return &Map[K, T]{
		comparer: comparer,
		index:    make(map[int32][]int),
		head:     -1,
		tail:     -1,
	}
}

// Comparer returns the key capability of the map.
func (m *Map[K, T]) Comparer() keys.Comparer[K] {
	return m.comparer
}

// Len returns the number of live slots.
func (m *Map[K, T]) Len() int {
	return m.count
}

// Lookup returns the index of the slot holding key.
func (m *Map[K, T]) Lookup(key K, hash int32) (int, bool) {
	for _, i := range m.index[hash] {
		if m.comparer.Equals(m.slots[i].key, key) {
			return i, true
		}
	}
	return -1, false
}

// Insert stores a new slot for key and returns its index. The key must not be present.
func (m *Map[K, T]) Insert(key K, hash int32, value T) int {
	var i int
	if n := len(m.free); n > 0 {
		i = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		i = len(m.slots)
		m.slots = append(m.slots, slot[K, T]{})
	}
	m.slots[i] = slot[K, T]{key: key, hash: hash, value: value, used: true, prev: m.tail, next: -1}
	if m.tail >= 0 {
		m.slots[m.tail].next = i
	} else {
		m.head = i
	}
	m.tail = i
	m.index[hash] = append(m.index[hash], i)
	m.count++
	return i
}

// GetOrInsert returns the index of key, inserting a slot built by create when the key is absent.
func (m *Map[K, T]) GetOrInsert(key K, hash int32, create func() T) (int, bool) {
	if i, ok := m.Lookup(key, hash); ok {
		return i, false
	}
	return m.Insert(key, hash, create()), true
}

// Value returns the value of slot i.
func (m *Map[K, T]) Value(i int) T {
	return m.slots[i].value
}

// Set replaces the value of slot i.
func (m *Map[K, T]) Set(i int, value T) {
	m.slots[i].value = value
}

// Key returns the key of slot i.
func (m *Map[K, T]) Key(i int) K {
	return m.slots[i].key
}

// Hash returns the hash of slot i.
func (m *Map[K, T]) Hash(i int) int32 {
	return m.slots[i].hash
}

// Live reports whether slot i holds a value.
func (m *Map[K, T]) Live(i int) bool {
	return i >= 0 && i < len(m.slots) && m.slots[i].used
}

// Remove frees slot i. Removing a free slot is a no-op.
func (m *Map[K, T]) Remove(i int) {
	if !m.Live(i) {
		return
	}
	s := &m.slots[i]
	bucket := m.index[s.hash]
	for j, idx := range bucket {
		if idx == i {
			bucket = append(bucket[:j], bucket[j+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(m.index, s.hash)
	} else {
		m.index[s.hash] = bucket
	}
	if s.prev >= 0 {
		m.slots[s.prev].next = s.next
	} else {
		m.head = s.next
	}
	if s.next >= 0 {
		m.slots[s.next].prev = s.prev
	} else {
		m.tail = s.prev
	}
	*s = slot[K, T]{}
	m.free = append(m.free, i)
	m.count--
}

// Iterate calls fn for every live slot in insertion order until fn returns false. fn may remove the
// slot it is called for.
func (m *Map[K, T]) Iterate(fn func(i int, key K, value T) bool) {
	for i := m.head; i >= 0; {
		next := m.slots[i].next
		if !fn(i, m.slots[i].key, m.slots[i].value) {
			return
		}
		i = next
	}
}

// Clear removes every slot.
func (m *Map[K, T]) Clear() {
	m.slots = nil
	m.free = nil
	m.index = make(map[int32][]int)
	m.count = 0
	m.head, m.tail = -1, -1
}
