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

package batch

import (
	"sync"

	"go.uber.org/atomic"
)

// Column is one reference counted, pooled array of a batch. Several batches may hold the same
// column; a holder that wants to write to a shared column must call Writable first.
type Column[T any] struct {
	Data []T
	refs *atomic.Int32
	pool *ColumnPool[T]
}

// IncrementRefCount adds n references to the column.
func (c *Column[T]) IncrementRefCount(n int32) {
	c.refs.Add(n)
}

// RefCount returns the number of holders of the column.
func (c *Column[T]) RefCount() int32 {
	return c.refs.Load()
}

// IsShared reports whether more than one holder references the column.
func (c *Column[T]) IsShared() bool {
	return c.refs.Load() > 1
}

// Return drops one reference. The last reference hands the column back to its pool.
func (c *Column[T]) Return() {
	if c == nil {
		return
	}
	n := c.refs.Dec()
	if n > 0 {
		return
	}
	if n < 0 {
		panic("batch: column returned more times than it was referenced")
	}
	if c.pool != nil {
		c.pool.put(c)
	}
}

// Writable returns a column that is exclusively owned by the caller and holds the same data.
// If the column is shared, the caller's reference is moved to a fresh copy.
func (c *Column[T]) Writable() *Column[T] {
	if !c.IsShared() {
		return c
	}
	var cp *Column[T]
	if c.pool != nil {
		cp = c.pool.Get()
	} else {
		cp = newColumn[T](len(c.Data), nil)
	}
	copy(cp.Data, c.Data)
	c.Return()
	return cp
}

func newColumn[T any](capacity int, pool *ColumnPool[T]) *Column[T] {
	return &Column[T]{
		Data: make([]T, capacity),
		refs: atomic.NewInt32(1),
		pool: pool,
	}
}

// ColumnPool recycles columns of a single element type and capacity. It is safe for concurrent use
// by independent pipelines.
type ColumnPool[T any] struct {
	capacity int
	pool     sync.Pool
	gets     *atomic.Int64
	puts     *atomic.Int64
}

// NewColumnPool returns a pool of columns holding capacity elements each.
func NewColumnPool[T any](capacity int) *ColumnPool[T] {
	p := &ColumnPool[T]{
		capacity: capacity,
		gets:     atomic.NewInt64(0),
		puts:     atomic.NewInt64(0),
	}
	p.pool.New = func() any {
		return newColumn[T](capacity, p)
	}
	return p
}

// Capacity returns the number of elements of the pooled columns.
func (p *ColumnPool[T]) Capacity() int {
	return p.capacity
}

// Get returns an exclusively owned column.
func (p *ColumnPool[T]) Get() *Column[T] {
	c := p.pool.Get().(*Column[T])
	c.refs.Store(1)
	p.gets.Inc()
	return c
}

// GetSized returns a column of the given capacity. Only the standard capacity is pooled, other sizes
// are allocated directly and dropped on return.
func (p *ColumnPool[T]) GetSized(capacity int) *Column[T] {
	if capacity == p.capacity {
		return p.Get()
	}
	return newColumn[T](capacity, nil)
}

// Outstanding returns the number of pooled columns handed out and not yet returned.
func (p *ColumnPool[T]) Outstanding() int64 {
	return p.gets.Load() - p.puts.Load()
}

func (p *ColumnPool[T]) put(c *Column[T]) {
	// drop references held by the elements so the pool does not pin them
	clear(c.Data)
	p.puts.Inc()
	p.pool.Put(c)
}
