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

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/atomic"
)

// Bitmap is the reference counted validity vector of a batch, one bit per row packed in 64 bit
// words. A set bit marks a visible data row.
type Bitmap struct {
	bits *bitset.BitSet
	refs *atomic.Int32
	pool *BitmapPool
}

// Test reports whether row i is visible.
func (b *Bitmap) Test(i int) bool {
	return b.bits.Test(uint(i))
}

// Set marks row i visible.
func (b *Bitmap) Set(i int) {
	b.bits.Set(uint(i))
}

// Clear marks row i absent.
func (b *Bitmap) Clear(i int) {
	b.bits.Clear(uint(i))
}

// Count returns the number of visible rows.
func (b *Bitmap) Count() int {
	return int(b.bits.Count())
}

// IncrementRefCount adds n references to the bitmap.
func (b *Bitmap) IncrementRefCount(n int32) {
	b.refs.Add(n)
}

// IsShared reports whether more than one holder references the bitmap.
func (b *Bitmap) IsShared() bool {
	return b.refs.Load() > 1
}

// Return drops one reference and hands the bitmap back to its pool on the last one.
func (b *Bitmap) Return() {
	if b == nil {
		return
	}
	n := b.refs.Dec()
	if n > 0 {
		return
	}
	if n < 0 {
		panic("batch: bitmap returned more times than it was referenced")
	}
	if b.pool != nil {
		b.pool.put(b)
	}
}

// Writable returns an exclusively owned bitmap with the same bits.
func (b *Bitmap) Writable() *Bitmap {
	if !b.IsShared() {
		return b
	}
	var cp *Bitmap
	if b.pool != nil {
		cp = b.pool.Get()
	} else {
		cp = newBitmap(int(b.bits.Len()), nil)
	}
	b.bits.Copy(cp.bits)
	b.Return()
	return cp
}

func newBitmap(capacity int, pool *BitmapPool) *Bitmap {
	return &Bitmap{
		bits: bitset.New(uint(capacity)),
		refs: atomic.NewInt32(1),
		pool: pool,
	}
}

// BitmapPool recycles validity vectors of one capacity.
type BitmapPool struct {
	capacity int
	pool     sync.Pool
	gets     *atomic.Int64
	puts     *atomic.Int64
}

// NewBitmapPool returns a pool of bitmaps able to hold capacity rows.
func NewBitmapPool(capacity int) *BitmapPool {
	p := &BitmapPool{
		capacity: capacity,
		gets:     atomic.NewInt64(0),
		puts:     atomic.NewInt64(0),
	}
	p.pool.New = func() any {
		return newBitmap(capacity, p)
	}
	return p
}

// Get returns a cleared, exclusively owned bitmap.
func (p *BitmapPool) Get() *Bitmap {
	b := p.pool.Get().(*Bitmap)
	b.refs.Store(1)
	p.gets.Inc()
	return b
}

// Outstanding returns the number of bitmaps handed out and not yet returned.
func (p *BitmapPool) Outstanding() int64 {
	return p.gets.Load() - p.puts.Load()
}

func (p *BitmapPool) put(b *Bitmap) {
	b.bits.ClearAll()
	p.puts.Inc()
	p.pool.Put(b)
}
