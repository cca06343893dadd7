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

import "github.com/numaproj/chronoflow/pkg/temporal"

// Pool hands out batches whose columns come from per element type pools of one capacity. A pool may
// be shared by independent pipelines running on different goroutines.
type Pool[K, V any] struct {
	capacity int
	times    *ColumnPool[int64]
	hashes   *ColumnPool[int32]
	keys     *ColumnPool[K]
	payloads *ColumnPool[V]
	bitmaps  *BitmapPool
}

// NewPool returns a pool of batches holding capacity rows.
func NewPool[K, V any](capacity int) *Pool[K, V] {
	if capacity <= 0 {
		panic("batch: capacity must be positive")
	}
	return &Pool[K, V]{
		capacity: capacity,
		times:    NewColumnPool[int64](capacity),
		hashes:   NewColumnPool[int32](capacity),
		keys:     NewColumnPool[K](capacity),
		payloads: NewColumnPool[V](capacity),
		bitmaps:  NewBitmapPool(capacity),
	}
}

// Capacity returns the number of rows per batch.
func (p *Pool[K, V]) Capacity() int {
	return p.capacity
}

// Get returns an empty, writable batch.
func (p *Pool[K, V]) Get() *Batch[K, V] {
	return &Batch[K, V]{
		SyncTime:  p.times.Get(),
		OtherTime: p.times.Get(),
		Key:       p.keys.Get(),
		Payload:   p.payloads.Get(),
		Hash:      p.hashes.Get(),
		Valid:     p.bitmaps.Get(),
	}
}

// Outstanding returns the number of columns and bitmaps handed out by this pool and not yet
// returned. A drained pipeline that disposed all of its stages reports zero.
func (p *Pool[K, V]) Outstanding() int64 {
	return p.times.Outstanding() + p.hashes.Outstanding() + p.keys.Outstanding() +
		p.payloads.Outstanding() + p.bitmaps.Outstanding()
}

// Rekey returns a batch for dst that shares src's time, payload and validity columns by reference
// and owns fresh key and hash columns. Every row of the result must have its key set with SetKey.
func Rekey[K, V, K2 any](src *Batch[K, V], dst *Pool[K2, V]) *Batch[K2, V] {
	src.SyncTime.IncrementRefCount(1)
	src.OtherTime.IncrementRefCount(1)
	src.Payload.IncrementRefCount(1)
	src.Valid.IncrementRefCount(1)
	return &Batch[K2, V]{
		SyncTime:  src.SyncTime,
		OtherTime: src.OtherTime,
		Key:       dst.keys.GetSized(src.Capacity()),
		Payload:   src.Payload,
		Hash:      dst.hashes.GetSized(src.Capacity()),
		Valid:     src.Valid,
		Count:     src.Count,
		sealed:    true,
	}
}

// Derive returns a batch for dst that shares src's time and validity columns by reference and owns
// fresh key, payload and hash columns.
func Derive[K, V, K2, V2 any](src *Batch[K, V], dst *Pool[K2, V2]) *Batch[K2, V2] {
	src.SyncTime.IncrementRefCount(1)
	src.OtherTime.IncrementRefCount(1)
	src.Valid.IncrementRefCount(1)
	return &Batch[K2, V2]{
		SyncTime:  src.SyncTime,
		OtherTime: src.OtherTime,
		Key:       dst.keys.GetSized(src.Capacity()),
		Payload:   dst.payloads.GetSized(src.Capacity()),
		Hash:      dst.hashes.GetSized(src.Capacity()),
		Valid:     src.Valid,
		Count:     src.Count,
		sealed:    true,
	}
}

// FromRows writes rows into sealed batches taken from pool, starting a new batch whenever one is full.
// Rows whose otherTime is a progress sentinel become punctuation or low watermark rows.
func FromRows[K, V any](pool *Pool[K, V], rows []Row[K, V]) []*Batch[K, V] {
	var out []*Batch[K, V]
	var cur *Batch[K, V]
	for _, r := range rows {
		if cur == nil || cur.IsFull() {
			if cur != nil {
				cur.Seal()
				out = append(out, cur)
			}
			cur = pool.Get()
		}
		switch r.OtherTime {
		case temporal.PunctuationOtherTime:
			cur.AddKeyedPunctuation(r.SyncTime, r.Key, r.Hash)
		case temporal.LowWatermarkOtherTime:
			cur.AddLowWatermark(r.SyncTime)
		default:
			cur.AddRow(r)
		}
	}
	if cur != nil {
		cur.Seal()
		out = append(out, cur)
	}
	return out
}
