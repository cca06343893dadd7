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

// Package batch implements the columnar carrier of timestamped events and the pools that recycle
// its columns. A batch is a structure of arrays: parallel syncTime, otherTime, key, payload and
// hash columns plus a packed validity vector. Columns are reference counted so that stages which
// only rewrite some of them can share the rest with their input instead of copying.
package batch

import (
	"fmt"

	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Row is the materialised form of one slot of a batch, used wherever a stage has to buffer rows
// beyond the lifetime of the batch that carried them.
type Row[K, V any] struct {
	SyncTime  int64 `json:"sync"`
	OtherTime int64 `json:"other"`
	Key       K     `json:"key"`
	Payload   V     `json:"payload"`
	Hash      int32 `json:"hash"`
}

// Kind returns the temporal category of the row.
func (r Row[K, V]) Kind() temporal.EventKind {
	return temporal.Classify(r.SyncTime, r.OtherTime)
}

func (r Row[K, V]) String() string {
	return fmt.Sprintf("(%d,%d,%v,%v)", r.SyncTime, r.OtherTime, r.Key, r.Payload)
}

// Batch is a fixed capacity columnar block of rows. A batch is filled by exactly one stage, sealed
// and handed downstream; the receiving stage owns it and must Free it or pass it on.
type Batch[K, V any] struct {
	SyncTime  *Column[int64]
	OtherTime *Column[int64]
	Key       *Column[K]
	Payload   *Column[V]
	Hash      *Column[int32]
	Valid     *Bitmap
	// Count is the number of rows written.
	Count int
	// Iter is a read cursor for stages that consume a batch over several calls.
	Iter int

	sealed bool
}

// Capacity returns the number of rows the batch can hold.
func (b *Batch[K, V]) Capacity() int {
	return len(b.SyncTime.Data)
}

// IsFull reports whether no further row fits.
func (b *Batch[K, V]) IsFull() bool {
	return b.Count == len(b.SyncTime.Data)
}

// Seal freezes the batch for handoff.
func (b *Batch[K, V]) Seal() {
	b.sealed = true
}

// Sealed reports whether the batch was sealed.
func (b *Batch[K, V]) Sealed() bool {
	return b.sealed
}

func (b *Batch[K, V]) next() int {
	if b.sealed {
		panic("batch: write to a sealed batch")
	}
	if b.IsFull() {
		panic("batch: write to a full batch")
	}
	i := b.Count
	b.Count++
	return i
}

// Add appends a visible data row.
func (b *Batch[K, V]) Add(syncTime, otherTime int64, key K, payload V, hash int32) {
	i := b.next()
	b.SyncTime.Data[i] = syncTime
	b.OtherTime.Data[i] = otherTime
	b.Key.Data[i] = key
	b.Payload.Data[i] = payload
	b.Hash.Data[i] = hash
	b.Valid.Set(i)
}

// AddRow appends a visible data row.
func (b *Batch[K, V]) AddRow(r Row[K, V]) {
	b.Add(r.SyncTime, r.OtherTime, r.Key, r.Payload, r.Hash)
}

// AddPunctuation appends a stream-wide punctuation.
func (b *Batch[K, V]) AddPunctuation(t int64) {
	var key K
	b.AddKeyedPunctuation(t, key, 0)
}

// AddKeyedPunctuation appends a punctuation scoped to a key, used on grouped and partitioned streams.
func (b *Batch[K, V]) AddKeyedPunctuation(t int64, key K, hash int32) {
	b.addProgress(t, temporal.PunctuationOtherTime, key, hash)
}

// AddLowWatermark appends a low watermark row.
func (b *Batch[K, V]) AddLowWatermark(t int64) {
	var key K
	b.addProgress(t, temporal.LowWatermarkOtherTime, key, 0)
}

func (b *Batch[K, V]) addProgress(t, other int64, key K, hash int32) {
	i := b.next()
	var payload V
	b.SyncTime.Data[i] = t
	b.OtherTime.Data[i] = other
	b.Key.Data[i] = key
	b.Payload.Data[i] = payload
	b.Hash.Data[i] = hash
	b.Valid.Clear(i)
}

// IsData reports whether row i is a visible data row.
func (b *Batch[K, V]) IsData(i int) bool {
	return b.Valid.Test(i)
}

// Kind classifies row i. Invisible rows that are not progress rows return false.
func (b *Batch[K, V]) Kind(i int) (temporal.EventKind, bool) {
	other := b.OtherTime.Data[i]
	if b.Valid.Test(i) {
		return temporal.Classify(b.SyncTime.Data[i], other), true
	}
	if temporal.IsProgress(other) {
		return temporal.Classify(b.SyncTime.Data[i], other), true
	}
	return temporal.Empty, false
}

// Row materialises row i.
func (b *Batch[K, V]) Row(i int) Row[K, V] {
	return Row[K, V]{
		SyncTime:  b.SyncTime.Data[i],
		OtherTime: b.OtherTime.Data[i],
		Key:       b.Key.Data[i],
		Payload:   b.Payload.Data[i],
		Hash:      b.Hash.Data[i],
	}
}

// SetKey overwrites the key and hash of row i. The key and hash columns must be exclusively owned.
func (b *Batch[K, V]) SetKey(i int, key K, hash int32) {
	b.Key.Data[i] = key
	b.Hash.Data[i] = hash
}

// SetPayload overwrites the payload of row i. The payload column must be exclusively owned.
func (b *Batch[K, V]) SetPayload(i int, payload V) {
	b.Payload.Data[i] = payload
}

// HasProgress reports whether any row of the batch is a punctuation or a low watermark.
func (b *Batch[K, V]) HasProgress() bool {
	for i := 0; i < b.Count; i++ {
		if !b.Valid.Test(i) && temporal.IsProgress(b.OtherTime.Data[i]) {
			return true
		}
	}
	return false
}

// LastSyncTime returns the sync time of the last row, or MinSyncTime for an empty batch.
func (b *Batch[K, V]) LastSyncTime() int64 {
	if b.Count == 0 {
		return temporal.MinSyncTime
	}
	return b.SyncTime.Data[b.Count-1]
}

// Free returns every column reference held by the batch. It is safe to call more than once.
func (b *Batch[K, V]) Free() {
	if b == nil {
		return
	}
	b.SyncTime.Return()
	b.OtherTime.Return()
	b.Key.Return()
	b.Payload.Return()
	b.Hash.Return()
	b.Valid.Return()
	b.SyncTime, b.OtherTime, b.Key, b.Payload, b.Hash, b.Valid = nil, nil, nil, nil, nil, nil
	b.Count, b.Iter = 0, 0
}

// Rows materialises every visible and progress row, mostly useful for tests and sinks.
func (b *Batch[K, V]) Rows() []Row[K, V] {
	rows := make([]Row[K, V], 0, b.Count)
	for i := 0; i < b.Count; i++ {
		if _, ok := b.Kind(i); ok {
			rows = append(rows, b.Row(i))
		}
	}
	return rows
}
