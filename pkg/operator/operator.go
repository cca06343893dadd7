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

// Package operator defines the push contract between stages and the helpers every stage is built
// on: the latched error state, and the Emitter that fills output batches and enforces the ordering
// guarantees of the stream.
//
// Stages are driven by a single goroutine. A stage's OnNext runs to completion before the caller
// proceeds, and a stage never calls back into its caller.
package operator

import (
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
)

// Observer receives batches from an upstream stage.
type Observer[K, V any] interface {
	// OnNext consumes b. The observer takes ownership of the batch and must free it or pass it on.
	OnNext(b *batch.Batch[K, V]) error
	// OnCompleted signals the end of the stream. It behaves like a punctuation at InfinitySyncTime
	// followed by Flush, and is propagated downstream.
	OnCompleted() error
	// Flush hands any partially filled output batch downstream and propagates the flush.
	Flush() error
}

// Stage is an Observer with held state.
type Stage[K, V any] interface {
	Observer[K, V]
	checkpoint.Checkpointer
	// Dispose releases owned batches and held state without flushing. It is idempotent.
	Dispose() error
}

// BinaryStage consumes two inputs carrying the same key and payload types.
type BinaryStage[K, V any] interface {
	checkpoint.Checkpointer
	// Left returns the observer of the left input.
	Left() Observer[K, V]
	// Right returns the observer of the right input.
	Right() Observer[K, V]
	ProcessLeftBatch(b *batch.Batch[K, V]) error
	ProcessRightBatch(b *batch.Batch[K, V]) error
	// ProcessBothBatches is used by a scheduler that has input ready on both sides.
	ProcessBothBatches(left, right *batch.Batch[K, V]) error
	Dispose() error
}

// Output receives the data rows produced by a stage's state machine.
type Output[K, V any] interface {
	Emit(row batch.Row[K, V]) error
}

// OutputFunc adapts a function to Output.
type OutputFunc[K, V any] func(row batch.Row[K, V]) error

func (f OutputFunc[K, V]) Emit(row batch.Row[K, V]) error {
	return f(row)
}
