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
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
)

// Windower is the state machine of one window shape over one stream or one partition of a stream.
// The driver moves time forward with Reach before inserting the rows of a new timestamp, so Insert
// always sees rows at the time last reached.
type Windower[K, V, R any] interface {
	// Reach advances time to t and emits every row that can no longer change before t.
	Reach(t int64, out operator.Output[K, R]) error
	// Insert folds a visible data row into the held state.
	Insert(row batch.Row[K, V], out operator.Output[K, R]) error
	// Empty reports whether nothing is held.
	Empty() bool
	// Held returns the number of keys with held state.
	Held() int
	// Dispose releases held state without emitting it.
	Dispose() error
	checkpoint.Checkpointer
}

// Factory creates a fresh Windower, one per partition on a partitioned stream.
type Factory[K, V, R any] func() Windower[K, V, R]
