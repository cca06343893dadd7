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

// Package startedge implements the snapshot window over an append-only stream. Every row opens an
// interval that is never closed, so aggregates only ever accumulate and a key, once seen, is held
// until the stage is disposed.
package startedge

import (
	"fmt"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
)

// Windower is the StartEdge window.
type Windower[K, V, S, R any] struct {
	snapshot *window.Snapshot[K, V, S, R]
}

var _ window.Windower[string, int, int] = (*Windower[string, int, int, int])(nil)

// New returns an empty StartEdge window.
func New[K, V, S, R any](agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) *Windower[K, V, S, R] {
	return &Windower[K, V, S, R]{snapshot: window.NewSnapshot[K, V, S, R](agg, comparer)}
}

func (w *Windower[K, V, S, R]) Reach(t int64, out operator.Output[K, R]) error {
	return w.snapshot.Advance(t, out)
}

func (w *Windower[K, V, S, R]) Insert(row batch.Row[K, V], _ operator.Output[K, R]) error {
	if row.OtherTime != temporal.InfinitySyncTime {
		return operator.InvariantErr{
			Stage:   window.StartEdge.String(),
			Message: fmt.Sprintf("append-only window received a %s row %d-%d", row.Kind(), row.SyncTime, row.OtherTime),
		}
	}
	w.snapshot.Accumulate(row.Key, row.Hash, row.Payload)
	return nil
}

func (w *Windower[K, V, S, R]) Empty() bool {
	return w.snapshot.Len() == 0
}

func (w *Windower[K, V, S, R]) Held() int {
	return w.snapshot.Len()
}

func (w *Windower[K, V, S, R]) Dispose() error {
	return w.snapshot.Dispose()
}

func (w *Windower[K, V, S, R]) Checkpoint(enc checkpoint.Encoder) error {
	return w.snapshot.Checkpoint(enc)
}

func (w *Windower[K, V, S, R]) Restore(dec checkpoint.Decoder) error {
	return w.snapshot.Restore(dec)
}
