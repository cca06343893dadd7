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

package priority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/window"
	wt "github.com/numaproj/chronoflow/pkg/window/windowtest"
)

func newPriority() (*window.Operator[string, int, int], *Windower[string, int, int, int], *operator.Collector[string, int], *batch.Pool[string, int], *batch.Pool[string, int]) {
	in, out := batch.NewPool[string, int](8), batch.NewPool[string, int](8)
	sink := operator.NewCollector[string, int]()
	w := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	op := window.NewOperator[string, int, int](context.Background(), "priorityqueue", w, window.Identity, out, sink)
	return op, w, sink, in, out
}

func TestPriority_MixedLifetimes(t *testing.T) {
	op, w, sink, in, out := newPriority()
	require.NoError(t, wt.Feed[int](op, in,
		wt.Interval(1, 5, "A", 1),
		wt.Point(2, "B", 10),
		wt.Point(3, "A", 2),
		wt.End(6, 2, "B", 10),
	))
	require.NoError(t, op.OnCompleted())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 10),
		wt.End(3, 1, "A", 1),
		wt.Point(3, "A", 3),
		// [1, 5) expires
		wt.End(5, 3, "A", 3),
		wt.Point(5, "A", 2),
		wt.End(6, 2, "B", 10),
	}, sink.Data())
	// the open start edge of A is never closed
	assert.Equal(t, 1, w.Held())

	require.NoError(t, op.Dispose())
	assert.Zero(t, in.Outstanding())
	assert.Zero(t, out.Outstanding())
}

func TestPriority_IntervalsEndingTogether(t *testing.T) {
	op, _, sink, in, _ := newPriority()
	require.NoError(t, wt.Feed[int](op, in,
		wt.Interval(1, 4, "A", 1),
		wt.Interval(2, 4, "B", 2),
		wt.Interval(3, 4, "A", 3),
		wt.Punctuation[int](10),
	))
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.End(3, 1, "A", 1),
		wt.Point(3, "A", 4),
		wt.End(4, 3, "A", 4),
		wt.End(4, 2, "B", 2),
		wt.Punctuation[int](10),
	}, sink.Rows)
	require.NoError(t, op.Dispose())
}

func TestPriority_EndEdgeWithoutStart(t *testing.T) {
	op, _, _, in, _ := newPriority()
	err := wt.Feed[int](op, in, wt.End(3, 1, "A", 1))
	require.Error(t, err)
	assert.True(t, operator.IsInvariant(err))
	require.NoError(t, op.Dispose())
	assert.Zero(t, in.Outstanding())
}

func TestPriority_CheckpointKeepsQueue(t *testing.T) {
	w := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	var want, got []batch.Row[string, int]
	emit := func(rows *[]batch.Row[string, int]) operator.Output[string, int] {
		return operator.OutputFunc[string, int](func(r batch.Row[string, int]) error {
			*rows = append(*rows, r)
			return nil
		})
	}
	require.NoError(t, w.Reach(1, emit(&want)))
	require.NoError(t, w.Insert(wt.Interval(1, 9, "A", 1), emit(&want)))
	require.NoError(t, w.Insert(wt.Interval(1, 4, "B", 2), emit(&want)))
	require.NoError(t, w.Reach(2, emit(&want)))

	data, err := checkpoint.Marshal(w)
	require.NoError(t, err)
	restored := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	require.NoError(t, checkpoint.Unmarshal(data, restored))

	want = nil
	require.NoError(t, w.Reach(20, emit(&want)))
	require.NoError(t, restored.Reach(20, emit(&got)))
	assert.Equal(t, []batch.Row[string, int]{
		wt.End(4, 1, "B", 2),
		wt.End(9, 1, "A", 1),
	}, got)
	assert.Equal(t, want, got)
	assert.True(t, restored.Empty())
}

func TestPriority_EndEdgeMustMatchOpenStart(t *testing.T) {
	w := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	discard := operator.OutputFunc[string, int](func(batch.Row[string, int]) error { return nil })
	require.NoError(t, w.Insert(wt.Point(1, "A", 1), discard))
	require.NoError(t, w.Insert(wt.Point(1, "A", 2), discard))
	require.NoError(t, w.Insert(wt.Interval(2, 8, "A", 5), discard))

	// A is held, but nothing of A opened at 2 with an open end
	err := w.Insert(wt.End(3, 2, "A", 5), discard)
	require.Error(t, err)
	assert.True(t, operator.IsInvariant(err))

	require.NoError(t, w.Insert(wt.End(3, 1, "A", 1), discard))
	require.NoError(t, w.Insert(wt.End(4, 1, "A", 2), discard))
	err = w.Insert(wt.End(5, 1, "A", 2), discard)
	require.Error(t, err)
	assert.True(t, operator.IsInvariant(err))
	require.NoError(t, w.Dispose())
}

func TestPriority_CheckpointKeepsOpenStarts(t *testing.T) {
	w := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	discard := operator.OutputFunc[string, int](func(batch.Row[string, int]) error { return nil })
	require.NoError(t, w.Insert(wt.Point(1, "A", 1), discard))
	require.NoError(t, w.Insert(wt.Point(1, "A", 2), discard))

	data, err := checkpoint.Marshal(w)
	require.NoError(t, err)
	restored := New[string, int, int, int](aggregate.Sum[int]{}, wt.Keys)
	require.NoError(t, checkpoint.Unmarshal(data, restored))

	require.NoError(t, restored.Insert(wt.End(3, 1, "A", 1), discard))
	require.NoError(t, restored.Insert(wt.End(3, 1, "A", 2), discard))
	assert.True(t, operator.IsInvariant(restored.Insert(wt.End(4, 1, "A", 2), discard)))
	require.NoError(t, restored.Reach(10, discard))
	assert.True(t, restored.Empty())
}
