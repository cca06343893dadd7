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

package window_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
	"github.com/numaproj/chronoflow/pkg/window/snapshot"
	"github.com/numaproj/chronoflow/pkg/window/strategy/session"
	"github.com/numaproj/chronoflow/pkg/window/strategy/tumbling"
	wt "github.com/numaproj/chronoflow/pkg/window/windowtest"
)

const inf = temporal.InfinitySyncTime

func tumblingFactory() window.Windower[string, int, int] {
	return tumbling.New[string, int, int, int](10, aggregate.Sum[int]{}, wt.Keys)
}

func TestPartitionedOperator_LowWatermarkEvictsIdlePartitions(t *testing.T) {
	in, out := batch.NewPool[string, int](8), batch.NewPool[string, int](8)
	sink := operator.NewCollector[string, int]()
	spec := window.Spec{Size: 10, Hop: 10}
	op := window.NewPartitionedOperator[string, int, int, string](context.Background(), "tumbling", tumblingFactory, window.KeyPartitioner[string](wt.Keys), spec.ProgressTime, out, sink)

	require.NoError(t, wt.Feed[int](op, in,
		wt.Point(1, "A", 1),
		// partitions are ordered independently
		wt.Point(12, "B", 1),
		wt.Point(3, "A", 1),
	))
	assert.Equal(t, 2, op.Partitions())
	require.NoError(t, wt.Feed[int](op, in, wt.LowWatermark[int](15)))
	assert.Equal(t, 1, op.Partitions())
	require.NoError(t, wt.Feed[int](op, in, wt.Point(16, "A", 5)))
	require.NoError(t, op.OnCompleted())

	assert.Equal(t, []batch.Row[string, int]{
		wt.Interval(0, 10, "A", 2),
		wt.LowWatermark[int](10),
		wt.Interval(10, 20, "B", 1),
		wt.Interval(10, 20, "A", 5),
		wt.LowWatermark[int](inf),
	}, sink.Rows)
	assert.Zero(t, op.Partitions())
	require.NoError(t, op.Dispose())
	assert.Zero(t, in.Outstanding())
	assert.Zero(t, out.Outstanding())
}

func TestPartitionedOperator_RejectsRowsBelowLowWatermark(t *testing.T) {
	in, out := batch.NewPool[string, int](8), batch.NewPool[string, int](8)
	spec := window.Spec{Size: 10, Hop: 10}
	op := window.NewPartitionedOperator[string, int, int, string](context.Background(), "tumbling", tumblingFactory, window.KeyPartitioner[string](wt.Keys), spec.ProgressTime, out, operator.NewCollector[string, int]())
	err := wt.Feed[int](op, in, wt.LowWatermark[int](20), wt.Point(12, "A", 1))
	require.Error(t, err)
	assert.True(t, operator.IsOutOfOrder(err))
	require.NoError(t, op.Dispose())
	assert.Zero(t, in.Outstanding())
}

func TestPartitionedOperator_KeyedPunctuationReachesItsPartition(t *testing.T) {
	pool := batch.NewPool[string, int](8)
	sink := operator.NewCollector[string, int]()
	op, err := session.NewPartitionedOperator[string, int, string](context.Background(), window.SessionSpec{Timeout: 5}, wt.Keys, window.KeyPartitioner[string](wt.Keys), pool, sink)
	require.NoError(t, err)

	require.NoError(t, wt.Feed[int](op, pool,
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.KeyedPunctuation[int](7, "A"),
		wt.LowWatermark[int](10),
	))
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.End(6, 1, "A", 1),
		wt.KeyedPunctuation[int](7, "A"),
		wt.End(7, 2, "B", 2),
		wt.LowWatermark[int](10),
	}, sink.Rows)
	assert.Zero(t, op.Partitions())
	require.NoError(t, op.Dispose())
	assert.Zero(t, pool.Outstanding())
}

type stage = operator.Stage[string, int]

type build func(t *testing.T, pool *batch.Pool[string, int], sink operator.Observer[string, int]) stage

func snapshotStage(spec window.Spec) build {
	return func(t *testing.T, pool *batch.Pool[string, int], sink operator.Observer[string, int]) stage {
		op, err := snapshot.New[string, int, int, int](context.Background(), spec, aggregate.Sum[int]{}, wt.Keys, pool, sink)
		require.NoError(t, err)
		return op
	}
}

func partitionedStage(spec window.Spec) build {
	return func(t *testing.T, pool *batch.Pool[string, int], sink operator.Observer[string, int]) stage {
		op, err := snapshot.NewPartitioned[string, int, int, int, string](context.Background(), spec, aggregate.Sum[int]{}, wt.Keys, window.KeyPartitioner[string](wt.Keys), pool, sink)
		require.NoError(t, err)
		return op
	}
}

func sessionStage(t *testing.T, pool *batch.Pool[string, int], sink operator.Observer[string, int]) stage {
	op, err := session.NewOperator[string, int](context.Background(), window.SessionSpec{Timeout: 4, MaximumDuration: 10}, wt.Keys, pool, sink)
	require.NoError(t, err)
	return op
}

func run(t *testing.T, b build, parts ...[]batch.Row[string, int]) []batch.Row[string, int] {
	t.Helper()
	var rows []batch.Row[string, int]
	var data []byte
	for n, part := range parts {
		pool := batch.NewPool[string, int](3)
		sink := operator.NewCollector[string, int]()
		st := b(t, pool, sink)
		if data != nil {
			require.NoError(t, checkpoint.Unmarshal(data, st))
		}
		require.NoError(t, wt.Feed[int](st, pool, part...))
		if n == len(parts)-1 {
			require.NoError(t, st.OnCompleted())
		} else {
			require.NoError(t, st.Flush())
			var err error
			data, err = checkpoint.Marshal(st)
			require.NoError(t, err)
		}
		require.NoError(t, st.Dispose())
		assert.Zero(t, pool.Outstanding())
		rows = append(rows, sink.Rows...)
	}
	return rows
}

func TestCheckpoint_RestoredStagesContinueWhereTheyStopped(t *testing.T) {
	first := []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.Point(4, "A", 3),
		wt.Point(4, "C", 4),
		wt.Punctuation[int](5),
	}
	second := []batch.Row[string, int]{
		wt.Point(7, "B", 5),
		wt.Point(11, "A", 6),
		wt.Point(13, "C", 7),
	}
	third := []batch.Row[string, int]{
		wt.Point(20, "B", 8),
		wt.Point(26, "A", 9),
	}
	tests := []struct {
		name  string
		build build
	}{
		{name: "start edge", build: snapshotStage(window.Spec{AppendOnly: true})},
		{name: "priority queue", build: snapshotStage(window.Spec{})},
		{name: "tumbling", build: snapshotStage(window.Spec{Size: 10, Hop: 10})},
		{name: "hopping", build: snapshotStage(window.Spec{Size: 10, Hop: 4})},
		{name: "sliding", build: snapshotStage(window.Spec{Size: 6})},
		{name: "partitioned sliding", build: partitionedStage(window.Spec{Size: 6})},
		{name: "partitioned hopping", build: partitionedStage(window.Spec{Size: 10, Hop: 5})},
		{name: "session", build: sessionStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := append(append(append([]batch.Row[string, int]{}, first...), second...), third...)
			want := run(t, tt.build, all)
			require.NotEmpty(t, want)
			assert.Equal(t, want, run(t, tt.build, first, second, third))
		})
	}
}

func TestSnapshot_InvalidSpec(t *testing.T) {
	pool := batch.NewPool[string, int](8)
	_, err := snapshot.New[string, int, int, int](context.Background(), window.Spec{Size: 5, Hop: 10}, aggregate.Sum[int]{}, wt.Keys, pool, operator.NewCollector[string, int]())
	require.Error(t, err)
	assert.True(t, operator.IsInvariant(err))

	kind, factory, err := snapshot.Factory[string, int, int, int](window.Spec{Size: 10, Hop: 5}, aggregate.Sum[int]{}, wt.Keys)
	require.NoError(t, err)
	assert.Equal(t, window.Hopping, kind)
	assert.True(t, factory().Empty())
}

var errClose = errors.New("close failed")

type leakyState struct {
	value int
}

func (leakyState) Dispose() error {
	return errClose
}

func leakyTumbling() window.Windower[string, int, int] {
	return tumbling.New[string, int, leakyState, int](10, aggregate.Funcs[int, leakyState, int]{
		InitialStateFunc: func() leakyState { return leakyState{} },
		AccumulateFunc:   func(s leakyState, _ int64, v int) leakyState { s.value += v; return s },
		DeaccumulateFunc: func(s leakyState, _ int64, v int) leakyState { s.value -= v; return s },
		DifferenceFunc:   func(l, r leakyState) leakyState { l.value -= r.value; return l },
		ComputeFunc:      func(s leakyState) int { return s.value },
	}, wt.Keys)
}

func TestOperator_StateDisposalFailureTerminatesStage(t *testing.T) {
	tests := []struct {
		name  string
		build func(pool *batch.Pool[string, int], sink operator.Observer[string, int]) operator.Stage[string, int]
		rows  []batch.Row[string, int]
	}{
		{
			name: "plain",
			build: func(pool *batch.Pool[string, int], sink operator.Observer[string, int]) operator.Stage[string, int] {
				spec := window.Spec{Size: 10, Hop: 10}
				return window.NewOperator[string, int, int](context.Background(), "tumbling", leakyTumbling(), spec.ProgressTime, pool, sink, operator.WithPipeline("state-disposal-plain"))
			},
			rows: []batch.Row[string, int]{wt.Point(1, "A", 1), wt.Point(12, "A", 1)},
		},
		{
			name: "partitioned",
			build: func(pool *batch.Pool[string, int], sink operator.Observer[string, int]) operator.Stage[string, int] {
				spec := window.Spec{Size: 10, Hop: 10}
				return window.NewPartitionedOperator[string, int, int, string](context.Background(), "tumbling", leakyTumbling, window.KeyPartitioner[string](wt.Keys), spec.ProgressTime, pool, sink, operator.WithPipeline("state-disposal-partitioned"))
			},
			rows: []batch.Row[string, int]{wt.Point(1, "A", 1), wt.LowWatermark[int](15)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := batch.NewPool[string, int](8), batch.NewPool[string, int](8)
			op := tt.build(out, operator.NewCollector[string, int]())

			err := wt.Feed[int](op, in, tt.rows...)
			require.Error(t, err)
			assert.ErrorIs(t, err, errClose)
			assert.True(t, aggregate.IsDisposeError(err))
			// the error is latched
			assert.ErrorIs(t, op.OnCompleted(), errClose)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FatalErrors.WithLabelValues("state-disposal-"+tt.name, "tumbling", metrics.ReasonDispose)))
			assert.Zero(t, testutil.ToFloat64(metrics.FatalErrors.WithLabelValues("state-disposal-"+tt.name, "tumbling", metrics.ReasonDownstream)))

			// the closed window was already disposed
			require.NoError(t, op.Dispose())
			assert.Zero(t, in.Outstanding())
			assert.Zero(t, out.Outstanding())
		})
	}
}
