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

package union

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/temporal"
	"github.com/numaproj/chronoflow/pkg/window"
	wt "github.com/numaproj/chronoflow/pkg/window/windowtest"
)

const inf = temporal.InfinitySyncTime

// recorder keeps the time column of every batch it receives.
type recorder struct {
	*operator.Collector[string, int]
	columns []*batch.Column[int64]
}

func (r *recorder) OnNext(b *batch.Batch[string, int]) error {
	r.columns = append(r.columns, b.SyncTime)
	return r.Collector.OnNext(b)
}

func TestUnion_Merge(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := operator.NewCollector[string, int]()
	u := New[string, int](context.Background(), pool, sink)

	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.Point(1, "A", 1), wt.Point(3, "A", 3), wt.Point(5, "A", 5)))
	assert.Empty(t, sink.Rows)
	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(2, "B", 2), wt.Point(3, "B", 3), wt.Point(4, "B", 4)))
	require.NoError(t, u.Left().OnCompleted())
	assert.False(t, sink.Completed)
	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Punctuation[int](6)))
	require.NoError(t, u.Right().OnCompleted())

	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.Point(3, "A", 3),
		wt.Point(3, "B", 3),
		wt.Point(4, "B", 4),
		wt.Point(5, "A", 5),
		wt.Punctuation[int](6),
		wt.Punctuation[int](inf),
	}, sink.Rows)
	assert.True(t, sink.Completed)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestUnion_Punctuations(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := operator.NewCollector[string, int]()
	u := New[string, int](context.Background(), pool, sink)

	require.NoError(t, u.ProcessLeftBatch(batch.FromRows(pool, []batch.Row[string, int]{wt.Punctuation[int](5)})[0]))
	require.NoError(t, u.ProcessRightBatch(batch.FromRows(pool, []batch.Row[string, int]{wt.Punctuation[int](3)})[0]))
	assert.Empty(t, sink.Rows)
	require.NoError(t, u.ProcessRightBatch(batch.FromRows(pool, []batch.Row[string, int]{wt.Punctuation[int](8)})[0]))
	assert.Equal(t, []batch.Row[string, int]{wt.Punctuation[int](3)}, sink.Rows)

	require.NoError(t, u.Left().OnCompleted())
	require.NoError(t, u.Right().OnCompleted())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Punctuation[int](3),
		wt.Punctuation[int](5),
		wt.Punctuation[int](8),
		wt.Punctuation[int](inf),
	}, sink.Rows)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestUnion_BulkPath(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := &recorder{Collector: operator.NewCollector[string, int]()}
	u := New[string, int](context.Background(), pool, sink)

	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(5, "B", 5)))
	left := batch.FromRows(pool, []batch.Row[string, int]{wt.Point(1, "A", 1), wt.Point(2, "A", 2)})[0]
	column := left.SyncTime
	require.NoError(t, u.ProcessLeftBatch(left))

	require.Len(t, sink.columns, 1)
	assert.Same(t, column, sink.columns[0])
	l, r := u.Queued()
	assert.Zero(t, l)
	assert.Equal(t, 1, r)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestUnion_BothBatches(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := operator.NewCollector[string, int]()
	u := New[string, int](context.Background(), pool, sink)

	left := batch.FromRows(pool, []batch.Row[string, int]{wt.Point(1, "A", 1), wt.Point(4, "A", 4)})[0]
	right := batch.FromRows(pool, []batch.Row[string, int]{wt.Point(2, "B", 2), wt.Point(4, "B", 4)})[0]
	require.NoError(t, u.ProcessBothBatches(left, right))
	require.NoError(t, u.Flush())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "B", 2),
		wt.Point(4, "A", 4),
	}, sink.Rows)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestUnion_OutOfOrder(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	u := New[string, int](context.Background(), pool, operator.NewCollector[string, int]())

	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(10, "B", 10)))
	err := wt.Feed[int](u.Left(), pool, wt.Point(3, "A", 3), wt.Point(1, "A", 1))
	assert.True(t, operator.IsOutOfOrder(err))
	assert.ErrorIs(t, wt.Feed[int](u.Left(), pool, wt.Point(12, "A", 12)), err)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestUnion_Checkpoint(t *testing.T) {
	ctx := context.Background()
	pool := batch.NewPool[string, int](4)
	first := operator.NewCollector[string, int]()
	u := New[string, int](ctx, pool, first)

	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.Point(1, "A", 1), wt.Point(3, "A", 3)))
	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(2, "B", 2)))
	require.NoError(t, u.Flush())
	assert.Equal(t, []batch.Row[string, int]{wt.Point(1, "A", 1), wt.Point(2, "B", 2)}, first.Rows)

	data, err := checkpoint.Marshal(u)
	require.NoError(t, err)
	require.NoError(t, u.Dispose())

	second := operator.NewCollector[string, int]()
	restored := New[string, int](ctx, pool, second)
	require.NoError(t, checkpoint.Unmarshal(data, restored))
	l, _ := restored.Queued()
	assert.Equal(t, 1, l)

	require.NoError(t, wt.Feed[int](restored.Right(), pool, wt.Point(4, "B", 4)))
	require.NoError(t, restored.Left().OnCompleted())
	require.NoError(t, restored.Right().OnCompleted())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(3, "A", 3),
		wt.Point(4, "B", 4),
		wt.Punctuation[int](inf),
	}, second.Rows)

	require.NoError(t, restored.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func sortedStream(rnd *rand.Rand, n int, key string) []batch.Row[string, int] {
	rows := make([]batch.Row[string, int], n)
	var t int64
	for i := range rows {
		t += int64(rnd.Intn(3))
		rows[i] = wt.Point(t, key, i)
	}
	return rows
}

func chunks(rnd *rand.Rand, rows []batch.Row[string, int]) [][]batch.Row[string, int] {
	var out [][]batch.Row[string, int]
	for len(rows) > 0 {
		n := min(len(rows), 1+rnd.Intn(5))
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}

// feedRandomly feeds left and right in random interleaving. It returns every row produced and how
// many of them were produced before either side completed.
func feedRandomly(t *testing.T, seed int64, left, right []batch.Row[string, int]) ([]batch.Row[string, int], int) {
	rnd := rand.New(rand.NewSource(seed))
	pool := batch.NewPool[string, int](3)
	sink := operator.NewCollector[string, int]()
	u := New[string, int](context.Background(), pool, sink)

	parts := [2][][]batch.Row[string, int]{chunks(rnd, left), chunks(rnd, right)}
	for len(parts[Left]) > 0 || len(parts[Right]) > 0 {
		side := Side(rnd.Intn(2))
		if len(parts[side]) == 0 {
			side = side.other()
		}
		for _, b := range batch.FromRows(pool, parts[side][0]) {
			if side == Left {
				require.NoError(t, u.ProcessLeftBatch(b))
			} else {
				require.NoError(t, u.ProcessRightBatch(b))
			}
		}
		parts[side] = parts[side][1:]
	}
	require.NoError(t, u.Flush())
	open := len(sink.Rows)
	require.NoError(t, u.Left().OnCompleted())
	require.NoError(t, u.Right().OnCompleted())
	require.True(t, sink.Completed)
	require.NoError(t, u.Dispose())
	require.Zero(t, pool.Outstanding())
	return sink.Rows, open
}

// mergeRandomly feeds left and right in random interleaving and returns the data rows produced.
func mergeRandomly(t *testing.T, seed int64, left, right []batch.Row[string, int]) []batch.Row[string, int] {
	rows, _ := feedRandomly(t, seed, left, right)
	return dataOf(rows)
}

func dataOf(rows []batch.Row[string, int]) []batch.Row[string, int] {
	var data []batch.Row[string, int]
	for _, r := range rows {
		if !temporal.IsProgress(r.OtherTime) {
			data = append(data, r)
		}
	}
	return data
}

// punctuatedStream is a sorted stream with punctuations between its rows. It also returns the
// largest punctuation, or MinSyncTime if there is none.
func punctuatedStream(rnd *rand.Rand, n int, key string) ([]batch.Row[string, int], int64) {
	var rows []batch.Row[string, int]
	var t int64
	cti := temporal.MinSyncTime
	for i := 0; i < n; i++ {
		t += int64(rnd.Intn(3))
		rows = append(rows, wt.Point(t, key, i))
		if rnd.Intn(4) == 0 {
			t += int64(rnd.Intn(2))
			rows = append(rows, wt.Punctuation[int](t))
			cti = t
		}
	}
	return rows, cti
}

func stableMerge(first, second []batch.Row[string, int]) []batch.Row[string, int] {
	rows := append(append([]batch.Row[string, int]{}, first...), second...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SyncTime < rows[j].SyncTime })
	return rows
}

func TestUnion_OrderAndCommutativity(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		left := sortedStream(rnd, 1+rnd.Intn(40), "L")
		right := sortedStream(rnd, 1+rnd.Intn(40), "R")

		assert.Equal(t, stableMerge(left, right), mergeRandomly(t, int64(i), left, right))
		assert.Equal(t, stableMerge(right, left), mergeRandomly(t, int64(i), right, left))
	}
}

func TestUnion_PunctuationsAreTheMinimumOfBothSides(t *testing.T) {
	rnd := rand.New(rand.NewSource(17))
	for i := 0; i < 50; i++ {
		left, leftCTI := punctuatedStream(rnd, 1+rnd.Intn(40), "L")
		right, rightCTI := punctuatedStream(rnd, 1+rnd.Intn(40), "R")

		rows, open := feedRandomly(t, int64(i), left, right)
		assert.Equal(t, stableMerge(dataOf(left), dataOf(right)), dataOf(rows))

		last := temporal.MinSyncTime
		punctuation := temporal.MinSyncTime
		for n, r := range rows {
			if r.OtherTime == temporal.PunctuationOtherTime {
				require.Greater(t, r.SyncTime, punctuation, "punctuations must advance")
				if n < open {
					// both sides still running, neither may be overtaken
					require.LessOrEqual(t, r.SyncTime, min(leftCTI, rightCTI))
				}
				punctuation = r.SyncTime
				continue
			}
			require.GreaterOrEqual(t, r.SyncTime, last)
			require.GreaterOrEqual(t, r.SyncTime, punctuation, "data below an emitted punctuation")
			last = r.SyncTime
		}
		assert.Equal(t, wt.Punctuation[int](inf), rows[len(rows)-1])
	}
}

func TestPartitionedUnion_Merge(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := operator.NewCollector[string, int]()
	u := NewPartitioned[string, int](context.Background(), window.KeyPartitioner(wt.Keys), pool, sink)

	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.Point(1, "A", 1), wt.Point(4, "A", 4), wt.Point(2, "B", 2)))
	assert.Empty(t, sink.Rows)
	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(3, "A", 3), wt.LowWatermark[int](5)))
	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.LowWatermark[int](6)))
	assert.Zero(t, u.Partitions())

	require.NoError(t, u.Left().OnCompleted())
	require.NoError(t, u.Right().OnCompleted())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(3, "A", 3),
		wt.Point(4, "A", 4),
		wt.Point(2, "B", 2),
		wt.LowWatermark[int](5),
		wt.LowWatermark[int](inf),
	}, sink.Rows)
	assert.True(t, sink.Completed)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestPartitionedUnion_KeyedPunctuation(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	sink := operator.NewCollector[string, int]()
	u := NewPartitioned[string, int](context.Background(), window.KeyPartitioner(wt.Keys), pool, sink)

	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.KeyedPunctuation[int](4, "A")))
	require.NoError(t, wt.Feed[int](u.Right(), pool, wt.Point(5, "A", 5), wt.KeyedPunctuation[int](6, "A")))
	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.KeyedPunctuation[int](7, "A")))
	require.NoError(t, u.Flush())

	assert.Equal(t, []batch.Row[string, int]{
		wt.KeyedPunctuation[int](4, "A"),
		wt.Point(5, "A", 5),
		wt.KeyedPunctuation[int](6, "A"),
	}, sink.Rows)

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestPartitionedUnion_OutOfOrder(t *testing.T) {
	pool := batch.NewPool[string, int](4)
	u := NewPartitioned[string, int](context.Background(), window.KeyPartitioner(wt.Keys), pool, operator.NewCollector[string, int]())

	err := wt.Feed[int](u.Left(), pool, wt.Point(5, "A", 5), wt.Point(3, "A", 3))
	assert.True(t, operator.IsOutOfOrder(err))

	require.NoError(t, u.Dispose())
	assert.Zero(t, pool.Outstanding())
}

func TestPartitionedUnion_Checkpoint(t *testing.T) {
	ctx := context.Background()
	pool := batch.NewPool[string, int](4)
	u := NewPartitioned[string, int](ctx, window.KeyPartitioner(wt.Keys), pool, operator.NewCollector[string, int]())
	require.NoError(t, wt.Feed[int](u.Left(), pool, wt.Point(1, "A", 1)))
	assert.Equal(t, 1, u.Partitions())

	data, err := checkpoint.Marshal(u)
	require.NoError(t, err)
	require.NoError(t, u.Dispose())

	sink := operator.NewCollector[string, int]()
	restored := NewPartitioned[string, int](ctx, window.KeyPartitioner(wt.Keys), pool, sink)
	require.NoError(t, checkpoint.Unmarshal(data, restored))
	assert.Equal(t, 1, restored.Partitions())

	require.NoError(t, wt.Feed[int](restored.Right(), pool, wt.Point(2, "A", 2)))
	require.NoError(t, restored.Left().OnCompleted())
	require.NoError(t, restored.Right().OnCompleted())
	assert.Equal(t, []batch.Row[string, int]{
		wt.Point(1, "A", 1),
		wt.Point(2, "A", 2),
		wt.LowWatermark[int](inf),
	}, sink.Rows)
	assert.Zero(t, restored.Partitions())

	require.NoError(t, restored.Dispose())
	assert.Zero(t, pool.Outstanding())
}
