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

package aggregate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type handle struct {
	closed *int
	err    error
}

func (h handle) Dispose() error {
	*h.closed++
	return h.err
}

func TestSum(t *testing.T) {
	var a Aggregate[int, int, int] = Sum[int]{}
	s := a.InitialState()
	s = a.Accumulate(s, 1, 4)
	s = a.Accumulate(s, 2, 6)
	s = a.Deaccumulate(s, 3, 4)
	assert.Equal(t, 6, a.ComputeResult(s))
	assert.Equal(t, 2, a.Difference(8, 6))
}

func TestAverage(t *testing.T) {
	var a Aggregate[int, AverageState, float64] = Average[int]{}
	s := a.InitialState()
	assert.Equal(t, 0.0, a.ComputeResult(s))
	s = a.Accumulate(s, 1, 1)
	s = a.Accumulate(s, 1, 2)
	s = a.Accumulate(s, 1, 6)
	assert.Equal(t, 3.0, a.ComputeResult(s))
	s = a.Deaccumulate(s, 2, 6)
	assert.Equal(t, 1.5, a.ComputeResult(s))
	d := a.Difference(s, AverageState{Sum: 1, Count: 1})
	assert.Equal(t, AverageState{Sum: 2, Count: 1}, d)
}

func TestCountAndByName(t *testing.T) {
	var c Aggregate[string, int64, int64] = Count[string]{}
	s := c.Accumulate(c.Accumulate(c.InitialState(), 1, "a"), 2, "b")
	assert.Equal(t, int64(2), c.ComputeResult(s))
	assert.Equal(t, int64(1), c.ComputeResult(c.Deaccumulate(s, 3, "a")))

	f, err := ByName("count")
	assert.NoError(t, err)
	assert.Equal(t, 2.0, f.ComputeResult(f.Accumulate(f.Accumulate(f.InitialState(), 1, 7), 1, 9)))
	f, err = ByName("sum")
	assert.NoError(t, err)
	assert.Equal(t, 16.0, f.ComputeResult(f.Accumulate(f.Accumulate(f.InitialState(), 1, 7), 1, 9)))
	_, err = ByName("median")
	assert.Error(t, err)
}

func TestDisposeState(t *testing.T) {
	closed := 0
	assert.NoError(t, DisposeState(handle{closed: &closed}))
	boom := errors.New("boom")
	err := DisposeState(handle{closed: &closed, err: boom})
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsDisposeError(err))
	assert.False(t, IsDisposeError(boom))
	assert.Equal(t, 2, closed)
	assert.NoError(t, DisposeState(3))
}
