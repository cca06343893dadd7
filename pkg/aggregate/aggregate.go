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

// Package aggregate defines the incremental aggregate capability consumed by the window stages.
// The stages only ever call these functions; they never look inside the state.
package aggregate

import (
	"errors"
	"fmt"
)

// Aggregate is an incremental aggregate over inputs of type I with state S and result R.
type Aggregate[I, S, R any] interface {
	// InitialState returns the state of an empty aggregate.
	InitialState() S
	// Accumulate folds an input that became active at timestamp into the state.
	Accumulate(state S, timestamp int64, input I) S
	// Deaccumulate removes an input that stopped being active at timestamp.
	Deaccumulate(state S, timestamp int64, input I) S
	// Difference returns the state of left with everything in right removed.
	Difference(left, right S) S
	// ComputeResult returns the value of the state.
	ComputeResult(state S) R
}

// Disposable is implemented by states that hold resources. The window stages dispose a state when
// they evict it; the returned error is propagated to the caller of the stage.
type Disposable interface {
	Dispose() error
}

// DisposeError is returned when a held state fails to dispose.
type DisposeError struct {
	Err error
}

func (e DisposeError) Error() string {
	return fmt.Sprintf("failed to dispose aggregate state, %v", e.Err)
}

func (e DisposeError) Unwrap() error {
	return e.Err
}

// IsDisposeError returns true if err wraps a DisposeError.
func IsDisposeError(err error) bool {
	var e DisposeError
	return errors.As(err, &e)
}

// DisposeState disposes s if it is Disposable.
func DisposeState[S any](s S) error {
	if d, ok := any(s).(Disposable); ok {
		if err := d.Dispose(); err != nil {
			return DisposeError{Err: err}
		}
	}
	return nil
}

// Funcs adapts plain functions to an Aggregate.
type Funcs[I, S, R any] struct {
	InitialStateFunc func() S
	AccumulateFunc   func(state S, timestamp int64, input I) S
	DeaccumulateFunc func(state S, timestamp int64, input I) S
	DifferenceFunc   func(left, right S) S
	ComputeFunc      func(state S) R
}

var _ Aggregate[int, int, int] = Funcs[int, int, int]{}

func (f Funcs[I, S, R]) InitialState() S { return f.InitialStateFunc() }

func (f Funcs[I, S, R]) Accumulate(state S, timestamp int64, input I) S {
	return f.AccumulateFunc(state, timestamp, input)
}

func (f Funcs[I, S, R]) Deaccumulate(state S, timestamp int64, input I) S {
	return f.DeaccumulateFunc(state, timestamp, input)
}

func (f Funcs[I, S, R]) Difference(left, right S) S { return f.DifferenceFunc(left, right) }

func (f Funcs[I, S, R]) ComputeResult(state S) R { return f.ComputeFunc(state) }

// Number is the set of payload types the built-in aggregates work on.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Sum adds up its inputs.
type Sum[N Number] struct{}

func (Sum[N]) InitialState() N { return 0 }

func (Sum[N]) Accumulate(state N, _ int64, input N) N { return state + input }

func (Sum[N]) Deaccumulate(state N, _ int64, input N) N { return state - input }

func (Sum[N]) Difference(left, right N) N { return left - right }

func (Sum[N]) ComputeResult(state N) N { return state }

// Count counts its inputs.
type Count[I any] struct{}

func (Count[I]) InitialState() int64 { return 0 }

func (Count[I]) Accumulate(state int64, _ int64, _ I) int64 { return state + 1 }

func (Count[I]) Deaccumulate(state int64, _ int64, _ I) int64 { return state - 1 }

func (Count[I]) Difference(left, right int64) int64 { return left - right }

func (Count[I]) ComputeResult(state int64) int64 { return state }

// AverageState is the state of Average.
type AverageState struct {
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// Average computes the mean of its inputs, zero when empty.
type Average[N Number] struct{}

func (Average[N]) InitialState() AverageState { return AverageState{} }

func (Average[N]) Accumulate(state AverageState, _ int64, input N) AverageState {
	return AverageState{Sum: state.Sum + float64(input), Count: state.Count + 1}
}

func (Average[N]) Deaccumulate(state AverageState, _ int64, input N) AverageState {
	return AverageState{Sum: state.Sum - float64(input), Count: state.Count - 1}
}

func (Average[N]) Difference(left, right AverageState) AverageState {
	return AverageState{Sum: left.Sum - right.Sum, Count: left.Count - right.Count}
}

func (Average[N]) ComputeResult(state AverageState) float64 {
	if state.Count == 0 {
		return 0
	}
	return state.Sum / float64(state.Count)
}

// Float is the aggregate shape used by the configurable pipelines: float64 inputs, states and
// results.
type Float = Aggregate[float64, float64, float64]

// floatCount counts float64 inputs with a float64 state.
type floatCount struct{}

func (floatCount) InitialState() float64 { return 0 }

func (floatCount) Accumulate(s float64, _ int64, _ float64) float64 { return s + 1 }

func (floatCount) Deaccumulate(s float64, _ int64, _ float64) float64 { return s - 1 }

func (floatCount) Difference(l, r float64) float64 { return l - r }

func (floatCount) ComputeResult(s float64) float64 { return s }

// ByName returns a built-in float64 aggregate: "sum" or "count".
func ByName(name string) (Float, error) {
	switch name {
	case "sum", "":
		return Sum[float64]{}, nil
	case "count":
		return floatCount{}, nil
	default:
		return nil, fmt.Errorf("unsupported aggregate %q", name)
	}
}
