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

// Package windowtest builds rows and drives stages for the window tests.
package windowtest

import (
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Keys is the comparer used by the tests.
var Keys = keys.String{}

// Hash returns the hash stored for key.
func Hash(key string) int32 {
	return Keys.Hash(key)
}

// Point returns an open start edge at t.
func Point[V any](t int64, key string, payload V) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: t, OtherTime: temporal.InfinitySyncTime, Key: key, Payload: payload, Hash: Hash(key)}
}

// Interval returns a start edge for [start, end).
func Interval[V any](start, end int64, key string, payload V) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: start, OtherTime: end, Key: key, Payload: payload, Hash: Hash(key)}
}

// End returns the end edge at t of an interval that started at start.
func End[V any](t, start int64, key string, payload V) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: t, OtherTime: start, Key: key, Payload: payload, Hash: Hash(key)}
}

// Punctuation returns a stream-wide punctuation at t.
func Punctuation[V any](t int64) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: t, OtherTime: temporal.PunctuationOtherTime}
}

// KeyedPunctuation returns a punctuation at t scoped to key.
func KeyedPunctuation[V any](t int64, key string) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: t, OtherTime: temporal.PunctuationOtherTime, Key: key, Hash: Hash(key)}
}

// LowWatermark returns a low watermark at t.
func LowWatermark[V any](t int64) batch.Row[string, V] {
	return batch.Row[string, V]{SyncTime: t, OtherTime: temporal.LowWatermarkOtherTime}
}

// Feed writes rows into batches from pool and pushes them to stage in order. It stops at the first
// error and frees the batches that were not pushed.
func Feed[V any](stage operator.Observer[string, V], pool *batch.Pool[string, V], rows ...batch.Row[string, V]) error {
	batches := batch.FromRows(pool, rows)
	for i, b := range batches {
		if err := stage.OnNext(b); err != nil {
			for _, rest := range batches[i+1:] {
				rest.Free()
			}
			return err
		}
	}
	return nil
}
