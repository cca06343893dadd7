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

package operator

import (
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// FuncSink is a terminal Observer that hands every data and progress row to a function and frees
// the batches it receives.
type FuncSink[K, V any] struct {
	fn        func(row batch.Row[K, V]) error
	Batches   int
	Flushes   int
	Completed bool
}

var _ Stage[string, int] = (*FuncSink[string, int])(nil)

// NewFuncSink returns a sink calling fn for every row.
func NewFuncSink[K, V any](fn func(row batch.Row[K, V]) error) *FuncSink[K, V] {
	return &FuncSink[K, V]{fn: fn}
}

func (s *FuncSink[K, V]) OnNext(b *batch.Batch[K, V]) error {
	defer b.Free()
	s.Batches++
	for i := 0; i < b.Count; i++ {
		if _, ok := b.Kind(i); !ok {
			continue
		}
		if err := s.fn(b.Row(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *FuncSink[K, V]) OnCompleted() error {
	s.Completed = true
	return nil
}

func (s *FuncSink[K, V]) Flush() error {
	s.Flushes++
	return nil
}

func (s *FuncSink[K, V]) Checkpoint(checkpoint.Encoder) error { return nil }

func (s *FuncSink[K, V]) Restore(checkpoint.Decoder) error { return nil }

func (s *FuncSink[K, V]) Dispose() error { return nil }

// Collector is a sink that keeps every row it receives.
type Collector[K, V any] struct {
	*FuncSink[K, V]
	Rows []batch.Row[K, V]
}

// NewCollector returns an empty Collector.
func NewCollector[K, V any]() *Collector[K, V] {
	c := &Collector[K, V]{}
	c.FuncSink = NewFuncSink(func(row batch.Row[K, V]) error {
		c.Rows = append(c.Rows, row)
		return nil
	})
	return c
}

// Data returns the collected data rows, leaving out punctuations and low watermarks.
func (c *Collector[K, V]) Data() []batch.Row[K, V] {
	var rows []batch.Row[K, V]
	for _, r := range c.Rows {
		if k := r.Kind(); k != temporal.Punctuation && k != temporal.LowWatermark {
			rows = append(rows, r)
		}
	}
	return rows
}

// Reset drops the collected rows.
func (c *Collector[K, V]) Reset() {
	c.Rows = nil
}
