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

// Package groupby re-keys streams. A flat grouping replaces the key of every row, a nested grouping
// pairs it with the existing key in a keys.Compound so that Ungroup can project it back. The time,
// payload and validity columns of the input are shared with the output rather than copied.
package groupby

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// rekeyFunc returns the new key and hash of a data row.
type rekeyFunc[K, V, K2 any] func(key K, hash int32, payload V) (K2, int32)

// progressFunc returns the key and hash carried by a punctuation or low watermark.
type progressFunc[K, K2 any] func(key K, hash int32) (K2, int32)

// Stage re-keys every row of its input.
type Stage[K, V, K2 any] struct {
	operator.Base
	rekey    rekeyFunc[K, V, K2]
	progress progressFunc[K, K2]
	pool     *batch.Pool[K2, V]
	emitter  *operator.Emitter[K2, V]
}

var _ operator.Stage[int, int] = (*Stage[int, int, string])(nil)

func newStage[K, V, K2 any](ctx context.Context, name string, rekey rekeyFunc[K, V, K2], progress progressFunc[K, K2], pool *batch.Pool[K2, V], downstream operator.Observer[K2, V], opts ...operator.Option) *Stage[K, V, K2] {
	s := &Stage[K, V, K2]{
		Base:     operator.NewBase(ctx, name, opts...),
		rekey:    rekey,
		progress: progress,
		pool:     pool,
	}
	s.emitter = operator.NewEmitter(&s.Base, pool, downstream)
	return s
}

// New returns a flat grouping keyed by selector. Punctuations lose their key.
func New[K, V, K2 any](ctx context.Context, selector func(payload V) K2, comparer keys.Comparer[K2], pool *batch.Pool[K2, V], downstream operator.Observer[K2, V], opts ...operator.Option) *Stage[K, V, K2] {
	rekey := func(_ K, _ int32, payload V) (K2, int32) {
		k := selector(payload)
		return k, comparer.Hash(k)
	}
	progress := func(K, int32) (K2, int32) {
		var zero K2
		return zero, 0
	}
	return newStage[K, V, K2](ctx, "groupby", rekey, progress, pool, downstream, opts...)
}

// NewNested returns a grouping that nests selector's key inside the existing one. The hash of a
// compound key is the outer hash XOR the inner hash; punctuations keep the outer key and hash.
func NewNested[O, V, I any](ctx context.Context, selector func(payload V) I, inner keys.Comparer[I], pool *batch.Pool[keys.Compound[O, I], V], downstream operator.Observer[keys.Compound[O, I], V], opts ...operator.Option) *Stage[O, V, keys.Compound[O, I]] {
	rekey := func(outer O, hash int32, payload V) (keys.Compound[O, I], int32) {
		k := selector(payload)
		return keys.Compound[O, I]{Outer: outer, Inner: k}, keys.Combine(hash, inner.Hash(k))
	}
	progress := func(outer O, hash int32) (keys.Compound[O, I], int32) {
		return keys.Compound[O, I]{Outer: outer}, hash
	}
	return newStage[O, V, keys.Compound[O, I]](ctx, "groupby-nested", rekey, progress, pool, downstream, opts...)
}

func (s *Stage[K, V, K2]) OnNext(b *batch.Batch[K, V]) error {
	defer b.Free()
	if err := s.Err(); err != nil {
		return err
	}
	out := batch.Rekey(b, s.pool)
	var zero K2
	for i := 0; i < b.Count; i++ {
		switch {
		case b.IsData(i):
			s.RowsIn.Inc()
			k, h := s.rekey(b.Key.Data[i], b.Hash.Data[i], b.Payload.Data[i])
			out.SetKey(i, k, h)
		case temporal.IsProgress(b.OtherTime.Data[i]):
			k, h := s.progress(b.Key.Data[i], b.Hash.Data[i])
			out.SetKey(i, k, h)
		default:
			out.SetKey(i, zero, 0)
		}
	}
	return s.Fail(s.emitter.Forward(out))
}

func (s *Stage[K, V, K2]) OnCompleted() error {
	if err := s.Err(); err != nil {
		return err
	}
	return s.Fail(s.emitter.Complete())
}

func (s *Stage[K, V, K2]) Flush() error {
	if err := s.Err(); err != nil {
		return err
	}
	return s.Fail(s.emitter.Flush())
}

func (s *Stage[K, V, K2]) Dispose() error {
	if s.MarkDisposed() {
		s.emitter.Dispose()
	}
	return nil
}

func (s *Stage[K, V, K2]) Checkpoint(enc checkpoint.Encoder) error {
	if err := s.Err(); err != nil {
		return err
	}
	return s.emitter.Checkpoint(enc)
}

func (s *Stage[K, V, K2]) Restore(dec checkpoint.Decoder) error {
	return s.emitter.Restore(dec)
}
