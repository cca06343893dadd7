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

package groupby

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Ungroup undoes a nested grouping: every row is keyed by its outer key again and its payload is
// replaced by result applied to the inner key and the payload.
type Ungroup[O, I, V, R any] struct {
	operator.Base
	inner   keys.Comparer[I]
	result  func(inner I, payload V) R
	pool    *batch.Pool[O, R]
	emitter *operator.Emitter[O, R]
}

var _ operator.Stage[keys.Compound[string, int], int] = (*Ungroup[string, int, int, int])(nil)

// NewUngroup returns an Ungroup stage. inner must be the comparer the nested grouping hashed with.
func NewUngroup[O, I, V, R any](ctx context.Context, inner keys.Comparer[I], result func(inner I, payload V) R, pool *batch.Pool[O, R], downstream operator.Observer[O, R], opts ...operator.Option) *Ungroup[O, I, V, R] {
	u := &Ungroup[O, I, V, R]{
		Base:   operator.NewBase(ctx, "ungroup", opts...),
		inner:  inner,
		result: result,
		pool:   pool,
	}
	u.emitter = operator.NewEmitter(&u.Base, pool, downstream)
	return u
}

func (u *Ungroup[O, I, V, R]) OnNext(b *batch.Batch[keys.Compound[O, I], V]) error {
	defer b.Free()
	if err := u.Err(); err != nil {
		return err
	}
	out := batch.Derive(b, u.pool)
	var zero R
	for i := 0; i < b.Count; i++ {
		key, hash := b.Key.Data[i], b.Hash.Data[i]
		switch {
		case b.IsData(i):
			u.RowsIn.Inc()
			out.SetKey(i, key.Outer, keys.Combine(hash, u.inner.Hash(key.Inner)))
			out.SetPayload(i, u.result(key.Inner, b.Payload.Data[i]))
		case temporal.IsProgress(b.OtherTime.Data[i]):
			// progress rows already carry the outer hash
			out.SetKey(i, key.Outer, hash)
			out.SetPayload(i, zero)
		default:
			var outer O
			out.SetKey(i, outer, 0)
			out.SetPayload(i, zero)
		}
	}
	return u.Fail(u.emitter.Forward(out))
}

func (u *Ungroup[O, I, V, R]) OnCompleted() error {
	if err := u.Err(); err != nil {
		return err
	}
	return u.Fail(u.emitter.Complete())
}

func (u *Ungroup[O, I, V, R]) Flush() error {
	if err := u.Err(); err != nil {
		return err
	}
	return u.Fail(u.emitter.Flush())
}

func (u *Ungroup[O, I, V, R]) Dispose() error {
	if u.MarkDisposed() {
		u.emitter.Dispose()
	}
	return nil
}

func (u *Ungroup[O, I, V, R]) Checkpoint(enc checkpoint.Encoder) error {
	if err := u.Err(); err != nil {
		return err
	}
	return u.emitter.Checkpoint(enc)
}

func (u *Ungroup[O, I, V, R]) Restore(dec checkpoint.Decoder) error {
	return u.emitter.Restore(dec)
}
