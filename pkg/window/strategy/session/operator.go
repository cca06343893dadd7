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

package session

import (
	"context"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/window"
)

// NewOperator returns a session window stage over a plain stream.
func NewOperator[K, V any](ctx context.Context, spec window.SessionSpec, comparer keys.Comparer[K], pool *batch.Pool[K, V], downstream operator.Observer[K, V], opts ...operator.Option) (*window.Operator[K, V, V], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return window.NewOperator[K, V, V](ctx, "session", New[K, V](spec, comparer), window.Identity, pool, downstream, opts...), nil
}

// NewPartitionedOperator returns a session window stage over a partitioned stream.
func NewPartitionedOperator[K, V, P any](ctx context.Context, spec window.SessionSpec, comparer keys.Comparer[K], partitioner window.Partitioner[K, P], pool *batch.Pool[K, V], downstream operator.Observer[K, V], opts ...operator.Option) (*window.PartitionedOperator[K, V, V, P], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	factory := func() window.Windower[K, V, V] { return New[K, V](spec, comparer) }
	return window.NewPartitionedOperator[K, V, V, P](ctx, "session", factory, partitioner, window.Identity, pool, downstream, opts...), nil
}
