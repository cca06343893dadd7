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

// Package snapshot builds snapshot window stages. The window kind is picked once from the Spec and
// the matching Windower is driven by a plain or a partitioned operator.
package snapshot

import (
	"context"
	"strings"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/window"
	"github.com/numaproj/chronoflow/pkg/window/strategy/hopping"
	"github.com/numaproj/chronoflow/pkg/window/strategy/priority"
	"github.com/numaproj/chronoflow/pkg/window/strategy/sliding"
	"github.com/numaproj/chronoflow/pkg/window/strategy/startedge"
	"github.com/numaproj/chronoflow/pkg/window/strategy/tumbling"
)

// Factory returns the kind of spec and a constructor of its Windower.
func Factory[K, V, S, R any](spec window.Spec, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K]) (window.Kind, window.Factory[K, V, R], error) {
	kind, err := spec.Classify()
	if err != nil {
		return 0, nil, err
	}
	var factory window.Factory[K, V, R]
	switch kind {
	case window.StartEdge:
		factory = func() window.Windower[K, V, R] { return startedge.New[K, V, S, R](agg, comparer) }
	case window.Tumbling:
		factory = func() window.Windower[K, V, R] { return tumbling.New[K, V, S, R](spec.Size, agg, comparer) }
	case window.Hopping:
		factory = func() window.Windower[K, V, R] { return hopping.New[K, V, S, R](spec.Size, spec.Hop, agg, comparer) }
	case window.Sliding:
		factory = func() window.Windower[K, V, R] { return sliding.New[K, V, S, R](spec.Size, agg, comparer) }
	case window.PriorityQueue:
		factory = func() window.Windower[K, V, R] { return priority.New[K, V, S, R](agg, comparer) }
	default:
		return 0, nil, operator.InvariantErr{Stage: "snapshot", Message: "unknown window kind " + kind.String()}
	}
	return kind, factory, nil
}

func stageName(kind window.Kind) string {
	return strings.ToLower(kind.String())
}

// New returns the snapshot window stage for spec over a plain stream.
func New[K, V, S, R any](ctx context.Context, spec window.Spec, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K], pool *batch.Pool[K, R], downstream operator.Observer[K, R], opts ...operator.Option) (*window.Operator[K, V, R], error) {
	kind, factory, err := Factory[K, V, S, R](spec, agg, comparer)
	if err != nil {
		return nil, err
	}
	return window.NewOperator(ctx, stageName(kind), factory(), spec.ProgressTime, pool, downstream, opts...), nil
}

// NewPartitioned returns the snapshot window stage for spec over a partitioned stream.
func NewPartitioned[K, V, S, R, P any](ctx context.Context, spec window.Spec, agg aggregate.Aggregate[V, S, R], comparer keys.Comparer[K], partitioner window.Partitioner[K, P], pool *batch.Pool[K, R], downstream operator.Observer[K, R], opts ...operator.Option) (*window.PartitionedOperator[K, V, R, P], error) {
	kind, factory, err := Factory[K, V, S, R](spec, agg, comparer)
	if err != nil {
		return nil, err
	}
	return window.NewPartitionedOperator(ctx, stageName(kind), factory, partitioner, spec.ProgressTime, pool, downstream, opts...), nil
}
