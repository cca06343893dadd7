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

// Package pipeline builds and runs queries described by a Config over JSON-lines event files.
// A query is a chain of stages keyed by string and carrying float64 payloads: an optional regrouping
// by value bucket, a snapshot or session window, then a sink.
package pipeline

import (
	"context"
	"math"
	"strconv"

	"go.uber.org/multierr"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/groupby"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/window"
	"github.com/numaproj/chronoflow/pkg/window/snapshot"
	"github.com/numaproj/chronoflow/pkg/window/strategy/session"
)

type stage = operator.Stage[string, float64]

// Pipeline is a built chain of stages. Batches are pushed into Head.
type Pipeline struct {
	Name string
	Head stage
	// stages in chain order, sink excluded
	stages []stage
	offset int64
}

type pipelineState struct {
	Offset int64 `json:"offset"`
}

// Build returns the pipeline described by cfg writing to sink. Every stage takes its output batches
// from pool.
func Build(ctx context.Context, cfg Config, pool *batch.Pool[string, float64], sink operator.Observer[string, float64]) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []operator.Option{operator.WithPipeline(cfg.Name)}
	partitioner := window.KeyPartitioner(stringKeys)

	var win stage
	var err error
	switch cfg.Window.Kind {
	case WindowSnapshot:
		agg, _ := aggregate.ByName(cfg.Aggregate)
		if cfg.Partitioned {
			win, err = snapshot.NewPartitioned[string, float64, float64, float64](ctx, cfg.Window.Spec(), agg, stringKeys, partitioner, pool, sink, opts...)
		} else {
			win, err = snapshot.New[string, float64, float64, float64](ctx, cfg.Window.Spec(), agg, stringKeys, pool, sink, opts...)
		}
	case WindowSession:
		if cfg.Partitioned {
			win, err = session.NewPartitionedOperator[string, float64](ctx, cfg.Window.SessionSpec(), stringKeys, partitioner, pool, sink, opts...)
		} else {
			win, err = session.NewOperator[string, float64](ctx, cfg.Window.SessionSpec(), stringKeys, pool, sink, opts...)
		}
	case WindowStatelessSession:
		win = session.NewStateless[string, float64](ctx, cfg.Window.SessionSpec(), stringKeys, pool, sink, opts...)
	}
	if err != nil {
		return nil, err
	}

	p := &Pipeline{Name: cfg.Name, Head: win, stages: []stage{win}}
	if cfg.GroupBy != nil {
		width := cfg.GroupBy.Bucket
		selector := func(v float64) string {
			return strconv.FormatFloat(math.Floor(v/width)*width, 'g', -1, 64)
		}
		g := groupby.New[string, float64, string](ctx, selector, stringKeys, pool, win, opts...)
		p.Head = g
		p.stages = append([]stage{g}, p.stages...)
	}
	return p, nil
}

// Flush hands every pending output batch down the chain.
func (p *Pipeline) Flush() error {
	return p.Head.Flush()
}

// Dispose releases the held state of every stage.
func (p *Pipeline) Dispose() error {
	var errs error
	for _, s := range p.stages {
		errs = multierr.Append(errs, s.Dispose())
	}
	return errs
}

// Checkpoint writes the state of every stage in chain order, preceded by the input offset. The
// pipeline must have been flushed.
func (p *Pipeline) Checkpoint(enc checkpoint.Encoder) error {
	if err := enc.Encode(pipelineState{Offset: p.offset}); err != nil {
		return err
	}
	for _, s := range p.stages {
		if err := s.Checkpoint(enc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) Restore(dec checkpoint.Decoder) error {
	var st pipelineState
	if err := dec.Decode(&st); err != nil {
		return err
	}
	for _, s := range p.stages {
		if err := s.Restore(dec); err != nil {
			return err
		}
	}
	p.offset = st.Offset
	return nil
}

// Offset returns the number of input events the checkpointed state covers.
func (p *Pipeline) Offset() int64 {
	return p.offset
}
