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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/logging"
)

// Job is one pipeline run over one input.
type Job struct {
	// Name identifies the checkpoint of the job.
	Name   string
	Config Config
	Input  io.Reader
}

// SinkFunc returns the sink of a job.
type SinkFunc func(job Job) operator.Observer[string, float64]

type options struct {
	// store keeps the job checkpoints, nil disables checkpointing
	store checkpoint.Store
	// checkpointEvery is the number of input batches between two checkpoints
	checkpointEvery int
}

type Option func(*options)

// WithCheckpoints saves the state of every job to store after each every input batches, and
// resumes jobs from it.
func WithCheckpoints(store checkpoint.Store, every int) Option {
	return func(o *options) {
		o.store = store
		o.checkpointEvery = every
	}
}

// Runner runs independent pipelines concurrently. The pipelines share the batch pool and nothing
// else.
type Runner struct {
	pool    *batch.Pool[string, float64]
	newSink SinkFunc
	opts    *options
}

// NewRunner returns a Runner taking batches from pool.
func NewRunner(pool *batch.Pool[string, float64], newSink SinkFunc, opts ...Option) *Runner {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &Runner{pool: pool, newSink: newSink, opts: o}
}

// Run runs every job to completion. The first failing job cancels the others.
func (r *Runner) Run(ctx context.Context, jobs ...Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := r.run(gctx, job); err != nil {
				return fmt.Errorf("job %q failed, %w", job.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) run(ctx context.Context, job Job) (err error) {
	log := logging.FromContext(ctx).With("job", job.Name)
	ctx = logging.WithLogger(ctx, log)
	p, err := Build(ctx, job.Config, r.pool, r.newSink(job))
	if err != nil {
		return err
	}
	defer func() {
		if derr := p.Dispose(); derr != nil {
			log.Errorw("Failed to dispose pipeline", zap.Error(derr))
			err = multierr.Append(err, derr)
		}
		metrics.PoolOutstanding.WithLabelValues(p.Name).Set(float64(r.pool.Outstanding()))
	}()

	src := NewSource(job.Input, r.pool)
	store := r.opts.store
	if store != nil {
		switch err = checkpoint.Load(ctx, store, job.Name, p); {
		case err == nil:
			log.Infow("Resuming from checkpoint", zap.Int64("offset", p.Offset()))
			if err = src.Skip(p.Offset()); err != nil {
				return err
			}
		case errors.Is(err, checkpoint.ErrNotFound):
		default:
			return err
		}
	}

	save := func() error {
		if err := p.Flush(); err != nil {
			return err
		}
		p.offset = src.Offset()
		return checkpoint.Save(ctx, store, job.Name, p)
	}
	every := 0
	if store != nil {
		every = r.opts.checkpointEvery
	}
	if err = feed(ctx, src, p.Head, every, save); err != nil {
		return err
	}
	log.Infow("Job completed", zap.Int64("events", src.Offset()))
	if store != nil {
		return store.Delete(ctx, job.Name)
	}
	return nil
}
