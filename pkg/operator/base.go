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
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/shared/logging"
)

// Options are shared by every stage constructor.
type Options struct {
	// Pipeline is the name of the pipeline the stage belongs to, used as metric label.
	Pipeline string
	// Name is the stage name, used in logs, errors and metric labels.
	Name string
	// Partitioned marks a stage working on a partitioned stream, where progress is carried by low
	// watermarks and rows of different partitions may interleave.
	Partitioned bool
	// FlushOnPunctuation hands the output batch downstream as soon as a progress row is added.
	FlushOnPunctuation bool
}

// Option sets an Option.
type Option func(*Options)

// DefaultOptions returns the options of a stage called name.
func DefaultOptions(name string) *Options {
	return &Options{
		Pipeline:           "default",
		Name:               name,
		FlushOnPunctuation: true,
	}
}

// WithPipeline sets the pipeline name.
func WithPipeline(pipeline string) Option {
	return func(o *Options) {
		o.Pipeline = pipeline
	}
}

// WithName overrides the stage name.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithPartitioned marks the stage as working on a partitioned stream.
func WithPartitioned(partitioned bool) Option {
	return func(o *Options) {
		o.Partitioned = partitioned
	}
}

// WithFlushOnPunctuation sets whether progress rows hand the output batch downstream.
func WithFlushOnPunctuation(flush bool) Option {
	return func(o *Options) {
		o.FlushOnPunctuation = flush
	}
}

// Base carries what every stage has in common: identity, logger, the latched fatal error and the
// disposed flag.
type Base struct {
	Opts *Options
	Log  *zap.SugaredLogger
	// RowsIn counts consumed data rows.
	RowsIn prometheus.Counter

	err      error
	disposed bool
}

// NewBase applies opts over the defaults of a stage called name.
func NewBase(ctx context.Context, name string, opts ...Option) Base {
	o := DefaultOptions(name)
	for _, opt := range opts {
		opt(o)
	}
	return Base{
		Opts:   o,
		Log:    logging.FromContext(ctx).With("pipeline", o.Pipeline, "stage", o.Name),
		RowsIn: metrics.RowsIn.WithLabelValues(o.Pipeline, o.Name),
	}
}

// Name returns the stage name.
func (b *Base) Name() string {
	return b.Opts.Name
}

// Err returns the latched error, ErrDisposed after disposal, or nil.
func (b *Base) Err() error {
	if b.err != nil {
		return b.err
	}
	if b.disposed {
		return ErrDisposed
	}
	return nil
}

// Fail latches err and returns it. The first error wins, later calls return the latched one.
func (b *Base) Fail(err error) error {
	if err == nil {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	b.err = err
	reason := metrics.ReasonDownstream
	switch {
	case IsOutOfOrder(err):
		reason = metrics.ReasonOutOfOrder
	case IsInvariant(err):
		reason = metrics.ReasonInvariant
	case aggregate.IsDisposeError(err):
		reason = metrics.ReasonDispose
	}
	b.Log.Errorw("Stage terminated", zap.String("reason", reason), zap.Error(err))
	metrics.FatalErrors.WithLabelValues(b.Opts.Pipeline, b.Opts.Name, reason).Inc()
	return err
}

// Disposed reports whether MarkDisposed was called.
func (b *Base) Disposed() bool {
	return b.disposed
}

// MarkDisposed flags the stage as disposed. It returns false if it already was.
func (b *Base) MarkDisposed() bool {
	if b.disposed {
		return false
	}
	b.disposed = true
	return true
}

// OutOfOrder returns an OutOfOrderErr raised by this stage.
func (b *Base) OutOfOrder(syncTime, watermark int64, msg string) error {
	return OutOfOrderErr{Stage: b.Opts.Name, SyncTime: syncTime, Watermark: watermark, Message: msg}
}

// Invariant returns an InvariantErr raised by this stage.
func (b *Base) Invariant(msg string) error {
	return InvariantErr{Stage: b.Opts.Name, Message: msg}
}

// DisposeFailed records err as a failure to dispose held state and returns it.
func (b *Base) DisposeFailed(err error) error {
	if err == nil {
		return nil
	}
	b.Log.Errorw("Failed to dispose held state", zap.Error(err))
	metrics.FatalErrors.WithLabelValues(b.Opts.Pipeline, b.Opts.Name, metrics.ReasonDispose).Inc()
	return err
}
