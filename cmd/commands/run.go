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

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numaproj/chronoflow"
	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/checkpoint"
	"github.com/numaproj/chronoflow/pkg/metrics"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/pipeline"
	"github.com/numaproj/chronoflow/pkg/shared/logging"
)

func NewRunCommand() *cobra.Command {

	var (
		configFile      string
		inputs          []string
		metricsAddr     string
		redisAddr       string
		checkpointEvery int
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run a query over JSON-lines event files, one pipeline per file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			if len(inputs) == 0 {
				return fmt.Errorf("at least one --input is required")
			}
			logger := logging.NewLogger().Named("run")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, logger)

			v := chronoflow.GetVersion()
			metrics.BuildInfo.WithLabelValues(v.Version, v.Platform).Set(1)

			gc, err := pipeline.LoadConfig(configFile, func(err error) {
				logger.Errorw("Failed to reload configuration", zap.Error(err))
			})
			if err != nil {
				return err
			}
			cfg := gc.Get()
			logger.Infow("Configuration loaded", zap.String("name", cfg.Name), zap.String("window", cfg.Window.Kind))

			if metricsAddr != "" {
				shutdown, err := metrics.NewMetricsServer(metrics.WithAddr(metricsAddr)).Start(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.Background()) }()
			}

			var opts []pipeline.Option
			if redisAddr != "" {
				store := checkpoint.NewRedisStore(&redis.UniversalOptions{Addrs: []string{redisAddr}}, checkpoint.WithKeyPrefix(CLIName+":"+cfg.Name+":"))
				defer store.Close()
				opts = append(opts, pipeline.WithCheckpoints(store, checkpointEvery))
			}

			var jobs []pipeline.Job
			for _, path := range inputs {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input, %w", err)
				}
				defer f.Close()
				jobs = append(jobs, pipeline.Job{Name: filepath.Base(path), Config: cfg, Input: f})
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			pool := batch.NewPool[string, float64](cfg.BatchCapacity)
			runner := pipeline.NewRunner(pool, func(pipeline.Job) operator.Observer[string, float64] {
				return pipeline.NewJSONSink(out, &mu)
			}, opts...)
			if err = runner.Run(ctx, jobs...); err != nil {
				logger.Errorw("Query failed", zap.Error(err))
				return err
			}
			logger.Infow("Query completed", zap.Int("inputs", len(inputs)))
			return nil
		},
	}
	command.Flags().StringVarP(&configFile, "config", "c", "", "Query configuration file (YAML)")
	command.Flags().StringSliceVarP(&inputs, "input", "i", []string{}, "JSON-lines event file, repeat for independent inputs") // --input=a.jsonl --input=b.jsonl
	command.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	command.Flags().StringVar(&redisAddr, "redis-addr", "", "Keep checkpoints in the redis server at this address")
	command.Flags().IntVar(&checkpointEvery, "checkpoint-every", 10, "Input batches between two checkpoints")
	return command
}
