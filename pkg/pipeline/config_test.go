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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Config{}},
		{name: "tumbling", cfg: Config{Window: WindowConfig{Size: 10, Hop: 10}, Aggregate: "count"}},
		{name: "bad shape", cfg: Config{Window: WindowConfig{Size: 5, Hop: 10}}, wantErr: "unsupported window shape"},
		{name: "bad aggregate", cfg: Config{Aggregate: "median"}, wantErr: "unsupported aggregate"},
		{name: "session", cfg: Config{Window: WindowConfig{Kind: WindowSession, Timeout: 5}, Partitioned: true}},
		{name: "session without timeout", cfg: Config{Window: WindowConfig{Kind: WindowSession}}, wantErr: "timeout must be positive"},
		{name: "partitioned stateless session", cfg: Config{Window: WindowConfig{Kind: WindowStatelessSession, Timeout: 5}, Partitioned: true}, wantErr: "stateless sessions"},
		{name: "unknown kind", cfg: Config{Window: WindowConfig{Kind: "global"}}, wantErr: "unsupported window kind"},
		{name: "group by", cfg: Config{GroupBy: &GroupByConfig{Bucket: 10}}},
		{name: "zero bucket", cfg: Config{GroupBy: &GroupByConfig{}}, wantErr: "bucket must be positive"},
		{name: "partitioned group by", cfg: Config{GroupBy: &GroupByConfig{Bucket: 1}, Partitioned: true}, wantErr: "partitioned"},
		{name: "negative capacity", cfg: Config{BatchCapacity: -1}, wantErr: "batch capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, "default", c.Name)
	assert.Equal(t, DefaultBatchCapacity, c.BatchCapacity)
	assert.Equal(t, WindowSnapshot, c.Window.Kind)
}

const configYAML = `
name: clicks
batchCapacity: 16
aggregate: sum
window:
  size: 10
  hop: 5
groupBy:
  bucket: 2.5
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	g, err := LoadConfig(path, func(error) {})
	require.NoError(t, err)
	c := g.Get()
	assert.Equal(t, "clicks", c.Name)
	assert.Equal(t, 16, c.BatchCapacity)
	assert.Equal(t, WindowConfig{Kind: WindowSnapshot, Size: 10, Hop: 5}, c.Window)
	require.NotNil(t, c.GroupBy)
	assert.Equal(t, 2.5, c.GroupBy.Bucket)

	require.NoError(t, os.WriteFile(path, []byte("name: clicks\nwindow:\n  kind: session\n  timeout: 3\n"), 0o644))
	assert.Eventually(t, func() bool {
		return g.Get().Window.Kind == WindowSession
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(3), g.Get().Window.Timeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"), func(error) {})
	assert.Error(t, err)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window:\n  size: 3\n  hop: 7\n"), 0o644))
	_, err = LoadConfig(path, func(error) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestGlobalConfig(t *testing.T) {
	g := NewGlobalConfig(Config{Name: "q"})
	assert.Equal(t, "q", g.Get().Name)
	assert.Equal(t, DefaultBatchCapacity, g.Get().BatchCapacity)
}
