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
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/numaproj/chronoflow/pkg/aggregate"
	"github.com/numaproj/chronoflow/pkg/window"
)

// DefaultBatchCapacity is the number of rows of a pooled batch unless configured otherwise.
const DefaultBatchCapacity = 80000

// Window kinds accepted in the configuration.
const (
	WindowSnapshot         = "snapshot"
	WindowSession          = "session"
	WindowStatelessSession = "stateless-session"
)

// Config describes one query: how events are grouped, windowed and aggregated.
type Config struct {
	Name          string         `json:"name"`
	BatchCapacity int            `json:"batchCapacity"`
	Window        WindowConfig   `json:"window"`
	Aggregate     string         `json:"aggregate"`
	Partitioned   bool           `json:"partitioned"`
	GroupBy       *GroupByConfig `json:"groupBy"`
}

type WindowConfig struct {
	// Kind is one of snapshot, session and stateless-session. Empty means snapshot.
	Kind            string `json:"kind"`
	Size            int64  `json:"size"`
	Hop             int64  `json:"hop"`
	AppendOnly      bool   `json:"appendOnly"`
	Timeout         int64  `json:"timeout"`
	MaximumDuration int64  `json:"maximumDuration"`
}

// GroupByConfig regroups events by the bucket their value falls into.
type GroupByConfig struct {
	Bucket float64 `json:"bucket"`
}

// Spec returns the snapshot window shape.
func (w WindowConfig) Spec() window.Spec {
	return window.Spec{Size: w.Size, Hop: w.Hop, AppendOnly: w.AppendOnly}
}

// SessionSpec returns the session window shape.
func (w WindowConfig) SessionSpec() window.SessionSpec {
	return window.SessionSpec{Timeout: w.Timeout, MaximumDuration: w.MaximumDuration}
}

// WithDefaults returns a copy of c with the unset fields defaulted.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.BatchCapacity == 0 {
		c.BatchCapacity = DefaultBatchCapacity
	}
	if c.Window.Kind == "" {
		c.Window.Kind = WindowSnapshot
	}
	return c
}

// Validate checks that a pipeline can be built from c.
func (c Config) Validate() error {
	if c.BatchCapacity <= 0 {
		return fmt.Errorf("batch capacity must be positive, got %d", c.BatchCapacity)
	}
	if c.GroupBy != nil {
		if c.GroupBy.Bucket <= 0 {
			return fmt.Errorf("group by bucket must be positive, got %v", c.GroupBy.Bucket)
		}
		// regrouping interleaves partitions, the windows downstream would see them out of order
		if c.Partitioned {
			return fmt.Errorf("group by is not supported on partitioned streams")
		}
	}
	switch c.Window.Kind {
	case WindowSnapshot:
		if _, err := c.Window.Spec().Classify(); err != nil {
			return err
		}
		if _, err := aggregate.ByName(c.Aggregate); err != nil {
			return err
		}
	case WindowSession, WindowStatelessSession:
		if err := c.Window.SessionSpec().Validate(); err != nil {
			return err
		}
		if c.Window.Kind == WindowStatelessSession && c.Partitioned {
			return fmt.Errorf("stateless sessions do not support partitioned streams")
		}
	default:
		return fmt.Errorf("unsupported window kind %q", c.Window.Kind)
	}
	return nil
}

// GlobalConfig holds the configuration loaded from a file. A reload replaces it as a whole and
// applies to the pipelines built afterwards.
type GlobalConfig struct {
	conf *Config
	lock *sync.RWMutex
}

// NewGlobalConfig wraps an already built configuration.
func NewGlobalConfig(c Config) *GlobalConfig {
	c = c.WithDefaults()
	return &GlobalConfig{conf: &c, lock: new(sync.RWMutex)}
}

// Get returns the current configuration.
func (g *GlobalConfig) Get() Config {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return *g.conf
}

func (g *GlobalConfig) set(c *Config) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.conf = c
}

func readConfig(v *viper.Viper) (*Config, error) {
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	*conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration. %w", err)
	}
	return conf, nil
}

// LoadConfig reads the YAML file at path and watches it. An invalid reload is reported to
// onErrorReloading and leaves the previous configuration in place.
func LoadConfig(path string, onErrorReloading func(error)) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Dir(path))
	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	conf, err := readConfig(v)
	if err != nil {
		return nil, err
	}
	r := &GlobalConfig{
		conf: conf,
		lock: new(sync.RWMutex),
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := readConfig(v)
		if err != nil {
			onErrorReloading(err)
			return
		}
		r.set(cf)
	})
	return r, nil
}
