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

package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Values map[string]int `json:"values"`
	Time   int64          `json:"time"`
}

type counter struct {
	state counterState
}

func (c *counter) Checkpoint(enc Encoder) error {
	if err := enc.Encode(c.state); err != nil {
		return err
	}
	return enc.Encode(c.state.Time * 2)
}

func (c *counter) Restore(dec Decoder) error {
	var s counterState
	if err := dec.Decode(&s); err != nil {
		return err
	}
	var doubled int64
	if err := dec.Decode(&doubled); err != nil {
		return err
	}
	s.Time = doubled / 2
	c.state = s
	return nil
}

func TestMarshalRoundTrip(t *testing.T) {
	c := &counter{state: counterState{Values: map[string]int{"a": 1, "b": 2}, Time: 42}}
	data, err := Marshal(c)
	require.NoError(t, err)

	restored := &counter{}
	require.NoError(t, Unmarshal(data, restored))
	assert.Equal(t, c.state, restored.state)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, Save(ctx, s, "one", &counter{state: counterState{Time: 1}}))
	require.NoError(t, Save(ctx, s, "two", &counter{state: counterState{Time: 2}}))
	require.NoError(t, Save(ctx, s, "three", &counter{state: counterState{Time: 3}}))
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(ctx, "one")
	assert.ErrorIs(t, err, ErrNotFound)

	c := &counter{}
	require.NoError(t, Load(ctx, s, "three", c))
	assert.Equal(t, int64(3), c.state.Time)

	require.NoError(t, s.Delete(ctx, "three"))
	assert.ErrorIs(t, Load(ctx, s, "three", c), ErrNotFound)

	_, err = NewMemoryStore(0)
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStore(&redis.UniversalOptions{Addrs: []string{mr.Addr()}}, WithKeyPrefix("test:"))
	defer func() { _ = s.Close() }()

	require.NoError(t, Save(ctx, s, "p1", &counter{state: counterState{Values: map[string]int{"k": 7}, Time: 9}}))
	assert.True(t, mr.Exists("test:p1"))

	c := &counter{}
	require.NoError(t, Load(ctx, s, "p1", c))
	assert.Equal(t, 7, c.state.Values["k"])
	assert.Equal(t, int64(9), c.state.Time)

	require.NoError(t, s.Delete(ctx, "p1"))
	_, err := s.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}
