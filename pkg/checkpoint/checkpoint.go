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

// Package checkpoint serialises the held state of stages and stores the resulting blobs. Stages
// write their state as one or more JSON values to an Encoder and read them back, in the same order,
// from a Decoder.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by a Store for an unknown checkpoint id.
var ErrNotFound = errors.New("checkpoint not found")

// Encoder writes state values.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads state values in the order they were encoded.
type Decoder interface {
	Decode(v any) error
}

// Checkpointer is implemented by every stage.
type Checkpointer interface {
	// Checkpoint writes the held state. The stage's output must have been flushed.
	Checkpoint(enc Encoder) error
	// Restore replaces the held state with a previously written one.
	Restore(dec Decoder) error
}

// NewEncoder returns an Encoder writing a stream of JSON values to w.
func NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

// NewDecoder returns a Decoder reading a stream of JSON values from r.
func NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

// Marshal checkpoints c into a byte slice.
func Marshal(c Checkpointer) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Checkpoint(NewEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal restores c from data.
func Unmarshal(data []byte, c Checkpointer) error {
	return c.Restore(NewDecoder(bytes.NewReader(data)))
}

// Save checkpoints c and stores it under id.
func Save(ctx context.Context, store Store, id string, c Checkpointer) error {
	data, err := Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to checkpoint %q, %w", id, err)
	}
	if err = store.Put(ctx, id, data); err != nil {
		return fmt.Errorf("failed to store checkpoint %q, %w", id, err)
	}
	return nil
}

// Load restores c from the checkpoint stored under id.
func Load(ctx context.Context, store Store, id string, c Checkpointer) error {
	data, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to restore checkpoint %q, %w", id, err)
	}
	return nil
}
