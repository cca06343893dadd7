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
	"sync"

	"github.com/goccy/go-json"

	"github.com/numaproj/chronoflow/pkg/batch"
	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/shared/keys"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Event kinds of the JSON-lines input.
const (
	EventData         = "data"
	EventPunctuation  = "punctuation"
	EventLowWatermark = "watermark"
)

// Event is one line of an input file. A data event without End is an open start edge; a
// punctuation with a Key is scoped to that key.
type Event struct {
	Kind  string  `json:"kind,omitempty"`
	Time  int64   `json:"time"`
	End   *int64  `json:"end,omitempty"`
	Key   string  `json:"key,omitempty"`
	Value float64 `json:"value,omitempty"`
}

var stringKeys = keys.String{}

func (e Event) add(b *batch.Batch[string, float64]) error {
	switch e.Kind {
	case "", EventData:
		other := temporal.InfinitySyncTime
		if e.End != nil {
			other = *e.End
		}
		b.Add(e.Time, other, e.Key, e.Value, stringKeys.Hash(e.Key))
	case EventPunctuation:
		if e.Key == "" {
			b.AddPunctuation(e.Time)
		} else {
			b.AddKeyedPunctuation(e.Time, e.Key, stringKeys.Hash(e.Key))
		}
	case EventLowWatermark:
		b.AddLowWatermark(e.Time)
	default:
		return fmt.Errorf("unsupported event kind %q", e.Kind)
	}
	return nil
}

// Source decodes JSON-lines events into pooled batches.
type Source struct {
	dec  *json.Decoder
	pool *batch.Pool[string, float64]
	// offset is the number of events read so far
	offset int64
}

// NewSource returns a Source reading r.
func NewSource(r io.Reader, pool *batch.Pool[string, float64]) *Source {
	return &Source{dec: json.NewDecoder(r), pool: pool}
}

// Offset returns the number of events decoded.
func (s *Source) Offset() int64 {
	return s.offset
}

// Skip discards the next n events.
func (s *Source) Skip(n int64) error {
	for ; n > 0; n-- {
		var e Event
		if err := s.dec.Decode(&e); err != nil {
			return fmt.Errorf("failed to skip event %d, %w", s.offset, err)
		}
		s.offset++
	}
	return nil
}

// Next returns the next batch, sealed, or io.EOF once the input is exhausted.
func (s *Source) Next() (*batch.Batch[string, float64], error) {
	b := s.pool.Get()
	for !b.IsFull() {
		var e Event
		err := s.dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			err = e.add(b)
		}
		if err != nil {
			b.Free()
			return nil, fmt.Errorf("failed to decode event %d, %w", s.offset, err)
		}
		s.offset++
	}
	if b.Count == 0 {
		b.Free()
		return nil, io.EOF
	}
	b.Seal()
	return b, nil
}

// record is the JSON form of an output row.
type record struct {
	Kind  string  `json:"kind"`
	Sync  int64   `json:"sync"`
	Other *int64  `json:"other,omitempty"`
	Key   string  `json:"key,omitempty"`
	Value float64 `json:"value"`
}

// NewJSONSink returns a sink writing each row as a JSON line to w. Writes are serialised so the
// sinks of concurrent pipelines can share w.
func NewJSONSink(w io.Writer, mu *sync.Mutex) *operator.FuncSink[string, float64] {
	enc := json.NewEncoder(w)
	return operator.NewFuncSink(func(row batch.Row[string, float64]) error {
		kind := row.Kind()
		r := record{Kind: kind.String(), Sync: row.SyncTime, Key: row.Key, Value: row.Payload}
		if kind == temporal.StartEdge || kind == temporal.EndEdge {
			other := row.OtherTime
			r.Other = &other
		}
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(r)
	})
}

func feed(ctx context.Context, src *Source, head operator.Observer[string, float64], every int, checkpoint func() error) error {
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := src.Next()
		if errors.Is(err, io.EOF) {
			return head.OnCompleted()
		}
		if err != nil {
			return err
		}
		if err = head.OnNext(b); err != nil {
			return err
		}
		batches++
		if every > 0 && batches%every == 0 {
			if err = checkpoint(); err != nil {
				return err
			}
		}
	}
}
