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

package window

import (
	"fmt"

	"github.com/numaproj/chronoflow/pkg/operator"
	"github.com/numaproj/chronoflow/pkg/temporal"
)

// Kind is the shape of a snapshot window.
type Kind int

const (
	StartEdge Kind = iota
	Tumbling
	Hopping
	Sliding
	PriorityQueue
)

func (k Kind) String() string {
	switch k {
	case StartEdge:
		return "StartEdge"
	case Tumbling:
		return "Tumbling"
	case Hopping:
		return "Hopping"
	case Sliding:
		return "Sliding"
	case PriorityQueue:
		return "PriorityQueue"
	default:
		return "Unknown"
	}
}

// Spec describes the shape of a snapshot window. Size is the window duration and Hop the distance
// between window starts; a zero Size leaves the lifetimes of the input untouched.
type Spec struct {
	Size       int64 `json:"size"`
	Hop        int64 `json:"hop"`
	AppendOnly bool  `json:"appendOnly"`
}

// Classify picks the window kind for the spec.
func (s Spec) Classify() (Kind, error) {
	switch {
	case s.Size == 0:
		if s.AppendOnly {
			return StartEdge, nil
		}
		return PriorityQueue, nil
	case s.Size > 0 && s.Hop == s.Size:
		return Tumbling, nil
	case s.Hop > 0 && s.Hop < s.Size:
		return Hopping, nil
	case s.Size > 0 && s.Hop == 0:
		return Sliding, nil
	default:
		return 0, operator.InvariantErr{Stage: "window", Message: fmt.Sprintf("unsupported window shape, size %d hop %d", s.Size, s.Hop)}
	}
}

// ProgressTime maps the time a stage has reached to the punctuation it may forward: the earliest sync
// time it can still emit at.
func (s Spec) ProgressTime(t int64) int64 {
	kind, err := s.Classify()
	if err != nil || (kind != Tumbling && kind != Hopping) {
		return t
	}
	return EarliestOpenWindow(t, s.Size, s.Hop)
}

// EarliestOpenWindow returns the start of the oldest window of the given size and hop that has not
// ended at t, that is k*hop with k = floor((t-size)/hop)+1.
func EarliestOpenWindow(t, size, hop int64) int64 {
	if t == temporal.InfinitySyncTime {
		return t
	}
	if t < temporal.MinSyncTime+size {
		return temporal.MinSyncTime
	}
	return (temporal.FloorDiv(t-size, hop) + 1) * hop
}

// SessionSpec describes a session window. A session ends Timeout after its last event, and never
// later than the MaximumDuration aligned epoch following its first event. A zero MaximumDuration
// leaves sessions uncapped.
type SessionSpec struct {
	Timeout         int64 `json:"timeout"`
	MaximumDuration int64 `json:"maximumDuration"`
}

// Validate checks the spec.
func (s SessionSpec) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d", s.Timeout)
	}
	if s.MaximumDuration < 0 {
		return fmt.Errorf("session maximum duration must not be negative, got %d", s.MaximumDuration)
	}
	return nil
}

// HardCap returns the latest time a session whose first event is at first may end. The cap is the
// end of the MaximumDuration epoch after the one holding first; a first event exactly on an epoch
// boundary is capped at the end of its own epoch.
func (s SessionSpec) HardCap(first int64) int64 {
	m := s.MaximumDuration
	if m == 0 {
		return temporal.InfinitySyncTime
	}
	mod := first % m
	if mod == 0 {
		return temporal.SaturatingAdd(first-mod, m)
	}
	return temporal.SaturatingAdd(first-mod, 2*m)
}

// Threshold returns the time a session ends given its last event and its hard cap.
func (s SessionSpec) Threshold(last, hardCap int64) int64 {
	return min(temporal.SaturatingAdd(last, s.Timeout), hardCap)
}
