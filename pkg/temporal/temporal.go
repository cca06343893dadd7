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

// Package temporal defines the time sentinels shared by every stage and the helpers that classify
// a row by its (syncTime, otherTime) pair. The sentinel values are part of the contract between
// stages and must not change.
package temporal

import "math"

const (
	// MinSyncTime is the smallest sync time a row can carry.
	MinSyncTime int64 = math.MinInt64
	// MaxSyncTime is the largest sync time a data row can carry.
	MaxSyncTime int64 = math.MaxInt64 - 1
	// InfinitySyncTime marks the end of an open interval.
	InfinitySyncTime int64 = math.MaxInt64
	// PunctuationOtherTime is the otherTime of a punctuation row.
	PunctuationOtherTime int64 = math.MinInt64
	// LowWatermarkOtherTime is the otherTime of a low watermark row on a partitioned stream.
	LowWatermarkOtherTime int64 = math.MinInt64 + 1
)

// EventKind is the category of a row derived from its timestamps.
type EventKind int

const (
	// StartEdge opens an interval at syncTime; otherTime is its known end.
	StartEdge EventKind = iota
	// EndEdge closes an interval that started at otherTime.
	EndEdge
	// Empty is a zero length interval, it carries no information.
	Empty
	// Punctuation advances the logical clock without carrying data.
	Punctuation
	// LowWatermark advances the clock of every partition.
	LowWatermark
)

func (k EventKind) String() string {
	switch k {
	case StartEdge:
		return "StartEdge"
	case EndEdge:
		return "EndEdge"
	case Empty:
		return "Empty"
	case Punctuation:
		return "Punctuation"
	case LowWatermark:
		return "LowWatermark"
	default:
		return "Unknown"
	}
}

// Classify returns the kind of the row with the given timestamps.
func Classify(syncTime, otherTime int64) EventKind {
	switch {
	case otherTime == PunctuationOtherTime:
		return Punctuation
	case otherTime == LowWatermarkOtherTime:
		return LowWatermark
	case syncTime < otherTime:
		return StartEdge
	case syncTime > otherTime:
		return EndEdge
	default:
		return Empty
	}
}

// IsProgress reports whether otherTime marks a punctuation or a low watermark.
func IsProgress(otherTime int64) bool {
	return otherTime == PunctuationOtherTime || otherTime == LowWatermarkOtherTime
}

// FloorDiv returns floor(a/b) for b > 0.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}

// FloorMod returns a - FloorDiv(a, b)*b, always in [0, b) for b > 0.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// AlignDown returns the largest multiple of period that is <= t.
func AlignDown(t, period int64) int64 {
	return FloorDiv(t, period) * period
}

// SaturatingAdd returns a+b clamped to InfinitySyncTime. b must not be negative.
func SaturatingAdd(a, b int64) int64 {
	if a > InfinitySyncTime-b {
		return InfinitySyncTime
	}
	return a + b
}
