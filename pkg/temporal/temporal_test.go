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

package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		syncTime  int64
		otherTime int64
		want      EventKind
	}{
		{"point", 5, 6, StartEdge},
		{"open interval", 5, InfinitySyncTime, StartEdge},
		{"end edge", 9, 5, EndEdge},
		{"empty", 5, 5, Empty},
		{"punctuation", 10, PunctuationOtherTime, Punctuation},
		{"punctuation at min", MinSyncTime, PunctuationOtherTime, Punctuation},
		{"low watermark", 10, LowWatermarkOtherTime, LowWatermark},
		{"low watermark at min+1", MinSyncTime + 1, LowWatermarkOtherTime, LowWatermark},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.syncTime, tt.otherTime))
		})
	}
	assert.Equal(t, "LowWatermark", LowWatermark.String())
	assert.Equal(t, "Unknown", EventKind(42).String())
}

func TestIsProgress(t *testing.T) {
	assert.True(t, IsProgress(PunctuationOtherTime))
	assert.True(t, IsProgress(LowWatermarkOtherTime))
	assert.False(t, IsProgress(0))
	assert.False(t, IsProgress(InfinitySyncTime))
}

func TestFloorArithmetic(t *testing.T) {
	assert.Equal(t, int64(2), FloorDiv(7, 3))
	assert.Equal(t, int64(-3), FloorDiv(-7, 3))
	assert.Equal(t, int64(-2), FloorDiv(-6, 3))
	assert.Equal(t, int64(1), FloorMod(7, 3))
	assert.Equal(t, int64(2), FloorMod(-7, 3))
	assert.Equal(t, int64(0), FloorMod(-6, 3))
	assert.Equal(t, int64(-10), AlignDown(-1, 10))
	assert.Equal(t, int64(20), AlignDown(29, 10))
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, int64(15), SaturatingAdd(5, 10))
	assert.Equal(t, InfinitySyncTime, SaturatingAdd(MaxSyncTime, 10))
	assert.Equal(t, InfinitySyncTime, SaturatingAdd(InfinitySyncTime, 0))
}
