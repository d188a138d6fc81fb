package whisper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }

func TestAdaptiveParams_Resolve(t *testing.T) {
	params := DefaultAdaptiveParams()

	tests := []struct {
		name      string
		opts      Options
		sizeBytes int64
		want      ResolvedOptions
	}{
		{
			name:      "small input uses standard defaults",
			opts:      Options{Language: "en"},
			sizeBytes: 1024,
			want: ResolvedOptions{
				Language:            "en",
				ChunkLengthSec:      30,
				StrideLengthSec:     5,
				ConditionOnPrevious: true,
				MaxNewTokens:        224,
				LargeInput:          false,
			},
		},
		{
			name:      "large input uses tighter defaults",
			opts:      Options{},
			sizeBytes: params.LargeInputThresholdBytes + 1,
			want: ResolvedOptions{
				ChunkLengthSec:      20,
				StrideLengthSec:     2,
				ConditionOnPrevious: false,
				MaxNewTokens:        224,
				LargeInput:          true,
			},
		},
		{
			name:      "exactly at threshold is not large",
			opts:      Options{},
			sizeBytes: params.LargeInputThresholdBytes,
			want: ResolvedOptions{
				ChunkLengthSec:      30,
				StrideLengthSec:     5,
				ConditionOnPrevious: true,
				MaxNewTokens:        224,
				LargeInput:          false,
			},
		},
		{
			name: "caller overrides survive large classification",
			opts: Options{
				ChunkLengthSec:      15,
				StrideLengthSec:     3,
				ConditionOnPrevious: boolPtr(true),
				MaxNewTokens:        100,
			},
			sizeBytes: params.LargeInputThresholdBytes * 2,
			want: ResolvedOptions{
				ChunkLengthSec:      15,
				StrideLengthSec:     3,
				ConditionOnPrevious: true,
				MaxNewTokens:        100,
				LargeInput:          true,
			},
		},
		{
			name:      "explicit conditioning off stays off for small input",
			opts:      Options{ConditionOnPrevious: boolPtr(false)},
			sizeBytes: 1024,
			want: ResolvedOptions{
				ChunkLengthSec:      30,
				StrideLengthSec:     5,
				ConditionOnPrevious: false,
				MaxNewTokens:        224,
				LargeInput:          false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := params.Resolve(tt.opts, tt.sizeBytes)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultAdaptiveParams(t *testing.T) {
	params := DefaultAdaptiveParams()

	assert.Equal(t, int64(10*1024*1024), params.LargeInputThresholdBytes)
	assert.Equal(t, 30.0, params.ChunkLengthSec)
	assert.Equal(t, 5.0, params.StrideLengthSec)
	assert.Equal(t, 20.0, params.LargeChunkLengthSec)
	assert.Equal(t, 2.0, params.LargeStrideLengthSec)
	assert.Equal(t, 224, params.MaxNewTokens)
}
