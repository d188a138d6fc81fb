package whisper

// Options control one transcription run. Zero values select adaptive
// defaults derived from the input size classification.
type Options struct {
	Language            string
	ChunkLengthSec      float64 // 0 selects the adaptive default
	StrideLengthSec     float64 // 0 selects the adaptive default
	ConditionOnPrevious *bool   // nil selects the adaptive default
	MaxNewTokens        int     // 0 selects the adaptive default
}

// ResolvedOptions are fully decided parameters sent to the engine
type ResolvedOptions struct {
	Language            string  `json:"language"`
	ChunkLengthSec      float64 `json:"chunk_length"`
	StrideLengthSec     float64 `json:"stride_length"`
	ConditionOnPrevious bool    `json:"condition_on_previous"`
	MaxNewTokens        int     `json:"max_new_tokens"`
	LargeInput          bool    `json:"-"`
}

// AdaptiveParams carry the per-class chunking defaults and the size
// threshold separating the classes. Values come from configuration.
type AdaptiveParams struct {
	LargeInputThresholdBytes int64
	ChunkLengthSec           float64
	StrideLengthSec          float64
	LargeChunkLengthSec      float64
	LargeStrideLengthSec     float64
	MaxNewTokens             int
}

// DefaultAdaptiveParams mirror the configuration defaults
func DefaultAdaptiveParams() AdaptiveParams {
	return AdaptiveParams{
		LargeInputThresholdBytes: 10 * 1024 * 1024,
		ChunkLengthSec:           30,
		StrideLengthSec:          5,
		LargeChunkLengthSec:      20,
		LargeStrideLengthSec:     2,
		MaxNewTokens:             224,
	}
}

// Resolve classifies the input by size and fills every unset option with
// the adaptive default for that class. Large inputs get shorter chunks,
// a tighter stride, and no conditioning on previous text; the token cap
// bounds runaway generation for both classes.
func (p AdaptiveParams) Resolve(opts Options, sizeBytes int64) ResolvedOptions {
	large := sizeBytes > p.LargeInputThresholdBytes

	resolved := ResolvedOptions{
		Language:   opts.Language,
		LargeInput: large,
	}

	resolved.ChunkLengthSec = opts.ChunkLengthSec
	if resolved.ChunkLengthSec == 0 {
		if large {
			resolved.ChunkLengthSec = p.LargeChunkLengthSec
		} else {
			resolved.ChunkLengthSec = p.ChunkLengthSec
		}
	}

	resolved.StrideLengthSec = opts.StrideLengthSec
	if resolved.StrideLengthSec == 0 {
		if large {
			resolved.StrideLengthSec = p.LargeStrideLengthSec
		} else {
			resolved.StrideLengthSec = p.StrideLengthSec
		}
	}

	if opts.ConditionOnPrevious != nil {
		resolved.ConditionOnPrevious = *opts.ConditionOnPrevious
	} else {
		resolved.ConditionOnPrevious = !large
	}

	resolved.MaxNewTokens = opts.MaxNewTokens
	if resolved.MaxNewTokens == 0 {
		resolved.MaxNewTokens = p.MaxNewTokens
	}

	return resolved
}
