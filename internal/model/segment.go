package model

// Segment is a timestamped span of recognized speech within one video
type Segment struct {
	Start      float64 `json:"start" db:"start_time"` // seconds from the beginning of the video
	End        float64 `json:"end" db:"end_time"`     // seconds, always > Start
	Text       string  `json:"text" db:"text"`
	Confidence float64 `json:"confidence" db:"confidence"` // clamped into [0,1]
}

// Duration returns the span length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// RemovedUnit records one raw unit dropped by loop detection
type RemovedUnit struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// RunDiagnostics is a per-run audit trail of chunking choices and cleanup
// effectiveness. It is written for offline tuning and never required for
// correctness.
type RunDiagnostics struct {
	LargeInput      bool          `json:"large_input"`
	ChunkLengthSec  float64       `json:"chunk_length_seconds"`
	StrideLengthSec float64       `json:"stride_length_seconds"`
	ConditionOnPrev bool          `json:"condition_on_previous_text"`
	MaxNewTokens    int           `json:"max_new_tokens"`
	RawCount        int           `json:"raw_count"`
	LoopRemoved     int           `json:"loop_removed"`
	FinalCount      int           `json:"final_count"`
	RemovedSamples  []RemovedUnit `json:"removed_samples,omitempty"`
}
