package whisper

import (
	"encoding/json"
	"fmt"
)

// Timestamp is the possibly-partial time span attached to a raw unit.
// Engines disagree about the wire shape: a [start, end] pair (either
// element possibly null), an object with start/end fields, a bare scalar
// meaning start-only, or nothing at all. All shapes decode into the same
// two optional bounds; NormalizeUnits fills in whatever is missing.
type Timestamp struct {
	Start *float64
	End   *float64
}

// UnmarshalJSON accepts every timestamp shape the engines produce
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Start = nil
	t.End = nil

	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	switch data[0] {
	case '[':
		var pair []*float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("invalid timestamp pair: %w", err)
		}
		if len(pair) > 0 {
			t.Start = pair[0]
		}
		if len(pair) > 1 {
			t.End = pair[1]
		}
		return nil

	case '{':
		var obj struct {
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("invalid timestamp object: %w", err)
		}
		t.Start = obj.Start
		t.End = obj.End
		return nil

	default:
		var scalar float64
		if err := json.Unmarshal(data, &scalar); err != nil {
			return fmt.Errorf("invalid timestamp scalar: %w", err)
		}
		t.Start = &scalar
		return nil
	}
}

// MarshalJSON emits the canonical pair form
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*float64{t.Start, t.End})
}

// Unit is one raw transcription unit as reported by the engine
type Unit struct {
	Text       string    `json:"text"`
	Timestamp  Timestamp `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}
