package whisper

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/Taichi-iskw/vid-scribe/internal/model"
)

// minSpanSec is the minimum segment span enforced during normalization
const minSpanSec = 0.1

// PostProcessParams holds the tunable thresholds for segment cleanup.
// The defaults are empirically chosen and not known to be optimal, so
// every one of them is surfaced through configuration.
type PostProcessParams struct {
	DedupOverlapRatio float64 // fraction of the shorter unit's duration
	DedupSimilarity   float64 // similarity threshold for merging
	LoopWindow        int     // lookahead window in units
	LoopSimilarity    float64 // similarity threshold for loop matches
	LoopProximitySec  float64 // max gap between a unit's end and a repeat's start
}

// DefaultPostProcessParams returns the standard cleanup thresholds
func DefaultPostProcessParams() PostProcessParams {
	return PostProcessParams{
		DedupOverlapRatio: 0.5,
		DedupSimilarity:   0.8,
		LoopWindow:        4,
		LoopSimilarity:    0.9,
		LoopProximitySec:  5,
	}
}

// PostProcess runs the full cleanup pipeline over raw engine output:
// normalization, deduplication, loop detection (large inputs only) and
// final validation. It returns the surviving segments together with the
// units loop detection dropped, for diagnostics.
func PostProcess(units []Unit, large bool, params PostProcessParams) ([]model.Segment, []model.RemovedUnit) {
	segments := NormalizeUnits(units)
	segments = DeduplicateSegments(segments, params)

	var removed []model.RemovedUnit
	if large {
		segments, removed = DetectLoops(segments, params)
	}

	return ValidateSegments(segments), removed
}

// NormalizeUnits converts raw units into segments with complete bounds.
// A missing start inherits the previous unit's end (zero for the first),
// a missing end becomes start plus one second, and every span is widened
// to at least minSpanSec.
func NormalizeUnits(units []Unit) []model.Segment {
	segments := make([]model.Segment, 0, len(units))
	prevEnd := 0.0

	for _, unit := range units {
		start := prevEnd
		if unit.Timestamp.Start != nil {
			start = *unit.Timestamp.Start
		}

		end := start + 1.0
		if unit.Timestamp.End != nil {
			end = *unit.Timestamp.End
		}
		if end < start+minSpanSec {
			end = start + minSpanSec
		}

		confidence := 1.0
		if unit.Confidence != nil {
			confidence = *unit.Confidence
		}

		segments = append(segments, model.Segment{
			Start:      start,
			End:        end,
			Text:       strings.TrimSpace(unit.Text),
			Confidence: confidence,
		})
		prevEnd = end
	}

	return segments
}

// DeduplicateSegments sorts segments by start time and merges each
// candidate into the last accepted segment when their spans overlap by
// more than DedupOverlapRatio of the shorter duration and their texts
// are similar. A merge keeps the longer text, the maximum confidence
// and the union of the two spans.
func DeduplicateSegments(segments []model.Segment, params PostProcessParams) []model.Segment {
	if len(segments) == 0 {
		return segments
	}

	sorted := make([]model.Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	result := make([]model.Segment, 0, len(sorted))
	result = append(result, sorted[0])

	for _, candidate := range sorted[1:] {
		last := &result[len(result)-1]

		overlap := math.Min(last.End, candidate.End) - math.Max(last.Start, candidate.Start)
		shorter := math.Min(last.Duration(), candidate.Duration())

		if overlap > params.DedupOverlapRatio*shorter && Similarity(last.Text, candidate.Text) >= params.DedupSimilarity {
			if len(candidate.Text) > len(last.Text) {
				last.Text = candidate.Text
			}
			last.Confidence = math.Max(last.Confidence, candidate.Confidence)
			last.Start = math.Min(last.Start, candidate.Start)
			last.End = math.Max(last.End, candidate.End)
			continue
		}

		result = append(result, candidate)
	}

	return result
}

// DetectLoops removes repetition loops characteristic of long-form
// inference. For each unit it scans up to LoopWindow following units;
// when at least two of them repeat the unit's text with LoopSimilarity
// or better and start within LoopProximitySec of the unit's end, every
// repeat is dropped and recorded, keeping only the first occurrence.
func DetectLoops(segments []model.Segment, params PostProcessParams) ([]model.Segment, []model.RemovedUnit) {
	if len(segments) == 0 || params.LoopWindow <= 0 {
		return segments, nil
	}

	dropped := make([]bool, len(segments))
	var removed []model.RemovedUnit

	for i := range segments {
		if dropped[i] {
			continue
		}

		var matches []int
		for j := i + 1; j <= i+params.LoopWindow && j < len(segments); j++ {
			if dropped[j] {
				continue
			}
			if Similarity(segments[i].Text, segments[j].Text) < params.LoopSimilarity {
				continue
			}
			if math.Abs(segments[j].Start-segments[i].End) > params.LoopProximitySec {
				continue
			}
			matches = append(matches, j)
		}

		if len(matches) < 2 {
			continue
		}
		for _, j := range matches {
			dropped[j] = true
			removed = append(removed, model.RemovedUnit{
				Index: j,
				Start: segments[j].Start,
				End:   segments[j].End,
				Text:  segments[j].Text,
			})
		}
	}

	kept := make([]model.Segment, 0, len(segments))
	for i, segment := range segments {
		if !dropped[i] {
			kept = append(kept, segment)
		}
	}
	return kept, removed
}

// ValidateSegments drops segments with non-finite times, end not after
// start, or empty text, and clamps confidence into [0,1].
func ValidateSegments(segments []model.Segment) []model.Segment {
	valid := make([]model.Segment, 0, len(segments))

	for _, segment := range segments {
		if !isFinite(segment.Start) || !isFinite(segment.End) || !isFinite(segment.Confidence) {
			continue
		}
		if segment.End <= segment.Start {
			continue
		}
		if strings.TrimSpace(segment.Text) == "" {
			continue
		}

		segment.Confidence = math.Max(0, math.Min(1, segment.Confidence))
		valid = append(valid, segment)
	}

	return valid
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// shortTextLimit is the length below which substring containment counts
// as a match instead of token comparison
const shortTextLimit = 10

// closeLengthRatio is the token-count ratio above which positional
// order agreement is blended into the Jaccard score
const closeLengthRatio = 0.8

// Similarity scores how alike two texts are on a [0,1] scale. Exact
// matches score 1. Short strings fall back to substring containment.
// Longer strings are tokenized and compared with Jaccard similarity
// over token sets, blended 70/30 with positional order agreement when
// the token counts are close.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	if len(a) < shortTextLimit || len(b) < shortTextLimit {
		if strings.Contains(a, b) || strings.Contains(b, a) {
			return 1.0
		}
		return 0.0
	}

	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	score := jaccard(tokensA, tokensB)

	shorter := math.Min(float64(len(tokensA)), float64(len(tokensB)))
	longer := math.Max(float64(len(tokensA)), float64(len(tokensB)))
	if shorter/longer >= closeLengthRatio {
		score = 0.7*score + 0.3*orderAgreement(tokensA, tokensB)
	}

	return score
}

// tokenize strips punctuation and splits on whitespace; input is
// already lowercased by Similarity
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, text)
	return strings.Fields(cleaned)
}

// jaccard computes set intersection over set union of the two token lists
func jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, token := range a {
		setA[token] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, token := range b {
		setB[token] = struct{}{}
	}

	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// orderAgreement is the fraction of positions at which the two token
// lists carry the same token, normalized by the longer list
func orderAgreement(a, b []string) float64 {
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 0.0
	}

	matches := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(longer)
}
