package whisper

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
)

const (
	// wavHeaderSize is the fixed RIFF/fmt/data header the extractor writes.
	// The extractor always produces canonical 44-byte-header PCM files, so
	// the reader skips the header instead of parsing chunk tables.
	wavHeaderSize = 44

	waveformSampleRate = 16000
)

// ReadWaveform loads a mono 16kHz s16le WAV file produced by the audio
// extractor and returns the samples normalized to [-1, 1].
func ReadWaveform(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidation, "failed to read audio file")
	}
	if len(data) < wavHeaderSize {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("audio file too short: %d bytes", len(data)))
	}

	pcm := data[wavHeaderSize:]
	if len(pcm) < 2 {
		return nil, errors.New(errors.CodeValidation, "audio file contains no samples")
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

// WaveformDuration returns the duration in seconds of a sample slice
// read by ReadWaveform.
func WaveformDuration(samples []float32) float64 {
	return float64(len(samples)) / float64(waveformSampleRate)
}
