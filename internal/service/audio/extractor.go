package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/service/common"
)

// Waveform output format expected by the inference engine:
// mono, 16 kHz, signed 16-bit little-endian PCM.
const (
	sampleRate      = 16000
	bytesPerSample  = 2
	bytesPerSecond  = sampleRate * bytesPerSample
	diskHeadroom    = 32 * 1024 * 1024
	stderrTailLimit = 4096
)

// ProgressFunc receives extraction progress as a fraction in [0, 1]
type ProgressFunc func(fraction float64)

// Extractor defines operations for converting media files into waveform audio
type Extractor interface {
	// Probe returns the media duration in seconds using ffprobe
	Probe(ctx context.Context, mediaPath string) (float64, error)
	// Extract converts the media file to a mono 16kHz PCM WAV file in outputDir
	Extract(ctx context.Context, mediaPath string, outputDir string, onProgress ProgressFunc) (string, error)
	// Cleanup removes an extracted waveform file
	Cleanup(wavPath string) error
}

// extractor implements Extractor using ffmpeg/ffprobe
type extractor struct {
	cmdRunner common.CmdRunner
	logger    *logrus.Logger
	diskUsage func(path string) (*disk.UsageStat, error)
}

// NewExtractor creates a new Extractor with default CmdRunner
func NewExtractor(logger *logrus.Logger) Extractor {
	return &extractor{
		cmdRunner: common.NewCmdRunner(),
		logger:    logger,
		diskUsage: disk.Usage,
	}
}

// NewExtractorWithCmdRunner creates a new Extractor with custom CmdRunner (for testing)
func NewExtractorWithCmdRunner(cmdRunner common.CmdRunner, logger *logrus.Logger) Extractor {
	return &extractor{
		cmdRunner: cmdRunner,
		logger:    logger,
		diskUsage: disk.Usage,
	}
}

// Probe returns the media duration in seconds using ffprobe
func (s *extractor) Probe(ctx context.Context, mediaPath string) (float64, error) {
	if mediaPath == "" {
		return 0, errors.New(errors.CodeValidation, "media path is required")
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	}

	out, err := s.cmdRunner.Run(ctx, "ffprobe", args...)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeExtraction, formatFFmpegError(err, mediaPath))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeExtraction, "failed to parse media duration")
	}

	return duration, nil
}

// Extract converts the media file to a mono 16kHz PCM WAV file in outputDir.
// Progress is parsed from ffmpeg's machine-readable output and reported as a
// fraction of the probed duration.
func (s *extractor) Extract(ctx context.Context, mediaPath string, outputDir string, onProgress ProgressFunc) (string, error) {
	// Validate input
	if mediaPath == "" {
		return "", errors.New(errors.CodeValidation, "media path is required")
	}
	if outputDir == "" {
		return "", errors.New(errors.CodeValidation, "output directory is required")
	}

	info, err := os.Stat(mediaPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeValidation, fmt.Sprintf("cannot access media file: %s", mediaPath))
	}
	if info.IsDir() {
		return "", errors.New(errors.CodeValidation, fmt.Sprintf("media path is a directory: %s", mediaPath))
	}

	// Ensure output directory exists
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to create output directory")
	}

	// Duration drives both the disk space estimate and progress reporting.
	// Probe failure is not fatal here; ffmpeg gives the authoritative error.
	duration, probeErr := s.Probe(ctx, mediaPath)
	if probeErr != nil {
		s.logger.WithError(probeErr).WithField("path", mediaPath).Warn("could not probe media duration")
	}

	if err := s.checkDiskSpace(outputDir, duration); err != nil {
		return "", err
	}

	outPath := filepath.Join(outputDir, fmt.Sprintf("audio-%s.wav", uuid.NewString()))
	args := buildFFmpegArgs(mediaPath, outPath)

	s.logger.WithFields(logrus.Fields{
		"input":  mediaPath,
		"output": outPath,
	}).Debug("starting audio extraction")

	proc, err := s.cmdRunner.StartPipe(ctx, "ffmpeg", args...)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExtraction, formatFFmpegError(err, mediaPath))
	}

	// ffmpeg writes key=value progress records to stdout and logs to stderr
	stderrCh := make(chan []byte, 1)
	go func() {
		stderrCh <- readTail(proc.Stderr(), stderrTailLimit)
	}()

	s.consumeProgress(proc.Stdout(), duration, onProgress)

	waitErr := proc.Wait()
	stderrTail := <-stderrCh

	if waitErr != nil {
		_ = os.Remove(outPath)
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", errors.Wrap(ctx.Err(), errors.CodeExtraction, "audio extraction timed out")
			}
			return "", errors.Wrap(ctx.Err(), errors.CodeCancelled, "audio extraction cancelled")
		}
		msg := formatFFmpegError(waitErr, mediaPath)
		if len(stderrTail) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(stderrTail)))
		}
		return "", errors.Wrap(waitErr, errors.CodeExtraction, msg)
	}

	// ffmpeg can exit zero and still produce nothing useful
	outInfo, err := os.Stat(outPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExtraction, "ffmpeg completed but output file is missing")
	}
	if outInfo.Size() == 0 {
		_ = os.Remove(outPath)
		return "", errors.New(errors.CodeExtraction, "ffmpeg completed but output file is empty")
	}

	if onProgress != nil {
		onProgress(1.0)
	}

	return outPath, nil
}

// Cleanup removes an extracted waveform file
func (s *extractor) Cleanup(wavPath string) error {
	if wavPath == "" {
		return nil
	}
	if err := os.Remove(wavPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeInternal, "failed to remove waveform file")
	}
	return nil
}

// checkDiskSpace fails fast when the output volume cannot hold the
// estimated waveform plus headroom
func (s *extractor) checkDiskSpace(outputDir string, duration float64) error {
	usage, err := s.diskUsage(outputDir)
	if err != nil {
		// Disk stats are best-effort; extraction itself will surface real failures
		s.logger.WithError(err).WithField("dir", outputDir).Warn("could not read disk usage")
		return nil
	}

	required := uint64(diskHeadroom)
	if duration > 0 {
		required += uint64(duration * bytesPerSecond)
	}

	if usage.Free < required {
		return errors.New(errors.CodeExtraction,
			fmt.Sprintf("insufficient disk space in %s: need about %d MB, have %d MB free",
				outputDir, required/(1024*1024), usage.Free/(1024*1024)))
	}

	return nil
}

// consumeProgress reads ffmpeg -progress records and forwards fractions.
// Records are key=value lines; out_time_us carries elapsed output time.
func (s *extractor) consumeProgress(r io.Reader, duration float64, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	var last float64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		usec, ok := parseOutTime(line)
		if !ok {
			continue
		}
		if onProgress == nil || duration <= 0 {
			continue
		}

		fraction := (float64(usec) / 1e6) / duration
		if fraction > 1 {
			fraction = 1
		}
		if fraction > last {
			last = fraction
			onProgress(fraction)
		}
	}
}

// parseOutTime extracts microseconds from an out_time_us progress line
func parseOutTime(line string) (int64, bool) {
	const prefix = "out_time_us="
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	usec, err := strconv.ParseInt(strings.TrimPrefix(line, prefix), 10, 64)
	if err != nil || usec < 0 {
		return 0, false
	}
	return usec, true
}

// readTail drains a reader keeping only the trailing limit bytes
func readTail(r io.Reader, limit int) []byte {
	data, _ := io.ReadAll(r)
	if len(data) > limit {
		data = data[len(data)-limit:]
	}
	return data
}

// buildFFmpegArgs builds CLI args for mono 16k PCM WAV output with
// machine-readable progress on stdout
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-progress", "pipe:1",
		outPath,
	}
}

// formatFFmpegError provides user-friendly error messages for ffmpeg failures
func formatFFmpegError(err error, mediaPath string) string {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "executable file not found"):
		return "ffmpeg is not installed or not found in PATH. Please install ffmpeg"
	case strings.Contains(errMsg, "No such file or directory"):
		return fmt.Sprintf("media file not found: %s", filepath.Base(mediaPath))
	case strings.Contains(errMsg, "Invalid data found"):
		return fmt.Sprintf("media file appears corrupted or uses an unsupported format: %s", filepath.Base(mediaPath))
	case strings.Contains(errMsg, "Permission denied"):
		return fmt.Sprintf("permission denied reading media file: %s", filepath.Base(mediaPath))
	default:
		return fmt.Sprintf("audio extraction failed - %s", errMsg)
	}
}
