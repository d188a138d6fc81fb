package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/segment"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/video"
	"github.com/Taichi-iskw/vid-scribe/internal/service/audio"
	"github.com/Taichi-iskw/vid-scribe/internal/service/queue"
	"github.com/Taichi-iskw/vid-scribe/internal/service/whisper"
	"github.com/sirupsen/logrus"
)

// Stage names reported through job progress events
const (
	StageExtraction    = "audio_extraction"
	StageTranscription = "transcription"
	StageStorage       = "storage"
)

// statusUpdateTimeout bounds bookkeeping writes that run after the job
// context is already cancelled or expired
const statusUpdateTimeout = 10 * time.Second

// progressBand maps a stage-local fraction onto the job's overall percentage
type progressBand struct {
	from int
	to   int
}

func (b progressBand) at(fraction float64) int {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return b.from + int(math.Round(fraction*float64(b.to-b.from)))
}

var (
	extractionBand    = progressBand{from: 0, to: 30}
	transcriptionBand = progressBand{from: 30, to: 90}
	storageBand       = progressBand{from: 90, to: 100}
)

// Config carries pipeline-level settings
type Config struct {
	// WorkDir receives intermediate waveform files
	WorkDir string
	// DiagnosticsDir, when set, receives a JSON report per completed run
	DiagnosticsDir string
	// DiagnosticsLimit caps retained reports; zero keeps all
	DiagnosticsLimit int
}

// Orchestrator runs one transcription job end-to-end: waveform extraction,
// model inference, segment storage. It implements the queue's Runner.
type Orchestrator interface {
	Process(ctx context.Context, job model.Job, onProgress queue.ProgressFunc) error
}

type orchestrator struct {
	cfg       Config
	videos    video.Repository
	segments  segment.Repository
	extractor audio.Extractor
	bridge    whisper.Bridge
	logger    *logrus.Logger
}

// NewOrchestrator creates an Orchestrator wired to the given stores and services
func NewOrchestrator(cfg Config, videos video.Repository, segments segment.Repository, extractor audio.Extractor, bridge whisper.Bridge, logger *logrus.Logger) Orchestrator {
	return &orchestrator{
		cfg:       cfg,
		videos:    videos,
		segments:  segments,
		extractor: extractor,
		bridge:    bridge,
		logger:    logger,
	}
}

// Process runs the job's video through extraction, transcription and
// storage. Cancellation puts the video back to pending and discards any
// partial output; every other error marks the video failed.
func (o *orchestrator) Process(ctx context.Context, job model.Job, onProgress queue.ProgressFunc) error {
	report := func(stage string, progress int, message string) {
		if onProgress != nil {
			onProgress(stage, progress, message)
		}
	}

	vid, err := o.videos.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}

	// Transcribing a completed video again replaces the previous run, so
	// its segments go away before any new work starts.
	if vid.Status == model.VideoStatusCompleted {
		if err := o.segments.DeleteByVideoID(ctx, vid.ID); err != nil {
			return o.recordFailure(vid.ID, err)
		}
	}

	if err := o.videos.UpdateStatus(ctx, vid.ID, model.VideoStatusProcessing, nil); err != nil {
		return err
	}

	result, err := o.run(ctx, vid, job, report)
	if err != nil {
		if isCancellation(err) {
			o.revertToPending(vid.ID)
			return err
		}
		return o.recordFailure(vid.ID, err)
	}

	if err := o.videos.UpdateStatus(ctx, vid.ID, model.VideoStatusCompleted, nil); err != nil {
		return o.recordFailure(vid.ID, err)
	}
	report(StageStorage, storageBand.to, "completed")

	o.exportDiagnostics(job, vid, result)
	return nil
}

// run executes the three stages against an already claimed video
func (o *orchestrator) run(ctx context.Context, vid *model.Video, job model.Job, report func(stage string, progress int, message string)) (*whisper.Result, error) {
	mediaPath := job.VideoPath
	if mediaPath == "" {
		mediaPath = vid.Path
	}

	if duration, err := o.extractor.Probe(ctx, mediaPath); err == nil && duration > 0 {
		if err := o.videos.UpdateDuration(ctx, vid.ID, duration); err != nil {
			o.logger.WithError(err).WithField("video_id", vid.ID).Warn("could not store media duration")
		}
	}

	report(StageExtraction, extractionBand.from, "extracting audio")
	wavPath, err := o.extractor.Extract(ctx, mediaPath, o.cfg.WorkDir, func(fraction float64) {
		report(StageExtraction, extractionBand.at(fraction), "extracting audio")
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cleanupErr := o.extractor.Cleanup(wavPath); cleanupErr != nil {
			o.logger.WithError(cleanupErr).WithField("path", wavPath).Warn("could not remove waveform file")
		}
	}()

	report(StageTranscription, transcriptionBand.from, "loading model")
	if err := o.bridge.EnsureModel(ctx); err != nil {
		return nil, err
	}

	result, err := o.bridge.Transcribe(ctx, wavPath, whisper.Options{}, func(stage string, fraction float64, message string) {
		report(StageTranscription, transcriptionBand.at(fraction), message)
	})
	if err != nil {
		return nil, err
	}

	report(StageStorage, storageBand.from, "storing segments")
	if err := o.storeSegments(ctx, vid.ID, result.Segments); err != nil {
		return nil, err
	}

	return result, nil
}

// storeSegments replaces the video's stored transcription wholesale
func (o *orchestrator) storeSegments(ctx context.Context, videoID string, segs []model.Segment) error {
	if err := o.segments.DeleteByVideoID(ctx, videoID); err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}
	rows := make([]*model.Segment, len(segs))
	for i := range segs {
		rows[i] = &segs[i]
	}
	return o.segments.CreateBatch(ctx, videoID, rows)
}

func isCancellation(err error) bool {
	return errors.IsCancelled(err) || stderrors.Is(err, context.Canceled)
}

// revertToPending undoes a cancelled job: the video returns to its
// pre-job state and partial segments are discarded rather than kept.
// Bookkeeping runs on a fresh context; the job's own is already dead.
func (o *orchestrator) revertToPending(videoID string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()

	if err := o.segments.DeleteByVideoID(ctx, videoID); err != nil {
		o.logger.WithError(err).WithField("video_id", videoID).Warn("could not discard partial segments")
	}
	if err := o.videos.UpdateStatus(ctx, videoID, model.VideoStatusPending, nil); err != nil {
		o.logger.WithError(err).WithField("video_id", videoID).Warn("could not reset video status")
	}
}

// recordFailure marks the video failed with the cause's message and
// passes the cause back for the queue to record on the job
func (o *orchestrator) recordFailure(videoID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()

	msg := cause.Error()
	if err := o.videos.UpdateStatus(ctx, videoID, model.VideoStatusFailed, &msg); err != nil {
		o.logger.WithError(err).WithField("video_id", videoID).Warn("could not record video failure")
	}
	return cause
}

// runReport is the diagnostics artifact written after a successful run
type runReport struct {
	JobID        string               `json:"job_id"`
	VideoID      string               `json:"video_id"`
	MediaPath    string               `json:"media_path"`
	GeneratedAt  time.Time            `json:"generated_at"`
	SegmentCount int                  `json:"segment_count"`
	Diagnostics  model.RunDiagnostics `json:"diagnostics"`
}

// exportDiagnostics writes the per-run report when a diagnostics directory
// is configured. Failures here never affect the job outcome.
func (o *orchestrator) exportDiagnostics(job model.Job, vid *model.Video, result *whisper.Result) {
	if o.cfg.DiagnosticsDir == "" {
		return
	}
	if err := os.MkdirAll(o.cfg.DiagnosticsDir, 0755); err != nil {
		o.logger.WithError(err).Warn("could not create diagnostics directory")
		return
	}

	report := runReport{
		JobID:        job.ID,
		VideoID:      vid.ID,
		MediaPath:    vid.Path,
		GeneratedAt:  time.Now().UTC(),
		SegmentCount: len(result.Segments),
		Diagnostics:  result.Diagnostics,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		o.logger.WithError(err).Warn("could not encode diagnostics report")
		return
	}

	path := filepath.Join(o.cfg.DiagnosticsDir, fmt.Sprintf("run-%s.json", job.ID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		o.logger.WithError(err).WithField("path", path).Warn("could not write diagnostics report")
		return
	}

	o.pruneDiagnostics()
}

// pruneDiagnostics keeps the newest reports within the configured limit
func (o *orchestrator) pruneDiagnostics() {
	if o.cfg.DiagnosticsLimit <= 0 {
		return
	}
	entries, err := os.ReadDir(o.cfg.DiagnosticsDir)
	if err != nil {
		return
	}

	type reportFile struct {
		name string
		mod  time.Time
	}
	var reports []reportFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "run-") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		reports = append(reports, reportFile{name: entry.Name(), mod: info.ModTime()})
	}
	if len(reports) <= o.cfg.DiagnosticsLimit {
		return
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].mod.Equal(reports[j].mod) {
			return reports[i].name < reports[j].name
		}
		return reports[i].mod.Before(reports[j].mod)
	})
	for _, r := range reports[:len(reports)-o.cfg.DiagnosticsLimit] {
		if err := os.Remove(filepath.Join(o.cfg.DiagnosticsDir, r.name)); err != nil {
			o.logger.WithError(err).WithField("file", r.name).Warn("could not prune diagnostics report")
		}
	}
}
