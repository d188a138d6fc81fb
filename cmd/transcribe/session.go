package transcribe

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/config"
	"github.com/Taichi-iskw/vid-scribe/internal/logging"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/segment"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/video"
	"github.com/Taichi-iskw/vid-scribe/internal/service/audio"
	"github.com/Taichi-iskw/vid-scribe/internal/service/events"
	"github.com/Taichi-iskw/vid-scribe/internal/service/pipeline"
	"github.com/Taichi-iskw/vid-scribe/internal/service/queue"
	"github.com/Taichi-iskw/vid-scribe/internal/service/whisper"
)

// eventBuffer sizes both the bus history and the subscriber channel
const eventBuffer = 256

// overrides are flag-level adjustments applied on top of configuration
type overrides struct {
	model       string
	language    string
	diagnostics bool
}

// session bundles the in-process pipeline a transcribe command drives
type session struct {
	logger *logrus.Logger
	pool   *pgxpool.Pool
	videos video.Repository
	bridge whisper.Bridge
	bus    *events.Bus
	queue  queue.Queue
}

// opener builds a session once flags are parsed (swapped out in tests)
type opener func(ctx context.Context, ov overrides) (*session, error)

// openSession wires the full pipeline from configuration: repositories,
// audio extractor, transcription bridge, orchestrator and job queue.
func openSession(ctx context.Context, ov overrides) (*session, error) {
	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel)

	// Create database connection
	dbPool, err := config.NewDatabasePool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Create repositories
	videoRepo := video.NewRepository(dbPool)
	segmentRepo := segment.NewRepository(dbPool)

	// Create audio extractor and transcription bridge
	extractor := audio.NewExtractor(logger)
	bridge := whisper.NewBridge(bridgeConfig(cfg, ov), logger)

	// Create orchestrator and queue
	orch := pipeline.NewOrchestrator(pipelineConfig(cfg, ov), videoRepo, segmentRepo, extractor, bridge, logger)
	bus := events.NewBus(eventBuffer)
	jobQueue := queue.NewQueue(orch, bus, logger)

	return &session{
		logger: logger,
		pool:   dbPool,
		videos: videoRepo,
		bridge: bridge,
		bus:    bus,
		queue:  jobQueue,
	}, nil
}

// bridgeConfig maps configuration and flag overrides onto bridge settings
func bridgeConfig(cfg *config.Config, ov overrides) whisper.BridgeConfig {
	bc := whisper.BridgeConfig{
		Model:         cfg.Whisper.Model,
		FallbackModel: cfg.Whisper.FallbackModel,
		Language:      cfg.Whisper.Language,
		PythonPath:    cfg.Whisper.PythonPath,
		LoadTimeout:   cfg.Whisper.LoadTimeout(),
		RunTimeout:    cfg.Whisper.RunTimeout(),
		Adaptive: whisper.AdaptiveParams{
			LargeInputThresholdBytes: cfg.Pipeline.LargeFileThresholdBytes(),
			ChunkLengthSec:           cfg.Pipeline.ChunkLengthSec,
			StrideLengthSec:          cfg.Pipeline.StrideLengthSec,
			LargeChunkLengthSec:      cfg.Pipeline.LargeChunkLengthSec,
			LargeStrideLengthSec:     cfg.Pipeline.LargeStrideLengthSec,
			MaxNewTokens:             cfg.Pipeline.MaxNewTokens,
		},
		PostProcess: whisper.PostProcessParams{
			DedupOverlapRatio: cfg.Pipeline.DedupOverlapRatio,
			DedupSimilarity:   cfg.Pipeline.DedupSimilarity,
			LoopWindow:        cfg.Pipeline.LoopWindow,
			LoopSimilarity:    cfg.Pipeline.LoopSimilarity,
			LoopProximitySec:  cfg.Pipeline.LoopProximitySec,
		},
	}

	if ov.model != "" {
		// An explicit model choice must not silently fall back
		bc.Model = ov.model
		bc.FallbackModel = ""
	}
	if ov.language != "" {
		bc.Language = ov.language
	}

	return bc
}

// pipelineConfig decides where waveforms and diagnostics reports go
func pipelineConfig(cfg *config.Config, ov overrides) pipeline.Config {
	diagnosticsDir := cfg.Whisper.DiagnosticsDir
	if diagnosticsDir == "" && ov.diagnostics {
		// Only the flag asked for reports, default next to the config file
		if configPath, err := config.GetConfigPath(); err == nil {
			diagnosticsDir = filepath.Join(filepath.Dir(configPath), "diagnostics")
		}
	}

	return pipeline.Config{
		WorkDir:          cfg.WorkDir,
		DiagnosticsDir:   diagnosticsDir,
		DiagnosticsLimit: cfg.Whisper.DiagnosticsKeep,
	}
}

// close tears the pipeline down: queue first so no job is mid-flight
// when the worker and the pool go away
func (s *session) close() {
	s.queue.Close()
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.logger.Warnf("failed to stop transcription worker: %v", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
