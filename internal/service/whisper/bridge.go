package whisper

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/service/common"
)

// BridgeConfig holds the model selection, timeouts and tuning thresholds
// for the transcription bridge
type BridgeConfig struct {
	Model         string
	FallbackModel string
	Language      string
	PythonPath    string
	LoadTimeout   time.Duration
	RunTimeout    time.Duration
	Adaptive      AdaptiveParams
	PostProcess   PostProcessParams
}

// DefaultBridgeConfig returns the standard bridge settings
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Model:         "small",
		FallbackModel: "base",
		Language:      "auto",
		PythonPath:    "python3",
		LoadTimeout:   180 * time.Second,
		RunTimeout:    600 * time.Second,
		Adaptive:      DefaultAdaptiveParams(),
		PostProcess:   DefaultPostProcessParams(),
	}
}

// Result is a finished transcription: cleaned segments plus the audit
// trail of how they were produced
type Result struct {
	Segments    []model.Segment
	Diagnostics model.RunDiagnostics
}

// Bridge serializes access to the single resident transcription worker.
// The worker and its model are created lazily on first use and reused
// across calls; no two transcriptions ever run concurrently.
type Bridge interface {
	// EnsureModel makes sure the configured model is loaded, falling back
	// once to the configured fallback model on failure.
	EnsureModel(ctx context.Context) error
	// LoadModel loads the named model with the load timeout, no fallback.
	LoadModel(ctx context.Context, name string) error
	// Transcribe runs inference on a waveform file and post-processes the
	// raw units into validated segments.
	Transcribe(ctx context.Context, wavPath string, opts Options, onProgress ProgressFunc) (*Result, error)
	// Close shuts down the worker and its model.
	Close() error
}

type bridge struct {
	mu            sync.Mutex
	cfg           BridgeConfig
	logger        *logrus.Logger
	engineFactory EngineFactory
	worker        *worker
	loadedModel   string
}

// NewBridge creates a Bridge backed by the embedded faster-whisper helper
func NewBridge(cfg BridgeConfig, logger *logrus.Logger) Bridge {
	cmdRunner := common.NewCmdRunner()
	return NewBridgeWithEngineFactory(cfg, logger, func() (Engine, error) {
		return NewFasterWhisperEngine(cmdRunner, cfg.PythonPath, logger)
	})
}

// NewBridgeWithEngineFactory creates a Bridge with a custom engine
// factory (for testing)
func NewBridgeWithEngineFactory(cfg BridgeConfig, logger *logrus.Logger, factory EngineFactory) Bridge {
	return &bridge{
		cfg:           cfg,
		logger:        logger,
		engineFactory: factory,
	}
}

// ensureWorkerLocked restarts the worker if its engine process has died
// and starts one if none is running. Callers hold b.mu.
func (b *bridge) ensureWorkerLocked() error {
	if b.worker != nil && !b.worker.engineAlive() {
		b.logger.Warn("transcription worker died, restarting")
		b.resetLocked()
	}
	if b.worker == nil {
		engine, err := b.engineFactory()
		if err != nil {
			return errors.Wrap(err, errors.CodeModel, "failed to start transcription worker")
		}
		b.worker = startWorker(engine, b.logger)
	}
	return nil
}

// resetLocked tears the worker down and clears the loaded flag so the
// next call starts fresh. Callers hold b.mu.
func (b *bridge) resetLocked() {
	if b.worker != nil {
		b.worker.stop()
		b.worker = nil
	}
	b.loadedModel = ""
}

// loadLocked posts one load request with the load timeout. Callers hold
// b.mu.
func (b *bridge) loadLocked(ctx context.Context, name string) error {
	loadCtx, cancel := context.WithTimeout(ctx, b.cfg.LoadTimeout)
	defer cancel()

	if err := b.worker.loadModel(loadCtx, name); err != nil {
		b.loadedModel = ""
		return err
	}
	b.loadedModel = name
	return nil
}

func (b *bridge) EnsureModel(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureModelLocked(ctx)
}

func (b *bridge) ensureModelLocked(ctx context.Context) error {
	if err := b.ensureWorkerLocked(); err != nil {
		return err
	}
	if b.loadedModel != "" {
		return nil
	}

	err := b.loadLocked(ctx, b.cfg.Model)
	if err == nil {
		return nil
	}
	if errors.IsCancelled(err) {
		return err
	}

	fallback := b.cfg.FallbackModel
	if fallback == "" || fallback == b.cfg.Model {
		return err
	}

	b.logger.Warnf("model %q failed to load, trying fallback %q: %v", b.cfg.Model, fallback, err)
	if werr := b.ensureWorkerLocked(); werr != nil {
		return werr
	}
	return b.loadLocked(ctx, fallback)
}

func (b *bridge) LoadModel(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureWorkerLocked(); err != nil {
		return err
	}
	return b.loadLocked(ctx, name)
}

func (b *bridge) Transcribe(ctx context.Context, wavPath string, opts Options, onProgress ProgressFunc) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureModelLocked(ctx); err != nil {
		return nil, err
	}

	info, err := os.Stat(wavPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidation, "cannot access waveform file")
	}

	resolved := b.cfg.Adaptive.Resolve(opts, info.Size())
	if resolved.Language == "" {
		resolved.Language = b.cfg.Language
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.RunTimeout)
	defer cancel()

	units, err := b.worker.transcribe(runCtx, wavPath, resolved, onProgress)
	if err != nil {
		if b.worker != nil && !b.worker.engineAlive() {
			b.resetLocked()
		}
		return nil, err
	}

	segments, removed := PostProcess(units, resolved.LargeInput, b.cfg.PostProcess)

	return &Result{
		Segments: segments,
		Diagnostics: model.RunDiagnostics{
			LargeInput:      resolved.LargeInput,
			ChunkLengthSec:  resolved.ChunkLengthSec,
			StrideLengthSec: resolved.StrideLengthSec,
			ConditionOnPrev: resolved.ConditionOnPrevious,
			MaxNewTokens:    resolved.MaxNewTokens,
			RawCount:        len(units),
			LoopRemoved:     len(removed),
			FinalCount:      len(segments),
			RemovedSamples:  removed,
		},
	}, nil
}

func (b *bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	return nil
}
