package whisper

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
)

type requestKind int

const (
	requestLoadModel requestKind = iota
	requestTranscribe
)

type workerRequest struct {
	kind       requestKind
	ctx        context.Context
	model      string
	wavPath    string
	options    ResolvedOptions
	onProgress ProgressFunc
	respCh     chan workerResponse
}

type workerResponse struct {
	units []Unit
	err   error
}

// worker owns the Engine and executes requests one at a time on its own
// goroutine, so model work never runs concurrently and panics inside the
// engine surface as errors instead of crashing the process.
type worker struct {
	engine   Engine
	logger   *logrus.Logger
	requests chan workerRequest
	stopCh   chan struct{}
	done     chan struct{}
}

// startWorker spawns the worker loop; stop shuts it down and closes the
// engine.
func startWorker(engine Engine, logger *logrus.Logger) *worker {
	w := &worker{
		engine:   engine,
		logger:   logger,
		requests: make(chan workerRequest),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.respCh <- w.handle(req)
		case <-w.stopCh:
			w.engine.Close()
			close(w.done)
			return
		}
	}
}

func (w *worker) handle(req workerRequest) (resp workerResponse) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("transcription worker panic: %v", r)
			resp.err = errors.New(errors.CodeInternal, fmt.Sprintf("transcription worker panic: %v", r))
		}
	}()

	switch req.kind {
	case requestLoadModel:
		resp.err = w.engine.LoadModel(req.ctx, req.model)
	case requestTranscribe:
		resp.units, resp.err = w.engine.Transcribe(req.ctx, req.wavPath, req.options, req.onProgress)
	default:
		resp.err = errors.New(errors.CodeInternal, "unknown worker request")
	}
	return resp
}

func (w *worker) submit(req workerRequest) (workerResponse, error) {
	select {
	case w.requests <- req:
	case <-w.done:
		return workerResponse{}, errors.New(errors.CodeInternal, "transcription worker is not running")
	}
	// handle always replies, and the engine honors the request context,
	// so this receive cannot block indefinitely.
	return <-req.respCh, nil
}

func (w *worker) loadModel(ctx context.Context, model string) error {
	resp, err := w.submit(workerRequest{
		kind:   requestLoadModel,
		ctx:    ctx,
		model:  model,
		respCh: make(chan workerResponse, 1),
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeModel, "model load not submitted")
	}
	return resp.err
}

func (w *worker) transcribe(ctx context.Context, wavPath string, opts ResolvedOptions, onProgress ProgressFunc) ([]Unit, error) {
	resp, err := w.submit(workerRequest{
		kind:       requestTranscribe,
		ctx:        ctx,
		wavPath:    wavPath,
		options:    opts,
		onProgress: onProgress,
		respCh:     make(chan workerResponse, 1),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTranscription, "transcription not submitted")
	}
	return resp.units, resp.err
}

// engineAlive reports whether the underlying engine process is usable
func (w *worker) engineAlive() bool {
	return w.engine.Alive()
}

// stop signals the loop to exit and waits for it to close the engine.
// Must not be called twice.
func (w *worker) stop() {
	close(w.stopCh)
	<-w.done
}
