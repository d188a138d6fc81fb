package whisper

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/service/common"
)

//go:embed assets/transcribe_worker.py
var workerScript []byte

// ProgressFunc receives progress notifications from the engine. Fraction
// is in [0,1] when the helper can relate elapsed output to total input,
// zero otherwise.
type ProgressFunc func(stage string, fraction float64, message string)

// Engine drives a resident transcription model. Implementations keep the
// model loaded between calls; LoadModel and Transcribe must not be
// invoked concurrently.
type Engine interface {
	LoadModel(ctx context.Context, name string) error
	Transcribe(ctx context.Context, wavPath string, opts ResolvedOptions, onProgress ProgressFunc) ([]Unit, error)
	Alive() bool
	Close() error
}

// EngineFactory creates and starts an Engine
type EngineFactory func() (Engine, error)

const (
	opLoadModel  = "load_model"
	opTranscribe = "transcribe"
	opCancel     = "cancel"

	respModelLoaded = "model_loaded"
	respProgress    = "progress"
	respResult      = "result"
	respError       = "error"

	// result lines can carry thousands of units for long inputs
	maxResponseLine = 32 * 1024 * 1024

	closeGrace = 3 * time.Second
)

type engineRequest struct {
	Op      string           `json:"op"`
	ID      int64            `json:"id"`
	Model   string           `json:"model,omitempty"`
	Path    string           `json:"path,omitempty"`
	Options *ResolvedOptions `json:"options,omitempty"`
}

type engineResponse struct {
	Type     string  `json:"type"`
	ID       int64   `json:"id"`
	Stage    string  `json:"stage,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
	Units    []Unit  `json:"units,omitempty"`
}

// fasterWhisperEngine talks to an embedded Python helper over JSON lines
// on stdin/stdout. The helper keeps the model resident so repeated
// transcriptions skip the load cost.
type fasterWhisperEngine struct {
	logger     *logrus.Logger
	proc       common.PipeProcess
	scriptPath string
	respCh     chan engineResponse
	dead       atomic.Bool
	nextID     int64
}

// NewFasterWhisperEngine writes the embedded helper script to a temp file
// and starts it. The process lives until Close; the given context only
// bounds startup.
func NewFasterWhisperEngine(cmdRunner common.CmdRunner, pythonPath string, logger *logrus.Logger) (Engine, error) {
	script, err := os.CreateTemp("", "vid-scribe-worker-*.py")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModel, "failed to create worker script")
	}
	scriptPath := script.Name()
	if _, err := script.Write(workerScript); err != nil {
		script.Close()
		os.Remove(scriptPath)
		return nil, errors.Wrap(err, errors.CodeModel, "failed to write worker script")
	}
	if err := script.Close(); err != nil {
		os.Remove(scriptPath)
		return nil, errors.Wrap(err, errors.CodeModel, "failed to write worker script")
	}

	// The helper outlives any single request context.
	proc, err := cmdRunner.StartPipe(context.Background(), pythonPath, scriptPath)
	if err != nil {
		os.Remove(scriptPath)
		return nil, errors.Wrap(err, errors.CodeModel, "failed to start transcription worker")
	}

	e := &fasterWhisperEngine{
		logger:     logger,
		proc:       proc,
		scriptPath: scriptPath,
		respCh:     make(chan engineResponse, 64),
	}
	go e.readResponses()
	go e.drainStderr()
	return e, nil
}

// readResponses parses helper output lines until the process exits
func (e *fasterWhisperEngine) readResponses() {
	defer func() {
		e.dead.Store(true)
		close(e.respCh)
	}()

	scanner := bufio.NewScanner(e.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp engineResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			e.logger.Debugf("worker emitted unparseable line: %s", line)
			continue
		}
		select {
		case e.respCh <- resp:
		default:
			// A full buffer means no request is consuming; the backlog
			// is stale, so drop the oldest entry and keep reading.
			select {
			case <-e.respCh:
			default:
			}
			select {
			case e.respCh <- resp:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warnf("worker output closed: %v", err)
	}
}

// drainStderr forwards helper diagnostics to the debug log
func (e *fasterWhisperEngine) drainStderr() {
	scanner := bufio.NewScanner(e.proc.Stderr())
	for scanner.Scan() {
		e.logger.Debugf("worker: %s", scanner.Text())
	}
}

func (e *fasterWhisperEngine) send(req engineRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode worker request")
	}
	if _, err := e.proc.Stdin().Write(append(data, '\n')); err != nil {
		e.dead.Store(true)
		return errors.Wrap(err, errors.CodeExternal, "failed to send request to worker")
	}
	return nil
}

// LoadModel asks the helper to load the named model and waits for its
// acknowledgement or the context deadline.
func (e *fasterWhisperEngine) LoadModel(ctx context.Context, name string) error {
	if e.dead.Load() {
		return errors.New(errors.CodeModel, "transcription worker is not running")
	}

	e.nextID++
	id := e.nextID
	if err := e.send(engineRequest{Op: opLoadModel, ID: id, Model: name}); err != nil {
		return errors.Wrap(err, errors.CodeModel, fmt.Sprintf("failed to request load of model %q", name))
	}

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return errors.New(errors.CodeModel, fmt.Sprintf("loading model %q timed out", name))
			}
			return errors.New(errors.CodeCancelled, "model load cancelled")

		case resp, ok := <-e.respCh:
			if !ok {
				return errors.New(errors.CodeModel, "transcription worker exited during model load")
			}
			if resp.ID != id {
				e.logger.Debugf("ignoring stale worker response (id %d, type %s)", resp.ID, resp.Type)
				continue
			}
			switch resp.Type {
			case respModelLoaded:
				return nil
			case respError:
				return errors.New(errors.CodeModel, resp.Message)
			case respProgress:
				e.logger.Debugf("model load: %s", resp.Message)
			}
		}
	}
}

// Transcribe sends a transcription request and streams progress until the
// helper reports a result or an error. Cancelling the context posts a
// cancel message to the helper and returns immediately.
func (e *fasterWhisperEngine) Transcribe(ctx context.Context, wavPath string, opts ResolvedOptions, onProgress ProgressFunc) ([]Unit, error) {
	if e.dead.Load() {
		return nil, errors.New(errors.CodeTranscription, "transcription worker is not running")
	}

	e.nextID++
	id := e.nextID
	req := engineRequest{Op: opTranscribe, ID: id, Path: wavPath, Options: &opts}
	if err := e.send(req); err != nil {
		return nil, errors.Wrap(err, errors.CodeTranscription, "failed to send transcription request")
	}

	for {
		select {
		case <-ctx.Done():
			// Best effort: tell the helper to stop decoding. Its late
			// reply carries this request's id and is skipped as stale.
			if err := e.send(engineRequest{Op: opCancel, ID: id}); err != nil {
				e.logger.Debugf("cancel request not delivered: %v", err)
			}
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errors.New(errors.CodeTranscription, "transcription timed out")
			}
			return nil, errors.New(errors.CodeCancelled, "transcription cancelled")

		case resp, ok := <-e.respCh:
			if !ok {
				return nil, errors.New(errors.CodeTranscription, "transcription worker exited unexpectedly")
			}
			if resp.ID != id {
				e.logger.Debugf("ignoring stale worker response (id %d, type %s)", resp.ID, resp.Type)
				continue
			}
			switch resp.Type {
			case respProgress:
				if onProgress != nil {
					onProgress(resp.Stage, resp.Progress, resp.Message)
				}
			case respResult:
				return resp.Units, nil
			case respError:
				return nil, errors.New(errors.CodeTranscription, resp.Message)
			}
		}
	}
}

// Alive reports whether the helper process is still usable
func (e *fasterWhisperEngine) Alive() bool {
	return !e.dead.Load()
}

// Close shuts the helper down by closing its stdin and kills it if it
// does not exit within a short grace period.
func (e *fasterWhisperEngine) Close() error {
	e.dead.Store(true)
	e.proc.Stdin().Close()

	done := make(chan struct{})
	go func() {
		e.proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		e.proc.Kill()
		<-done
	}

	os.Remove(e.scriptPath)
	return nil
}
