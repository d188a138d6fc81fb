package common

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Process represents a running process
type Process interface {
	Wait() error
	Kill() error
	Signal(sig os.Signal) error
}

// PipeProcess is a started process with attached standard streams
type PipeProcess interface {
	Process
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
}

// CmdRunner is interface for executing external commands
type CmdRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(ctx context.Context, name string, args ...string) (Process, error)
	StartPipe(ctx context.Context, name string, args ...string) (PipeProcess, error)
}

// realCmdRunner implements CmdRunner using os/exec
type realCmdRunner struct{}

// NewCmdRunner creates a new CmdRunner
func NewCmdRunner() CmdRunner {
	return &realCmdRunner{}
}

// processWrapper wraps exec.Cmd to implement Process interface
type processWrapper struct {
	cmd *exec.Cmd
}

func (p *processWrapper) Wait() error {
	return p.cmd.Wait()
}

func (p *processWrapper) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *processWrapper) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// pipeProcessWrapper wraps exec.Cmd with its standard streams attached
type pipeProcessWrapper struct {
	processWrapper
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *pipeProcessWrapper) Stdin() io.WriteCloser { return p.stdin }
func (p *pipeProcessWrapper) Stdout() io.ReadCloser { return p.stdout }
func (p *pipeProcessWrapper) Stderr() io.ReadCloser { return p.stderr }

// Run executes external command with given arguments
func (r *realCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// Start starts external command and returns Process for management
func (r *realCmdRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processWrapper{cmd: cmd}, nil
}

// StartPipe starts external command with stdin/stdout/stderr pipes attached.
// The caller owns the process lifetime and must Wait or Kill it.
func (r *realCmdRunner) StartPipe(ctx context.Context, name string, args ...string) (PipeProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &pipeProcessWrapper{
		processWrapper: processWrapper{cmd: cmd},
		stdin:          stdin,
		stdout:         stdout,
		stderr:         stderr,
	}, nil
}
