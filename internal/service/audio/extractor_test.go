package audio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/logging"
	"github.com/Taichi-iskw/vid-scribe/internal/service/common"
)

// mockCmdRunner for testing
type mockCmdRunner struct {
	mock.Mock
}

func (m *mockCmdRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	callArgs := m.Called(ctx, name, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).([]byte), callArgs.Error(1)
}

func (m *mockCmdRunner) Start(ctx context.Context, name string, args ...string) (common.Process, error) {
	callArgs := m.Called(ctx, name, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).(common.Process), callArgs.Error(1)
}

func (m *mockCmdRunner) StartPipe(ctx context.Context, name string, args ...string) (common.PipeProcess, error) {
	callArgs := m.Called(ctx, name, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).(common.PipeProcess), callArgs.Error(1)
}

// fakePipeProcess simulates a running ffmpeg process
type fakePipeProcess struct {
	stdout  string
	stderr  string
	waitErr error
	onWait  func()
}

func (p *fakePipeProcess) Wait() error {
	if p.onWait != nil {
		p.onWait()
	}
	return p.waitErr
}

func (p *fakePipeProcess) Kill() error                { return nil }
func (p *fakePipeProcess) Signal(sig os.Signal) error { return nil }
func (p *fakePipeProcess) Stdin() io.WriteCloser      { return nopWriteCloser{} }
func (p *fakePipeProcess) Stdout() io.ReadCloser      { return io.NopCloser(strings.NewReader(p.stdout)) }
func (p *fakePipeProcess) Stderr() io.ReadCloser      { return io.NopCloser(strings.NewReader(p.stderr)) }

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// plentyOfDisk reports free space no extraction will exceed
func plentyOfDisk(path string) (*disk.UsageStat, error) {
	return &disk.UsageStat{Free: 1 << 40}, nil
}

func newTestExtractor(runner common.CmdRunner) *extractor {
	return &extractor{
		cmdRunner: runner,
		logger:    logging.Discard(),
		diskUsage: plentyOfDisk,
	}
}

func TestExtractor_Probe(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		setup    func(runner *mockCmdRunner)
		want     float64
		wantErr  bool
		wantCode string
	}{
		{
			name: "successful probe",
			path: "/media/talk.mp4",
			setup: func(runner *mockCmdRunner) {
				runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
					Return([]byte("212.53\n"), nil)
			},
			want:    212.53,
			wantErr: false,
		},
		{
			name:     "empty path",
			path:     "",
			setup:    func(runner *mockCmdRunner) {},
			wantErr:  true,
			wantCode: apperrors.CodeValidation,
		},
		{
			name: "ffprobe failure",
			path: "/media/talk.mp4",
			setup: func(runner *mockCmdRunner) {
				runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
					Return(nil, assert.AnError)
			},
			wantErr:  true,
			wantCode: apperrors.CodeExtraction,
		},
		{
			name: "garbage output",
			path: "/media/talk.mp4",
			setup: func(runner *mockCmdRunner) {
				runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
					Return([]byte("N/A"), nil)
			},
			wantErr:  true,
			wantCode: apperrors.CodeExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(mockCmdRunner)
			tt.setup(runner)

			svc := newTestExtractor(runner)
			got, err := svc.Probe(context.Background(), tt.path)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			runner.AssertExpectations(t)
		})
	}
}

func TestExtractor_Extract(t *testing.T) {
	t.Run("successful extraction with progress", func(t *testing.T) {
		tempDir := t.TempDir()
		mediaPath := filepath.Join(tempDir, "input.mp4")
		require.NoError(t, os.WriteFile(mediaPath, []byte("fake media"), 0644))

		runner := new(mockCmdRunner)
		runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
			Return([]byte("10.0\n"), nil)

		// ffmpeg progress records for a 10 second input
		progressOutput := strings.Join([]string{
			"frame=1",
			"out_time_us=2500000",
			"progress=continue",
			"out_time_us=5000000",
			"progress=continue",
			"out_time_us=10000000",
			"progress=end",
		}, "\n")

		proc := &fakePipeProcess{stdout: progressOutput}
		runner.On("StartPipe", mock.Anything, "ffmpeg", mock.Anything).
			Run(func(args mock.Arguments) {
				// Last ffmpeg argument is the output path; create it so
				// the post-run check passes
				ffmpegArgs := args.Get(2).([]string)
				outPath := ffmpegArgs[len(ffmpegArgs)-1]
				proc.onWait = func() {
					_ = os.WriteFile(outPath, []byte("RIFFfakewavdata"), 0644)
				}
			}).
			Return(proc, nil)

		svc := newTestExtractor(runner)

		var fractions []float64
		outPath, err := svc.Extract(context.Background(), mediaPath, tempDir, func(f float64) {
			fractions = append(fractions, f)
		})

		require.NoError(t, err)
		assert.FileExists(t, outPath)
		assert.True(t, strings.HasSuffix(outPath, ".wav"))

		// 0.25, 0.5, 1.0 from progress records plus the final 1.0
		require.NotEmpty(t, fractions)
		assert.InDelta(t, 0.25, fractions[0], 1e-9)
		assert.Equal(t, 1.0, fractions[len(fractions)-1])

		// Fractions never regress
		for i := 1; i < len(fractions); i++ {
			assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
		}

		runner.AssertExpectations(t)
	})

	t.Run("missing media file", func(t *testing.T) {
		runner := new(mockCmdRunner)
		svc := newTestExtractor(runner)

		_, err := svc.Extract(context.Background(), "/nonexistent/file.mp4", t.TempDir(), nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("empty media path", func(t *testing.T) {
		runner := new(mockCmdRunner)
		svc := newTestExtractor(runner)

		_, err := svc.Extract(context.Background(), "", t.TempDir(), nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("ffmpeg failure includes stderr tail", func(t *testing.T) {
		tempDir := t.TempDir()
		mediaPath := filepath.Join(tempDir, "input.mp4")
		require.NoError(t, os.WriteFile(mediaPath, []byte("fake media"), 0644))

		runner := new(mockCmdRunner)
		runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
			Return([]byte("10.0\n"), nil)
		runner.On("StartPipe", mock.Anything, "ffmpeg", mock.Anything).
			Return(&fakePipeProcess{
				stderr:  "Invalid data found when processing input",
				waitErr: assert.AnError,
			}, nil)

		svc := newTestExtractor(runner)
		_, err := svc.Extract(context.Background(), mediaPath, tempDir, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeExtraction, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "Invalid data found")
	})

	t.Run("empty output file", func(t *testing.T) {
		tempDir := t.TempDir()
		mediaPath := filepath.Join(tempDir, "input.mp4")
		require.NoError(t, os.WriteFile(mediaPath, []byte("fake media"), 0644))

		runner := new(mockCmdRunner)
		runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
			Return([]byte("10.0\n"), nil)

		proc := &fakePipeProcess{}
		runner.On("StartPipe", mock.Anything, "ffmpeg", mock.Anything).
			Run(func(args mock.Arguments) {
				ffmpegArgs := args.Get(2).([]string)
				outPath := ffmpegArgs[len(ffmpegArgs)-1]
				proc.onWait = func() {
					_ = os.WriteFile(outPath, nil, 0644)
				}
			}).
			Return(proc, nil)

		svc := newTestExtractor(runner)
		_, err := svc.Extract(context.Background(), mediaPath, tempDir, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeExtraction, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("cancellation surfaces as cancelled", func(t *testing.T) {
		tempDir := t.TempDir()
		mediaPath := filepath.Join(tempDir, "input.mp4")
		require.NoError(t, os.WriteFile(mediaPath, []byte("fake media"), 0644))

		ctx, cancel := context.WithCancel(context.Background())

		runner := new(mockCmdRunner)
		runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
			Return([]byte("10.0\n"), nil)
		runner.On("StartPipe", mock.Anything, "ffmpeg", mock.Anything).
			Return(&fakePipeProcess{
				onWait:  cancel,
				waitErr: assert.AnError,
			}, nil)

		svc := newTestExtractor(runner)
		_, err := svc.Extract(ctx, mediaPath, tempDir, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeCancelled, apperrors.CodeOf(err))
		assert.True(t, apperrors.IsCancelled(err))
	})

	t.Run("insufficient disk space", func(t *testing.T) {
		tempDir := t.TempDir()
		mediaPath := filepath.Join(tempDir, "input.mp4")
		require.NoError(t, os.WriteFile(mediaPath, []byte("fake media"), 0644))

		runner := new(mockCmdRunner)
		runner.On("Run", mock.Anything, "ffprobe", mock.Anything).
			Return([]byte("3600.0\n"), nil)

		svc := &extractor{
			cmdRunner: runner,
			logger:    logging.Discard(),
			diskUsage: func(path string) (*disk.UsageStat, error) {
				return &disk.UsageStat{Free: 1024}, nil
			},
		}

		_, err := svc.Extract(context.Background(), mediaPath, tempDir, nil)

		require.Error(t, err)
		assert.Equal(t, apperrors.CodeExtraction, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "insufficient disk space")
	})
}

func TestExtractor_Cleanup(t *testing.T) {
	tempDir := t.TempDir()
	wavPath := filepath.Join(tempDir, "audio.wav")
	require.NoError(t, os.WriteFile(wavPath, []byte("RIFF"), 0644))

	svc := newTestExtractor(new(mockCmdRunner))

	require.NoError(t, svc.Cleanup(wavPath))
	assert.NoFileExists(t, wavPath)

	// Removing twice is fine
	require.NoError(t, svc.Cleanup(wavPath))
	// Empty path is a no-op
	require.NoError(t, svc.Cleanup(""))
}

func TestParseOutTime(t *testing.T) {
	tests := []struct {
		line string
		want int64
		ok   bool
	}{
		{"out_time_us=2500000", 2500000, true},
		{"out_time_us=0", 0, true},
		{"out_time_ms=2500", 0, false},
		{"progress=continue", 0, false},
		{"out_time_us=-5", 0, false},
		{"out_time_us=abc", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseOutTime(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if ok {
			assert.Equal(t, tt.want, got, tt.line)
		}
	}
}
