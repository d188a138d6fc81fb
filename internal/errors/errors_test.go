package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  New(CodeNotFound, "video not found"),
			want: "NOT_FOUND: video not found",
		},
		{
			name: "with cause",
			err:  Wrap(stderrors.New("connection refused"), CodeInternal, "query failed"),
			want: "INTERNAL_ERROR: query failed (caused by: connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, CodeStorage, "segment insert failed")

	assert.True(t, stderrors.Is(err, cause))

	var appErr *AppError
	require.True(t, stderrors.As(fmt.Errorf("save: %w", err), &appErr))
	assert.Equal(t, CodeStorage, appErr.Code)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error has no code",
			err:  nil,
			want: "",
		},
		{
			name: "direct app error",
			err:  New(CodeExtraction, "no audio stream"),
			want: CodeExtraction,
		},
		{
			name: "app error wrapped by fmt.Errorf",
			err:  fmt.Errorf("stage failed: %w", New(CodeModel, "load timed out")),
			want: CodeModel,
		},
		{
			name: "nested app errors report the outermost code",
			err:  Wrap(New(CodeExternal, "ffmpeg exited"), CodeExtraction, "transcode failed"),
			want: CodeExtraction,
		},
		{
			name: "plain error falls back to internal",
			err:  stderrors.New("something broke"),
			want: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCancelled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "cancelled app error",
			err:  New(CodeCancelled, "job cancelled"),
			want: true,
		},
		{
			name: "cancelled error wrapped by fmt.Errorf",
			err:  fmt.Errorf("run: %w", Wrap(context.Canceled, CodeCancelled, "job cancelled")),
			want: true,
		},
		{
			name: "other app error",
			err:  New(CodeTranscription, "worker crashed"),
			want: false,
		},
		{
			name: "bare context.Canceled is not an app cancellation",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCancelled(tt.err))
		})
	}
}
