//go:build integration

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Taichi-iskw/vid-scribe/internal/logging"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/common"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/segment"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/video"
	"github.com/Taichi-iskw/vid-scribe/internal/service/audio"
	"github.com/Taichi-iskw/vid-scribe/internal/service/events"
	"github.com/Taichi-iskw/vid-scribe/internal/service/queue"
	"github.com/Taichi-iskw/vid-scribe/internal/service/whisper"
)

// stubExtractor writes a placeholder waveform instead of running ffmpeg
type stubExtractor struct{}

func (s *stubExtractor) Probe(ctx context.Context, mediaPath string) (float64, error) {
	return 42.5, nil
}

func (s *stubExtractor) Extract(ctx context.Context, mediaPath string, outputDir string, onProgress audio.ProgressFunc) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	wavPath := filepath.Join(outputDir, "audio.wav")
	if err := os.WriteFile(wavPath, []byte("fake waveform"), 0644); err != nil {
		return "", err
	}
	if onProgress != nil {
		onProgress(1.0)
	}
	return wavPath, nil
}

func (s *stubExtractor) Cleanup(wavPath string) error {
	if wavPath == "" {
		return nil
	}
	err := os.Remove(wavPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// nopModelBridge supplies the model lifecycle methods shared by the
// bridge stubs below
type nopModelBridge struct{}

func (nopModelBridge) EnsureModel(ctx context.Context) error            { return nil }
func (nopModelBridge) LoadModel(ctx context.Context, name string) error { return nil }
func (nopModelBridge) Close() error                                     { return nil }

// fixedBridge returns a canned transcription result
type fixedBridge struct {
	nopModelBridge
	result whisper.Result
}

func (b *fixedBridge) Transcribe(ctx context.Context, wavPath string, opts whisper.Options, onProgress whisper.ProgressFunc) (*whisper.Result, error) {
	if onProgress != nil {
		onProgress("transcribing", 1.0, "42.5s")
	}
	result := b.result
	return &result, nil
}

// blockingBridge signals when transcription starts and then waits for
// cancellation
type blockingBridge struct {
	nopModelBridge
	started chan struct{}
}

func (b *blockingBridge) Transcribe(ctx context.Context, wavPath string, opts whisper.Options, onProgress whisper.ProgressFunc) (*whisper.Result, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Start PostgreSQL container
	ctx := context.Background()
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("vidscribe_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get connection details
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Apply schema migrations
	require.NoError(t, common.RunMigrations(connStr))

	// Create database connection
	dbPool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer dbPool.Close()

	// Create repositories
	videoRepo := video.NewRepository(dbPool)
	segmentRepo := segment.NewRepository(dbPool)

	// newPipeline assembles a queue around the given bridge stub and
	// subscribes to its events
	newPipeline := func(bridge whisper.Bridge, workDir string) (queue.Queue, <-chan events.Event, func()) {
		logger := logging.Discard()
		orch := NewOrchestrator(Config{WorkDir: workDir}, videoRepo, segmentRepo, &stubExtractor{}, bridge, logger)
		bus := events.NewBus(64)
		q := queue.NewQueueWithYield(orch, bus, logger, time.Millisecond)
		eventCh, unsubscribe := bus.Subscribe(64)
		cleanup := func() {
			q.Close()
			unsubscribe()
		}
		return q, eventCh, cleanup
	}

	waitForTerminal := func(t *testing.T, eventCh <-chan events.Event, jobID string) events.Event {
		t.Helper()
		deadline := time.After(15 * time.Second)
		for {
			select {
			case event, ok := <-eventCh:
				require.True(t, ok, "event channel closed")
				if event.JobID != jobID {
					continue
				}
				switch event.Type {
				case events.TypeCompleted, events.TypeFailed, events.TypeCancelled:
					return event
				}
			case <-deadline:
				t.Fatalf("timed out waiting for job %s", jobID)
			}
		}
	}

	t.Run("completed run stores segments and marks the video completed", func(t *testing.T) {
		testVideo := &model.Video{
			ID:     "vid-int-1",
			Path:   "/media/int-1.mp4",
			Title:  "first",
			Status: model.VideoStatusPending,
		}
		require.NoError(t, videoRepo.Create(ctx, testVideo))

		bridge := &fixedBridge{
			result: whisper.Result{
				Segments: []model.Segment{
					{Start: 0, End: 2, Text: "hello there", Confidence: 0.9},
					{Start: 2, End: 4, Text: "general remarks", Confidence: 0.8},
				},
				Diagnostics: model.RunDiagnostics{RawCount: 2, FinalCount: 2},
			},
		}
		q, eventCh, cleanup := newPipeline(bridge, t.TempDir())
		defer cleanup()

		job, err := q.Enqueue(testVideo.ID, testVideo.Path, 0)
		require.NoError(t, err)

		event := waitForTerminal(t, eventCh, job.ID)
		assert.Equal(t, events.TypeCompleted, event.Type)

		stored, err := videoRepo.GetByID(ctx, testVideo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.VideoStatusCompleted, stored.Status)
		assert.InDelta(t, 42.5, stored.Duration, 0.001)
		assert.Nil(t, stored.ErrorMessage)

		segments, err := segmentRepo.GetByVideoID(ctx, testVideo.ID)
		require.NoError(t, err)
		require.Len(t, segments, 2)
		assert.Equal(t, "hello there", segments[0].Text)
		assert.Equal(t, "general remarks", segments[1].Text)
	})

	t.Run("re-transcription replaces the stored segments", func(t *testing.T) {
		testVideo := &model.Video{
			ID:     "vid-int-2",
			Path:   "/media/int-2.mp4",
			Title:  "second",
			Status: model.VideoStatusPending,
		}
		require.NoError(t, videoRepo.Create(ctx, testVideo))

		firstBridge := &fixedBridge{
			result: whisper.Result{
				Segments: []model.Segment{
					{Start: 0, End: 2, Text: "first take", Confidence: 0.9},
					{Start: 2, End: 4, Text: "still the first take", Confidence: 0.9},
				},
			},
		}
		q1, eventCh1, cleanup1 := newPipeline(firstBridge, t.TempDir())
		job1, err := q1.Enqueue(testVideo.ID, testVideo.Path, 0)
		require.NoError(t, err)
		assert.Equal(t, events.TypeCompleted, waitForTerminal(t, eventCh1, job1.ID).Type)
		cleanup1()

		secondBridge := &fixedBridge{
			result: whisper.Result{
				Segments: []model.Segment{
					{Start: 0, End: 3, Text: "second take", Confidence: 0.95},
				},
			},
		}
		q2, eventCh2, cleanup2 := newPipeline(secondBridge, t.TempDir())
		defer cleanup2()
		job2, err := q2.Enqueue(testVideo.ID, testVideo.Path, 0)
		require.NoError(t, err)
		assert.Equal(t, events.TypeCompleted, waitForTerminal(t, eventCh2, job2.ID).Type)

		segments, err := segmentRepo.GetByVideoID(ctx, testVideo.ID)
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Equal(t, "second take", segments[0].Text)
	})

	t.Run("cancelling an active job resets the video", func(t *testing.T) {
		testVideo := &model.Video{
			ID:     "vid-int-3",
			Path:   "/media/int-3.mp4",
			Title:  "third",
			Status: model.VideoStatusPending,
		}
		require.NoError(t, videoRepo.Create(ctx, testVideo))

		workDir := t.TempDir()
		bridge := &blockingBridge{started: make(chan struct{})}
		q, eventCh, cleanup := newPipeline(bridge, workDir)
		defer cleanup()

		job, err := q.Enqueue(testVideo.ID, testVideo.Path, 0)
		require.NoError(t, err)

		select {
		case <-bridge.started:
		case <-time.After(15 * time.Second):
			t.Fatal("transcription never started")
		}
		require.NoError(t, q.Cancel(job.ID))

		event := waitForTerminal(t, eventCh, job.ID)
		assert.Equal(t, events.TypeCancelled, event.Type)

		stored, err := videoRepo.GetByID(ctx, testVideo.ID)
		require.NoError(t, err)
		assert.Equal(t, model.VideoStatusPending, stored.Status)
		assert.Nil(t, stored.ErrorMessage)

		segments, err := segmentRepo.GetByVideoID(ctx, testVideo.ID)
		require.NoError(t, err)
		assert.Empty(t, segments)

		// The interrupted run leaves no waveform behind
		assert.NoFileExists(t, filepath.Join(workDir, "audio.wav"))
	})
}
