package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/vid-scribe/internal/config"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/segment"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/video"
	"github.com/Taichi-iskw/vid-scribe/internal/service/whisper"
)

// NewTranscribeCmd creates and returns the transcribe command
func NewTranscribeCmd() *cobra.Command {
	transcribeCmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Run and manage transcription jobs",
		Long:  `Queue registered videos for transcription and follow their progress.`,
	}

	// Add subcommands
	transcribeCmd.AddCommand(newRunCmd(openSession))
	transcribeCmd.AddCommand(newEnqueueCmd(openSession))
	transcribeCmd.AddCommand(newStatusCmd())
	transcribeCmd.AddCommand(newCancelCmd())

	return transcribeCmd
}

// newRunCmd creates the transcribe run command
func newRunCmd(open opener) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [VIDEO_ID]",
		Short: "Transcribe one video end-to-end",
		Long: `Transcribe one registered video: extract its audio with ffmpeg, run
faster-whisper on the waveform and store the resulting segments.

The job queue lives inside this process, so the command exits once the
video is done. Press Ctrl-C to cancel; the video is reset to pending.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID := args[0]

			// Get flags
			priority, _ := cmd.Flags().GetInt("priority")
			modelName, _ := cmd.Flags().GetString("model")
			language, _ := cmd.Flags().GetString("language")
			diagnostics, _ := cmd.Flags().GetBool("diagnostics")

			// Reject an unknown model before any setup work
			if modelName != "" {
				if err := whisper.ValidateModel(modelName); err != nil {
					return err
				}
			}

			// Stop on Ctrl-C so the interrupted video is reset cleanly
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := open(ctx, overrides{
				model:       modelName,
				language:    language,
				diagnostics: diagnostics,
			})
			if err != nil {
				return err
			}
			defer s.close()

			// Subscribe before enqueueing so no event is missed
			eventCh, unsubscribe := s.bus.Subscribe(eventBuffer)
			defer unsubscribe()

			job, err := enqueueVideo(ctx, cmd, s, videoID, priority)
			if err != nil {
				return err
			}

			return watchJobs(ctx, cmd, s, eventCh, []string{job.ID})
		},
	}

	// Add flags
	runCmd.Flags().IntP("priority", "p", 0, "Queue priority (higher runs sooner)")
	runCmd.Flags().StringP("model", "m", "", "Whisper model preset: tiny, base, small, medium, large")
	runCmd.Flags().StringP("language", "l", "", "Language code for transcription (e.g. 'en', 'ja', 'auto')")
	runCmd.Flags().Bool("diagnostics", false, "Write a per-run diagnostics report")

	return runCmd
}

// newEnqueueCmd creates the transcribe enqueue command
func newEnqueueCmd(open opener) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue [VIDEO_ID...]",
		Short: "Queue several videos and process them in turn",
		Long: `Queue several registered videos and process them one at a time,
highest priority first. The queue lives inside this process, so the
command exits when every queued video is done.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Get flags
			priority, _ := cmd.Flags().GetInt("priority")

			// Stop on Ctrl-C so interrupted videos are reset cleanly
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := open(ctx, overrides{})
			if err != nil {
				return err
			}
			defer s.close()

			// Subscribe before enqueueing so no event is missed
			eventCh, unsubscribe := s.bus.Subscribe(eventBuffer)
			defer unsubscribe()

			jobIDs := make([]string, 0, len(args))
			for _, videoID := range args {
				job, err := enqueueVideo(ctx, cmd, s, videoID, priority)
				if err != nil {
					cmd.Printf("Skipping %s: %v\n", videoID, err)
					continue
				}
				jobIDs = append(jobIDs, job.ID)
			}
			if len(jobIDs) == 0 {
				return fmt.Errorf("no videos could be queued")
			}

			return watchJobs(ctx, cmd, s, eventCh, jobIDs)
		},
	}

	// Add flags
	enqueueCmd.Flags().IntP("priority", "p", 0, "Queue priority (higher runs sooner)")

	return enqueueCmd
}

// enqueueVideo looks a video up and adds a transcription job for it
func enqueueVideo(ctx context.Context, cmd *cobra.Command, s *session, videoID string, priority int) (*model.Job, error) {
	vid, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	job, err := s.queue.Enqueue(vid.ID, vid.Path, priority)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue video %s: %w", videoID, err)
	}

	cmd.Printf("Queued %s (job %s)\n", vid.Title, job.ID)
	return job, nil
}

// newStatusCmd creates the transcribe status command
func newStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show transcription status for registered videos",
		Long:  `Show the stored transcription status and segment count of each registered video.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Create context
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// Load database configuration
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}

			// Create database connection
			dbPool, err := config.NewDatabasePool(ctx, cfg)
			if err != nil {
				return err
			}
			defer dbPool.Close()

			// Create repositories
			videoRepo := video.NewRepository(dbPool)
			segmentRepo := segment.NewRepository(dbPool)

			// Get pagination flags
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			videos, err := videoRepo.List(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list videos: %w", err)
			}

			if len(videos) == 0 {
				fmt.Println("No videos registered. Use 'vidscribe video add [PATH]' to register one.")
				return nil
			}

			for _, v := range videos {
				count, err := segmentRepo.CountByVideoID(ctx, v.ID)
				if err != nil {
					return fmt.Errorf("failed to count segments for video %s: %w", v.ID, err)
				}

				fmt.Printf("%-36s  %-10s  %4d segment(s)  %s\n", v.ID, v.Status, count, v.Title)
				if v.ErrorMessage != nil {
					fmt.Printf("%-36s  error: %s\n", "", *v.ErrorMessage)
				}
			}

			return nil
		},
	}

	// Add pagination flags
	statusCmd.Flags().Int("limit", 50, "Maximum number of videos to show")
	statusCmd.Flags().Int("offset", 0, "Number of videos to skip")

	return statusCmd
}

// newCancelCmd creates the transcribe cancel command
func newCancelCmd() *cobra.Command {
	cancelCmd := &cobra.Command{
		Use:   "cancel [VIDEO_ID]",
		Short: "Reset a video stuck in processing",
		Long: `Reset a video stuck in processing back to pending and drop its partial
segments.

A live run is cancelled with Ctrl-C in the terminal running it; this
command cleans up when a crash left a video marked processing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID := args[0]

			// Create context
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// Load database configuration
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}

			// Create database connection
			dbPool, err := config.NewDatabasePool(ctx, cfg)
			if err != nil {
				return err
			}
			defer dbPool.Close()

			// Create repositories
			videoRepo := video.NewRepository(dbPool)
			segmentRepo := segment.NewRepository(dbPool)

			vid, err := videoRepo.GetByID(ctx, videoID)
			if err != nil {
				return fmt.Errorf("failed to get video: %w", err)
			}
			if vid.Status != model.VideoStatusProcessing {
				return fmt.Errorf("video %s is %s, only processing videos can be reset", videoID, vid.Status)
			}

			// Partial segments from the interrupted run go away too
			if err := segmentRepo.DeleteByVideoID(ctx, videoID); err != nil {
				return fmt.Errorf("failed to clear segments: %w", err)
			}
			if err := videoRepo.UpdateStatus(ctx, videoID, model.VideoStatusPending, nil); err != nil {
				return fmt.Errorf("failed to reset video: %w", err)
			}

			fmt.Printf("✅ Video %s reset to pending\n", videoID)
			return nil
		},
	}

	return cancelCmd
}
