package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/vid-scribe/internal/config"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/segment"
	"github.com/Taichi-iskw/vid-scribe/internal/repository/video"
)

// videoCmd represents the video command
var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Manage registered media files",
	Long:  `Register, inspect and remove local video or audio files.`,
}

// videoAddCmd registers a local media file for transcription
var videoAddCmd = &cobra.Command{
	Use:   "add [PATH]",
	Short: "Register a local media file",
	Long:  `Register a local video or audio file so it can be transcribed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		// Resolve and validate the media path before touching the database
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("cannot access %s: %w", absPath, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, not a media file", absPath)
		}

		// Create service with timeout context
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Load configuration
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Create database connection
		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		// Create repository
		videoRepo := video.NewRepository(dbPool)

		// Default the title to the file name without its extension
		title, _ := cmd.Flags().GetString("title")
		if title == "" {
			base := filepath.Base(absPath)
			title = strings.TrimSuffix(base, filepath.Ext(base))
		}

		vid := &model.Video{
			ID:     uuid.NewString(),
			Path:   absPath,
			Title:  title,
			Status: model.VideoStatusPending,
		}
		if err := videoRepo.Create(ctx, vid); err != nil {
			return fmt.Errorf("failed to register video: %w", err)
		}

		fmt.Printf("✅ Registered %s\n", absPath)
		fmt.Printf("Video ID: %s\n", vid.ID)
		return nil
	},
}

// videoListCmd lists registered videos
var videoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered videos",
	Long:  `List registered videos with their transcription status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Create service with timeout context
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Load configuration
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Create database connection
		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		// Create repository
		videoRepo := video.NewRepository(dbPool)

		// Get pagination flags
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		videos, err := videoRepo.List(ctx, limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list videos: %w", err)
		}

		// Check if no videos found
		if len(videos) == 0 {
			fmt.Println("No videos registered. Use 'vidscribe video add [PATH]' to register one.")
			return nil
		}

		// Display results
		fmt.Printf("Found %d video(s):\n\n", len(videos))
		for _, v := range videos {
			fmt.Printf("ID: %s\n", v.ID)
			fmt.Printf("Title: %s\n", v.Title)
			fmt.Printf("Path: %s\n", v.Path)
			fmt.Printf("Status: %s\n", v.Status)
			if v.Duration > 0 {
				fmt.Printf("Duration: %.1fs\n", v.Duration)
			}
			if v.ErrorMessage != nil {
				fmt.Printf("Error: %s\n", *v.ErrorMessage)
			}
			fmt.Println("---")
		}

		return nil
	},
}

// videoShowCmd shows a video and its transcript
var videoShowCmd = &cobra.Command{
	Use:   "show [VIDEO_ID]",
	Short: "Show a video and its transcript",
	Long:  `Display a registered video and its transcription segments.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]

		// Create service with timeout context
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Load configuration
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Create database connection
		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		// Create repositories
		videoRepo := video.NewRepository(dbPool)
		segmentRepo := segment.NewRepository(dbPool)

		vid, err := videoRepo.GetByID(ctx, videoID)
		if err != nil {
			return fmt.Errorf("failed to get video: %w", err)
		}

		segments, err := segmentRepo.GetByVideoID(ctx, videoID)
		if err != nil {
			return fmt.Errorf("failed to get segments: %w", err)
		}

		// Check format flag
		format, _ := cmd.Flags().GetString("format")

		switch format {
		case "json":
			// Output as JSON
			result := map[string]interface{}{
				"video":    vid,
				"segments": segments,
			}
			jsonData, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format JSON: %w", err)
			}
			fmt.Println(string(jsonData))

		case "srt":
			// Output as SRT format
			fmt.Print(formatAsSRT(segments))

		default:
			// Default text format
			fmt.Printf("Video ID: %s\n", vid.ID)
			fmt.Printf("Title: %s\n", vid.Title)
			fmt.Printf("Path: %s\n", vid.Path)
			fmt.Printf("Status: %s\n", vid.Status)
			if vid.Duration > 0 {
				fmt.Printf("Duration: %.1fs\n", vid.Duration)
			}
			if vid.ErrorMessage != nil {
				fmt.Printf("Error: %s\n", *vid.ErrorMessage)
			}

			fmt.Printf("\n--- Segments (%d) ---\n", len(segments))
			for _, seg := range segments {
				fmt.Printf("[%.2fs -> %.2fs] %s\n", seg.Start, seg.End, seg.Text)
			}
		}

		return nil
	},
}

// videoRemoveCmd removes a video and its transcript
var videoRemoveCmd = &cobra.Command{
	Use:   "remove [VIDEO_ID]",
	Short: "Remove a video and its transcript",
	Long:  `Remove a registered video and all its transcription segments. The media file itself is not touched.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]

		// Create service with timeout context
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Load configuration
		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Create database connection
		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		// Create repository
		videoRepo := video.NewRepository(dbPool)

		// Confirm deletion
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			fmt.Printf("Are you sure you want to remove video %s? Use --confirm flag to proceed.\n", videoID)
			return nil
		}

		// Segments are removed by the foreign key cascade
		if err := videoRepo.Delete(ctx, videoID); err != nil {
			return fmt.Errorf("failed to remove video: %w", err)
		}

		fmt.Printf("✅ Video %s removed successfully!\n", videoID)
		return nil
	},
}

// formatAsSRT formats transcription segments as SRT subtitle format
func formatAsSRT(segments []*model.Segment) string {
	var result strings.Builder

	for i, seg := range segments {
		// SRT format: sequence number, timestamp, text, blank line
		result.WriteString(fmt.Sprintf("%d\n", i+1))
		result.WriteString(fmt.Sprintf("%s --> %s\n",
			formatSecondsToSRTTime(seg.Start),
			formatSecondsToSRTTime(seg.End)))
		result.WriteString(fmt.Sprintf("%s\n\n", seg.Text))
	}

	return result.String()
}

// formatSecondsToSRTTime converts seconds (float64) to SRT timestamp format
func formatSecondsToSRTTime(seconds float64) string {
	totalSeconds := int(seconds)
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	secs := totalSeconds % 60
	milliseconds := int((seconds - float64(totalSeconds)) * 1000)

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, milliseconds)
}

func init() {
	// Add title flag to add command
	videoAddCmd.Flags().String("title", "", "Display title (defaults to the file name)")

	// Add pagination flags to list command
	videoListCmd.Flags().Int("limit", 20, "Maximum number of videos to retrieve")
	videoListCmd.Flags().Int("offset", 0, "Number of videos to skip")

	// Add format flag to show command
	videoShowCmd.Flags().String("format", "text", "Output format: text, json, srt")

	// Add confirm flag to remove command
	videoRemoveCmd.Flags().Bool("confirm", false, "Confirm removal without prompt")

	videoCmd.AddCommand(videoAddCmd)
	videoCmd.AddCommand(videoListCmd)
	videoCmd.AddCommand(videoShowCmd)
	videoCmd.AddCommand(videoRemoveCmd)
	rootCmd.AddCommand(videoCmd)
}
