package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vidscribe",
	Short: "Transcribe local video and audio files with Whisper",
	Long: `vid-scribe turns local video and audio files into timestamped transcripts.

Audio is extracted with ffmpeg, transcribed by a resident faster-whisper
model, cleaned up, and stored in PostgreSQL for later retrieval.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
