package cmd

import (
	"github.com/Taichi-iskw/vid-scribe/cmd/transcribe"
)

func init() {
	rootCmd.AddCommand(transcribe.NewTranscribeCmd())
}
